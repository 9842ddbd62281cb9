package models

import (
	"time"

	"github.com/sop/backend/internal/domain/forecasting"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForecastConsensusModel is the persistence model for forecast consensus
// records. The version column carries the business revision number; a
// unique index on (product_id, period, version) backs concurrent
// version allocation.
type ForecastConsensusModel struct {
	AggregateModel
	ForecastRunAuditID   *uuid.UUID       `gorm:"type:uuid;index"`
	ProductID            uuid.UUID        `gorm:"type:uuid;not null;index:idx_consensus_product_period_version,unique,priority:1"`
	Period               time.Time        `gorm:"type:date;not null;index:idx_consensus_product_period_version,unique,priority:2"`
	BaselineQty          decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	SalesOverrideQty     decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0"`
	MarketingUpliftQty   decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0"`
	FinanceAdjustmentQty decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0"`
	ConstraintCapQty     *decimal.Decimal `gorm:"type:decimal(12,2)"`
	PreConsensusQty      decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	FinalConsensusQty    decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	Status               string           `gorm:"type:varchar(20);not null;default:'draft';index"`
	Notes                string           `gorm:"type:text"`
	Version              int              `gorm:"not null;index:idx_consensus_product_period_version,unique,priority:3"`
	CreatedBy            *uuid.UUID       `gorm:"type:uuid"`
	ApprovedBy           *uuid.UUID       `gorm:"type:uuid"`
	ApprovedAt           *time.Time
}

// TableName returns the table name for ForecastConsensusModel
func (ForecastConsensusModel) TableName() string {
	return "forecast_consensus"
}

// ToDomain converts ForecastConsensusModel to domain ForecastConsensus
func (m *ForecastConsensusModel) ToDomain() *forecasting.ForecastConsensus {
	return &forecasting.ForecastConsensus{
		BaseAggregateRoot:    m.ToDomainAggregateRoot(),
		ForecastRunAuditID:   m.ForecastRunAuditID,
		ProductID:            m.ProductID,
		Period:               m.Period,
		BaselineQty:          m.BaselineQty,
		SalesOverrideQty:     m.SalesOverrideQty,
		MarketingUpliftQty:   m.MarketingUpliftQty,
		FinanceAdjustmentQty: m.FinanceAdjustmentQty,
		ConstraintCapQty:     m.ConstraintCapQty,
		PreConsensusQty:      m.PreConsensusQty,
		FinalConsensusQty:    m.FinalConsensusQty,
		Status:               forecasting.ConsensusStatus(m.Status),
		Notes:                m.Notes,
		Version:              m.Version,
		CreatedBy:            m.CreatedBy,
		ApprovedBy:           m.ApprovedBy,
		ApprovedAt:           m.ApprovedAt,
	}
}

// ForecastConsensusModelFromDomain creates a persistence model from a
// domain ForecastConsensus
func ForecastConsensusModelFromDomain(c *forecasting.ForecastConsensus) *ForecastConsensusModel {
	m := &ForecastConsensusModel{
		ForecastRunAuditID:   c.ForecastRunAuditID,
		ProductID:            c.ProductID,
		Period:               c.Period,
		BaselineQty:          c.BaselineQty,
		SalesOverrideQty:     c.SalesOverrideQty,
		MarketingUpliftQty:   c.MarketingUpliftQty,
		FinanceAdjustmentQty: c.FinanceAdjustmentQty,
		ConstraintCapQty:     c.ConstraintCapQty,
		PreConsensusQty:      c.PreConsensusQty,
		FinalConsensusQty:    c.FinalConsensusQty,
		Status:               c.Status.String(),
		Notes:                c.Notes,
		Version:              c.Version,
		CreatedBy:            c.CreatedBy,
		ApprovedBy:           c.ApprovedBy,
		ApprovedAt:           c.ApprovedAt,
	}
	m.FromDomainAggregateRoot(c.BaseAggregateRoot)
	return m
}

// ForecastRunAuditModel is the persistence model for forecast run audits
type ForecastRunAuditModel struct {
	AggregateModel
	ProductID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	RequestedModel string     `gorm:"type:varchar(50)"`
	SelectedModel  string     `gorm:"type:varchar(50);not null"`
	Horizon        int        `gorm:"not null"`
	FallbackUsed   bool       `gorm:"not null;default:false;index"`
	RecordsCreated int        `gorm:"not null;default:0"`
	TriggeredBy    *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for ForecastRunAuditModel
func (ForecastRunAuditModel) TableName() string {
	return "forecast_run_audits"
}

// ToDomain converts ForecastRunAuditModel to domain ForecastRunAudit
func (m *ForecastRunAuditModel) ToDomain() *forecasting.ForecastRunAudit {
	return &forecasting.ForecastRunAudit{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		ProductID:         m.ProductID,
		RequestedModel:    m.RequestedModel,
		SelectedModel:     m.SelectedModel,
		Horizon:           m.Horizon,
		FallbackUsed:      m.FallbackUsed,
		RecordsCreated:    m.RecordsCreated,
		TriggeredBy:       m.TriggeredBy,
	}
}

// ForecastRunAuditModelFromDomain creates a persistence model from a
// domain ForecastRunAudit
func ForecastRunAuditModelFromDomain(run *forecasting.ForecastRunAudit) *ForecastRunAuditModel {
	m := &ForecastRunAuditModel{
		ProductID:      run.ProductID,
		RequestedModel: run.RequestedModel,
		SelectedModel:  run.SelectedModel,
		Horizon:        run.Horizon,
		FallbackUsed:   run.FallbackUsed,
		RecordsCreated: run.RecordsCreated,
		TriggeredBy:    run.TriggeredBy,
	}
	m.FromDomainAggregateRoot(run.BaseAggregateRoot)
	return m
}

// PredictionPointModel is the persistence model for one prediction point
// produced by a forecast run
type PredictionPointModel struct {
	BaseModel
	RunAuditID   *uuid.UUID      `gorm:"type:uuid;index"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null;index:idx_prediction_product_period,priority:1"`
	Period       time.Time       `gorm:"type:date;not null;index:idx_prediction_product_period,priority:2"`
	PredictedQty decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

// TableName returns the table name for PredictionPointModel
func (PredictionPointModel) TableName() string {
	return "forecast_predictions"
}

// ToDomain converts PredictionPointModel to a domain PredictionPoint
func (m *PredictionPointModel) ToDomain() forecasting.PredictionPoint {
	return forecasting.PredictionPoint{
		ProductID:    m.ProductID,
		Period:       m.Period,
		PredictedQty: m.PredictedQty,
		RunAuditID:   m.RunAuditID,
	}
}

// PredictionPointModelFromDomain creates a persistence model from a
// domain PredictionPoint
func PredictionPointModelFromDomain(p forecasting.PredictionPoint) *PredictionPointModel {
	return &PredictionPointModel{
		BaseModel: BaseModel{
			ID:        uuid.New(),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
		RunAuditID:   p.RunAuditID,
		ProductID:    p.ProductID,
		Period:       p.Period,
		PredictedQty: p.PredictedQty,
	}
}
