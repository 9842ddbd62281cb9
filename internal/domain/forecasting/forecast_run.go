package forecasting

import (
	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ForecastRunAudit records one execution of the upstream forecasting
// model for a product. Consensus records reference the run that seeded
// their baseline; the run's prediction points back the variance views.
type ForecastRunAudit struct {
	shared.BaseAggregateRoot
	ProductID      uuid.UUID  `json:"product_id"`
	RequestedModel string     `json:"requested_model"`
	SelectedModel  string     `json:"selected_model"`
	Horizon        int        `json:"horizon"` // number of forecast months produced
	FallbackUsed   bool       `json:"fallback_used"`
	RecordsCreated int        `json:"records_created"`
	TriggeredBy    *uuid.UUID `json:"triggered_by"`

	// Points are the prediction points produced by this run, loaded on
	// demand by the repository.
	Points []PredictionPoint `json:"points,omitempty"`
}

// NewForecastRunAudit creates a run audit entry
func NewForecastRunAudit(productID uuid.UUID, selectedModel string, horizon int) (*ForecastRunAudit, error) {
	if productID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product ID cannot be empty")
	}
	if selectedModel == "" {
		return nil, shared.NewDomainError("INVALID_MODEL", "Selected model cannot be empty")
	}
	if horizon <= 0 {
		return nil, shared.NewDomainError("INVALID_HORIZON", "Horizon must be positive")
	}

	return &ForecastRunAudit{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ProductID:         productID,
		SelectedModel:     selectedModel,
		Horizon:           horizon,
	}, nil
}

// AddPoint appends a prediction point produced by this run
func (r *ForecastRunAudit) AddPoint(point PredictionPoint) {
	id := r.ID
	point.RunAuditID = &id
	point.Period = NormalizePeriod(point.Period)
	r.Points = append(r.Points, point)
	r.RecordsCreated = len(r.Points)
}
