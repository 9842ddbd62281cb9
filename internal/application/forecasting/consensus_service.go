package forecasting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sop/backend/internal/domain/forecasting"
	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// periodLayout is the wire format for consensus periods
const periodLayout = "2006-01-02"

// createVersionRetries bounds how often a create is retried when two
// callers race on allocating the same (product, period) version.
const createVersionRetries = 3

// ConsensusService provides application-level consensus operations
type ConsensusService struct {
	consensusRepo forecasting.ConsensusRepository
	runRepo       forecasting.ForecastRunRepository
}

// NewConsensusService creates a new ConsensusService
func NewConsensusService(
	consensusRepo forecasting.ConsensusRepository,
	runRepo forecasting.ForecastRunRepository,
) *ConsensusService {
	return &ConsensusService{
		consensusRepo: consensusRepo,
		runRepo:       runRepo,
	}
}

// ConsensusResponse represents a consensus record in API responses
type ConsensusResponse struct {
	ID                   uuid.UUID        `json:"id"`
	ForecastRunAuditID   *uuid.UUID       `json:"forecast_run_audit_id,omitempty"`
	ProductID            uuid.UUID        `json:"product_id"`
	Period               string           `json:"period"`
	BaselineQty          decimal.Decimal  `json:"baseline_qty"`
	SalesOverrideQty     decimal.Decimal  `json:"sales_override_qty"`
	MarketingUpliftQty   decimal.Decimal  `json:"marketing_uplift_qty"`
	FinanceAdjustmentQty decimal.Decimal  `json:"finance_adjustment_qty"`
	ConstraintCapQty     *decimal.Decimal `json:"constraint_cap_qty,omitempty"`
	PreConsensusQty      decimal.Decimal  `json:"pre_consensus_qty"`
	FinalConsensusQty    decimal.Decimal  `json:"final_consensus_qty"`
	Status               string           `json:"status"`
	Notes                string           `json:"notes,omitempty"`
	Version              int              `json:"version"`
	CreatedBy            *uuid.UUID       `json:"created_by,omitempty"`
	ApprovedBy           *uuid.UUID       `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time       `json:"approved_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// CreateConsensusRequest represents a request to create a consensus record.
// The derived quantities are intentionally absent; they are always
// computed server-side.
type CreateConsensusRequest struct {
	ForecastRunAuditID   uuid.UUID        `json:"forecast_run_audit_id" binding:"required"`
	ProductID            uuid.UUID        `json:"product_id" binding:"required"`
	Period               string           `json:"period" binding:"required"`
	BaselineQty          *decimal.Decimal `json:"baseline_qty" binding:"required"`
	SalesOverrideQty     *decimal.Decimal `json:"sales_override_qty"`
	MarketingUpliftQty   *decimal.Decimal `json:"marketing_uplift_qty"`
	FinanceAdjustmentQty *decimal.Decimal `json:"finance_adjustment_qty"`
	ConstraintCapQty     *decimal.Decimal `json:"constraint_cap_qty"`
	Status               string           `json:"status"`
	Notes                string           `json:"notes"`
	CreatedBy            *uuid.UUID       `json:"-"` // Set from request identity, not from the body
}

// UpdateConsensusRequest represents a partial update of a consensus
// record; nil fields are left unchanged
type UpdateConsensusRequest struct {
	BaselineQty          *decimal.Decimal `json:"baseline_qty"`
	SalesOverrideQty     *decimal.Decimal `json:"sales_override_qty"`
	MarketingUpliftQty   *decimal.Decimal `json:"marketing_uplift_qty"`
	FinanceAdjustmentQty *decimal.Decimal `json:"finance_adjustment_qty"`
	ConstraintCapQty     *decimal.Decimal `json:"constraint_cap_qty"`
	ClearConstraintCap   bool             `json:"clear_constraint_cap"`
	Status               *string          `json:"status"`
	Notes                *string          `json:"notes"`
}

// ApproveConsensusRequest carries the optional approval notes
type ApproveConsensusRequest struct {
	Notes string `json:"notes"`
}

// ConsensusListFilter defines filtering options for consensus list queries
type ConsensusListFilter struct {
	ProductID          *uuid.UUID `form:"product_id"`
	ForecastRunAuditID *uuid.UUID `form:"forecast_run_audit_id"`
	Status             string     `form:"status"`
	PeriodFrom         string     `form:"period_from"`
	PeriodTo           string     `form:"period_to"`
	Page               int        `form:"page"`
	PageSize           int        `form:"page_size"`
	OrderBy            string     `form:"order_by"`
	OrderDir           string     `form:"order_dir"`
}

// VarianceExplanationResponse represents the driver breakdown for one
// consensus record
type VarianceExplanationResponse struct {
	ConsensusID           uuid.UUID        `json:"consensus_id"`
	Period                string           `json:"period"`
	HasMatchingPrediction bool             `json:"has_matching_prediction"`
	Message               string           `json:"message,omitempty"`
	PredictedQty          *decimal.Decimal `json:"predicted_qty,omitempty"`
	FinalConsensusQty     decimal.Decimal  `json:"final_consensus_qty"`
	Variance              *decimal.Decimal `json:"variance,omitempty"`
	VariancePct           *decimal.Decimal `json:"variance_pct,omitempty"`
	DriverNet             decimal.Decimal  `json:"driver_net"`
	CapImpact             decimal.Decimal  `json:"cap_impact"`
}

// CreateConsensus creates a consensus record, allocating the next
// version for its (product, period) group. A version-allocation race is
// retried a bounded number of times before surfacing a conflict.
func (s *ConsensusService) CreateConsensus(ctx context.Context, req CreateConsensusRequest) (*ConsensusResponse, error) {
	period, err := parsePeriod(req.Period)
	if err != nil {
		return nil, err
	}

	// The referenced forecast run must exist.
	if _, err := s.runRepo.FindByID(ctx, req.ForecastRunAuditID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("NOT_FOUND", "Forecast run audit not found")
		}
		return nil, err
	}

	consensus, err := forecasting.NewForecastConsensus(
		req.ProductID,
		period,
		derefOrZero(req.BaselineQty),
		derefOrZero(req.SalesOverrideQty),
		derefOrZero(req.MarketingUpliftQty),
		derefOrZero(req.FinanceAdjustmentQty),
		req.ConstraintCapQty,
		forecasting.ConsensusStatus(req.Status),
		req.Notes,
	)
	if err != nil {
		return nil, err
	}
	consensus.SetForecastRunAudit(req.ForecastRunAuditID)
	if req.CreatedBy != nil {
		consensus.SetCreatedBy(*req.CreatedBy)
	}

	for attempt := 0; ; attempt++ {
		err = s.consensusRepo.Create(ctx, consensus)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt+1 >= createVersionRetries {
			return nil, err
		}
	}

	return toConsensusResponse(consensus), nil
}

// GetConsensus returns a single consensus record by ID
func (s *ConsensusService) GetConsensus(ctx context.Context, id uuid.UUID) (*ConsensusResponse, error) {
	consensus, err := s.consensusRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toConsensusResponse(consensus), nil
}

// UpdateConsensus applies a partial edit to a mutable consensus record
// and recomputes the derived quantities. The write is guarded by the
// optimistic-lock counter so a racing approval is never overwritten.
func (s *ConsensusService) UpdateConsensus(ctx context.Context, id uuid.UUID, req UpdateConsensusRequest) (*ConsensusResponse, error) {
	consensus, err := s.consensusRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	revision := forecasting.ConsensusRevision{
		BaselineQty:          req.BaselineQty,
		SalesOverrideQty:     req.SalesOverrideQty,
		MarketingUpliftQty:   req.MarketingUpliftQty,
		FinanceAdjustmentQty: req.FinanceAdjustmentQty,
		ConstraintCapQty:     req.ConstraintCapQty,
		ClearConstraintCap:   req.ClearConstraintCap,
		Notes:                req.Notes,
	}
	if req.Status != nil {
		status := forecasting.ConsensusStatus(*req.Status)
		revision.Status = &status
	}

	if err := consensus.Revise(revision); err != nil {
		return nil, err
	}

	if err := s.consensusRepo.SaveWithLock(ctx, consensus, consensus.GetLockVersion()); err != nil {
		return nil, err
	}

	return toConsensusResponse(consensus), nil
}

// ApproveConsensus transitions a mutable record to approved. Role
// enforcement is the calling layer's concern; the approver identity is
// recorded here when supplied.
func (s *ConsensusService) ApproveConsensus(ctx context.Context, id uuid.UUID, approvedBy *uuid.UUID, req ApproveConsensusRequest) (*ConsensusResponse, error) {
	consensus, err := s.consensusRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := consensus.Approve(approvedBy, req.Notes); err != nil {
		return nil, err
	}

	if err := s.consensusRepo.SaveWithLock(ctx, consensus, consensus.GetLockVersion()); err != nil {
		return nil, err
	}

	return toConsensusResponse(consensus), nil
}

// ListConsensus lists consensus records with filtering and pagination,
// ordered by period then version ascending by default so callers can
// reconstruct revision history directly.
func (s *ConsensusService) ListConsensus(ctx context.Context, filter ConsensusListFilter) ([]ConsensusResponse, int64, error) {
	domainFilter := shared.DefaultFilter()
	domainFilter.OrderBy = "period"
	domainFilter.OrderDir = "asc"

	if filter.Page > 0 {
		domainFilter.Page = filter.Page
	}
	if filter.PageSize > 0 {
		domainFilter.PageSize = filter.PageSize
	}
	if filter.OrderBy != "" {
		domainFilter.OrderBy = filter.OrderBy
	}
	if filter.OrderDir != "" {
		domainFilter.OrderDir = filter.OrderDir
	}

	if filter.ProductID != nil {
		domainFilter.Filters[forecasting.FilterProductID] = *filter.ProductID
	}
	if filter.ForecastRunAuditID != nil {
		domainFilter.Filters[forecasting.FilterForecastRunAuditID] = *filter.ForecastRunAuditID
	}
	if filter.Status != "" {
		status := forecasting.ConsensusStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Unknown consensus status %q", filter.Status))
		}
		domainFilter.Filters[forecasting.FilterStatus] = status
	}
	if filter.PeriodFrom != "" {
		from, err := parsePeriod(filter.PeriodFrom)
		if err != nil {
			return nil, 0, err
		}
		domainFilter.Filters[forecasting.FilterPeriodFrom] = from
	}
	if filter.PeriodTo != "" {
		to, err := parsePeriod(filter.PeriodTo)
		if err != nil {
			return nil, 0, err
		}
		domainFilter.Filters[forecasting.FilterPeriodTo] = to
	}

	records, err := s.consensusRepo.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.consensusRepo.Count(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]ConsensusResponse, len(records))
	for i := range records {
		responses[i] = *toConsensusResponse(&records[i])
	}
	return responses, total, nil
}

// ExplainVariance computes the variance/driver breakdown for one
// consensus record against the prediction points of its forecast run.
// A record without a run reference, or a run without a matching point,
// yields the displayable "no match" explanation.
func (s *ConsensusService) ExplainVariance(ctx context.Context, id uuid.UUID) (*VarianceExplanationResponse, error) {
	consensus, err := s.consensusRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var match *forecasting.PredictionPoint
	if consensus.ForecastRunAuditID != nil {
		points, err := s.runRepo.FindPoints(ctx, *consensus.ForecastRunAuditID)
		if err != nil {
			return nil, err
		}
		match = forecasting.MatchPrediction(consensus, points)
	}

	explanation := forecasting.ExplainVariance(consensus, match)
	return toVarianceResponse(explanation), nil
}

func parsePeriod(value string) (time.Time, error) {
	t, err := time.Parse(periodLayout, value)
	if err != nil {
		return time.Time{}, shared.NewDomainError("INVALID_PERIOD",
			fmt.Sprintf("Period %q is not a valid YYYY-MM-DD date", value))
	}
	return t, nil
}

func derefOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func toConsensusResponse(c *forecasting.ForecastConsensus) *ConsensusResponse {
	return &ConsensusResponse{
		ID:                   c.ID,
		ForecastRunAuditID:   c.ForecastRunAuditID,
		ProductID:            c.ProductID,
		Period:               c.Period.Format(periodLayout),
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
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func toVarianceResponse(e forecasting.VarianceExplanation) *VarianceExplanationResponse {
	return &VarianceExplanationResponse{
		ConsensusID:           e.ConsensusID,
		Period:                e.Period.Format(periodLayout),
		HasMatchingPrediction: e.HasMatch,
		Message:               e.Message,
		PredictedQty:          e.PredictedQty,
		FinalConsensusQty:     e.FinalConsensusQty,
		Variance:              e.Variance,
		VariancePct:           e.VariancePct,
		DriverNet:             e.DriverNet,
		CapImpact:             e.CapImpact,
	}
}
