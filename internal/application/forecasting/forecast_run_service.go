package forecasting

import (
	"context"
	"time"

	"github.com/sop/backend/internal/domain/forecasting"
	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForecastRunService provides read access to forecast run audits and
// their prediction points
type ForecastRunService struct {
	runRepo forecasting.ForecastRunRepository
}

// NewForecastRunService creates a new ForecastRunService
func NewForecastRunService(runRepo forecasting.ForecastRunRepository) *ForecastRunService {
	return &ForecastRunService{runRepo: runRepo}
}

// PredictionPointResponse represents one prediction point in API responses
type PredictionPointResponse struct {
	ProductID    uuid.UUID       `json:"product_id"`
	Period       string          `json:"period"`
	PredictedQty decimal.Decimal `json:"predicted_qty"`
	RunAuditID   *uuid.UUID      `json:"run_audit_id,omitempty"`
}

// ForecastRunResponse represents a forecast run audit in API responses
type ForecastRunResponse struct {
	ID             uuid.UUID                 `json:"id"`
	ProductID      uuid.UUID                 `json:"product_id"`
	RequestedModel string                    `json:"requested_model,omitempty"`
	SelectedModel  string                    `json:"selected_model"`
	Horizon        int                       `json:"horizon"`
	FallbackUsed   bool                      `json:"fallback_used"`
	RecordsCreated int                       `json:"records_created"`
	TriggeredBy    *uuid.UUID                `json:"triggered_by,omitempty"`
	Points         []PredictionPointResponse `json:"points,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// ForecastRunListFilter defines filtering options for run list queries
type ForecastRunListFilter struct {
	ProductID *uuid.UUID `form:"product_id"`
	Page      int        `form:"page"`
	PageSize  int        `form:"page_size"`
}

// GetRun returns one forecast run audit with its prediction points
func (s *ForecastRunService) GetRun(ctx context.Context, id uuid.UUID) (*ForecastRunResponse, error) {
	run, err := s.runRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	points, err := s.runRepo.FindPoints(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Points = points
	return toForecastRunResponse(run, true), nil
}

// ListRuns lists forecast run audits, most recent first
func (s *ForecastRunService) ListRuns(ctx context.Context, filter ForecastRunListFilter) ([]ForecastRunResponse, int64, error) {
	domainFilter := shared.DefaultFilter()
	if filter.Page > 0 {
		domainFilter.Page = filter.Page
	}
	if filter.PageSize > 0 {
		domainFilter.PageSize = filter.PageSize
	}
	if filter.ProductID != nil {
		domainFilter.Filters[forecasting.FilterProductID] = *filter.ProductID
	}

	runs, err := s.runRepo.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.runRepo.Count(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]ForecastRunResponse, len(runs))
	for i := range runs {
		responses[i] = *toForecastRunResponse(&runs[i], false)
	}
	return responses, total, nil
}

func toForecastRunResponse(run *forecasting.ForecastRunAudit, includePoints bool) *ForecastRunResponse {
	resp := &ForecastRunResponse{
		ID:             run.ID,
		ProductID:      run.ProductID,
		RequestedModel: run.RequestedModel,
		SelectedModel:  run.SelectedModel,
		Horizon:        run.Horizon,
		FallbackUsed:   run.FallbackUsed,
		RecordsCreated: run.RecordsCreated,
		TriggeredBy:    run.TriggeredBy,
		CreatedAt:      run.CreatedAt,
	}
	if includePoints {
		resp.Points = make([]PredictionPointResponse, len(run.Points))
		for i, p := range run.Points {
			resp.Points[i] = PredictionPointResponse{
				ProductID:    p.ProductID,
				Period:       p.Period.Format(periodLayout),
				PredictedQty: p.PredictedQty,
				RunAuditID:   p.RunAuditID,
			}
		}
	}
	return resp
}
