package forecasting

import (
	"context"
	"time"

	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Filter keys recognized by ConsensusRepository.FindAll
const (
	FilterProductID          = "product_id"
	FilterForecastRunAuditID = "forecast_run_audit_id"
	FilterStatus             = "status"
	FilterPeriodFrom         = "period_from"
	FilterPeriodTo           = "period_to"
)

// ConsensusRepository persists ForecastConsensus aggregates
type ConsensusRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ForecastConsensus, error)
	FindAll(ctx context.Context, filter shared.Filter) ([]ForecastConsensus, error)
	Count(ctx context.Context, filter shared.Filter) (int64, error)

	// Create allocates the next version for the record's (product,
	// period) group and inserts it within one transaction. A concurrent
	// allocation of the same version surfaces as
	// shared.ErrConcurrencyConflict so the caller can retry.
	Create(ctx context.Context, consensus *ForecastConsensus) error

	// SaveWithLock updates the record only if its optimistic-lock
	// counter still matches expectedLockVersion, returning
	// shared.ErrConcurrencyConflict otherwise.
	SaveWithLock(ctx context.Context, consensus *ForecastConsensus, expectedLockVersion int) error

	// MaxVersion returns the highest version stored for the product and
	// period, or 0 when no record exists.
	MaxVersion(ctx context.Context, productID uuid.UUID, period time.Time) (int, error)
}

// ForecastRunRepository persists ForecastRunAudit aggregates and their
// prediction points
type ForecastRunRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ForecastRunAudit, error)
	FindAll(ctx context.Context, filter shared.Filter) ([]ForecastRunAudit, error)
	Count(ctx context.Context, filter shared.Filter) (int64, error)
	Save(ctx context.Context, run *ForecastRunAudit) error
	FindPoints(ctx context.Context, runAuditID uuid.UUID) ([]PredictionPoint, error)
}
