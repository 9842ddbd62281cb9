package forecasting

import (
	"context"
	"testing"
	"time"

	domain "github.com/sop/backend/internal/domain/forecasting"
	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Repositories
// =============================================================================

// MockConsensusRepository is a mock implementation of ConsensusRepository
type MockConsensusRepository struct {
	mock.Mock
}

func (m *MockConsensusRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.ForecastConsensus, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ForecastConsensus), args.Error(1)
}

func (m *MockConsensusRepository) FindAll(ctx context.Context, filter shared.Filter) ([]domain.ForecastConsensus, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.ForecastConsensus), args.Error(1)
}

func (m *MockConsensusRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConsensusRepository) Create(ctx context.Context, consensus *domain.ForecastConsensus) error {
	args := m.Called(ctx, consensus)
	return args.Error(0)
}

func (m *MockConsensusRepository) SaveWithLock(ctx context.Context, consensus *domain.ForecastConsensus, expectedLockVersion int) error {
	args := m.Called(ctx, consensus, expectedLockVersion)
	return args.Error(0)
}

func (m *MockConsensusRepository) MaxVersion(ctx context.Context, productID uuid.UUID, period time.Time) (int, error) {
	args := m.Called(ctx, productID, period)
	return args.Int(0), args.Error(1)
}

// MockForecastRunRepository is a mock implementation of ForecastRunRepository
type MockForecastRunRepository struct {
	mock.Mock
}

func (m *MockForecastRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.ForecastRunAudit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ForecastRunAudit), args.Error(1)
}

func (m *MockForecastRunRepository) FindAll(ctx context.Context, filter shared.Filter) ([]domain.ForecastRunAudit, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.ForecastRunAudit), args.Error(1)
}

func (m *MockForecastRunRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockForecastRunRepository) Save(ctx context.Context, run *domain.ForecastRunAudit) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockForecastRunRepository) FindPoints(ctx context.Context, runAuditID uuid.UUID) ([]domain.PredictionPoint, error) {
	args := m.Called(ctx, runAuditID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PredictionPoint), args.Error(1)
}

// =============================================================================
// Helpers
// =============================================================================

func newTestService(t *testing.T) (*ConsensusService, *MockConsensusRepository, *MockForecastRunRepository) {
	t.Helper()
	consensusRepo := new(MockConsensusRepository)
	runRepo := new(MockForecastRunRepository)
	return NewConsensusService(consensusRepo, runRepo), consensusRepo, runRepo
}

func newTestRun(t *testing.T) *domain.ForecastRunAudit {
	t.Helper()
	run, err := domain.NewForecastRunAudit(uuid.New(), "moving_average", 6)
	require.NoError(t, err)
	return run
}

func newStoredConsensus(t *testing.T, status domain.ConsensusStatus) *domain.ForecastConsensus {
	t.Helper()
	c, err := domain.NewForecastConsensus(
		uuid.New(),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		decimal.NewFromInt(1000),
		decimal.Zero, decimal.Zero, decimal.Zero,
		nil,
		domain.ConsensusStatusDraft,
		"",
	)
	require.NoError(t, err)
	c.Version = 1
	if status == domain.ConsensusStatusApproved {
		require.NoError(t, c.Approve(nil, ""))
	} else if status != domain.ConsensusStatusDraft {
		c.Status = status
	}
	return c
}

func qty(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func validCreateRequest(runID uuid.UUID) CreateConsensusRequest {
	return CreateConsensusRequest{
		ForecastRunAuditID: runID,
		ProductID:          uuid.New(),
		Period:             "2026-03-01",
		BaselineQty:        qty(1000),
	}
}

// =============================================================================
// CreateConsensus
// =============================================================================

func TestConsensusService_CreateConsensus(t *testing.T) {
	ctx := context.Background()

	t.Run("creates consensus with derived fields", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		run := newTestRun(t)
		runRepo.On("FindByID", ctx, run.ID).Return(run, nil)
		consensusRepo.On("Create", ctx, mock.AnythingOfType("*forecasting.ForecastConsensus")).
			Run(func(args mock.Arguments) {
				c := args.Get(1).(*domain.ForecastConsensus)
				c.Version = 1
			}).
			Return(nil)

		req := validCreateRequest(run.ID)
		req.SalesOverrideQty = qty(50)
		req.FinanceAdjustmentQty = qty(-20)

		resp, err := service.CreateConsensus(ctx, req)

		require.NoError(t, err)
		assert.True(t, resp.PreConsensusQty.Equal(decimal.NewFromInt(1030)))
		assert.True(t, resp.FinalConsensusQty.Equal(decimal.NewFromInt(1030)))
		assert.Equal(t, "2026-03-01", resp.Period)
		assert.Equal(t, "draft", resp.Status)
		assert.Equal(t, 1, resp.Version)
		require.NotNil(t, resp.ForecastRunAuditID)
		assert.Equal(t, run.ID, *resp.ForecastRunAuditID)
		consensusRepo.AssertExpectations(t)
	})

	t.Run("applies constraint cap", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		run := newTestRun(t)
		runRepo.On("FindByID", ctx, run.ID).Return(run, nil)
		consensusRepo.On("Create", ctx, mock.Anything).Return(nil)

		req := validCreateRequest(run.ID)
		req.SalesOverrideQty = qty(50)
		req.FinanceAdjustmentQty = qty(-20)
		req.ConstraintCapQty = qty(1000)

		resp, err := service.CreateConsensus(ctx, req)

		require.NoError(t, err)
		assert.True(t, resp.FinalConsensusQty.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("rejects unparseable period", func(t *testing.T) {
		service, _, _ := newTestService(t)

		req := validCreateRequest(uuid.New())
		req.Period = "2026-13-45"

		_, err := service.CreateConsensus(ctx, req)

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_PERIOD", domainErr.Code)
	})

	t.Run("rejects unknown forecast run", func(t *testing.T) {
		service, _, runRepo := newTestService(t)
		runID := uuid.New()
		runRepo.On("FindByID", ctx, runID).Return(nil, shared.ErrNotFound)

		_, err := service.CreateConsensus(ctx, validCreateRequest(runID))

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		service, _, runRepo := newTestService(t)
		run := newTestRun(t)
		runRepo.On("FindByID", ctx, run.ID).Return(run, nil)

		req := validCreateRequest(run.ID)
		req.Status = "reviewed"

		_, err := service.CreateConsensus(ctx, req)

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATUS", domainErr.Code)
	})

	t.Run("retries version allocation on conflict", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		run := newTestRun(t)
		runRepo.On("FindByID", ctx, run.ID).Return(run, nil)
		consensusRepo.On("Create", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict).Twice()
		consensusRepo.On("Create", ctx, mock.Anything).Return(nil).Once()

		_, err := service.CreateConsensus(ctx, validCreateRequest(run.ID))

		require.NoError(t, err)
		consensusRepo.AssertNumberOfCalls(t, "Create", 3)
	})

	t.Run("gives up after exhausting retries", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		run := newTestRun(t)
		runRepo.On("FindByID", ctx, run.ID).Return(run, nil)
		consensusRepo.On("Create", ctx, mock.Anything).Return(shared.ErrConcurrencyConflict)

		_, err := service.CreateConsensus(ctx, validCreateRequest(run.ID))

		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		consensusRepo.AssertNumberOfCalls(t, "Create", 3)
	})
}

// =============================================================================
// UpdateConsensus
// =============================================================================

func TestConsensusService_UpdateConsensus(t *testing.T) {
	ctx := context.Background()

	t.Run("applies partial edit and recomputes", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		consensusRepo.On("SaveWithLock", ctx, stored, stored.GetLockVersion()).Return(nil)

		resp, err := service.UpdateConsensus(ctx, stored.ID, UpdateConsensusRequest{
			SalesOverrideQty: qty(50),
		})

		require.NoError(t, err)
		assert.True(t, resp.PreConsensusQty.Equal(decimal.NewFromInt(1050)))
		assert.True(t, resp.FinalConsensusQty.Equal(decimal.NewFromInt(1050)))
		assert.Equal(t, 1, resp.Version)
		consensusRepo.AssertExpectations(t)
	})

	t.Run("update with no changes keeps derived fields stable", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		consensusRepo.On("SaveWithLock", ctx, stored, mock.Anything).Return(nil)

		resp, err := service.UpdateConsensus(ctx, stored.ID, UpdateConsensusRequest{})

		require.NoError(t, err)
		assert.True(t, resp.PreConsensusQty.Equal(decimal.NewFromInt(1000)))
		assert.True(t, resp.FinalConsensusQty.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("returns not found for missing record", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		id := uuid.New()
		consensusRepo.On("FindByID", ctx, id).Return(nil, shared.ErrNotFound)

		_, err := service.UpdateConsensus(ctx, id, UpdateConsensusRequest{})

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("rejects update of approved record", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusApproved)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)

		_, err := service.UpdateConsensus(ctx, stored.ID, UpdateConsensusRequest{
			SalesOverrideQty: qty(10),
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "RECORD_LOCKED", domainErr.Code)
		consensusRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects status escalation to approved", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		approved := "approved"

		_, err := service.UpdateConsensus(ctx, stored.ID, UpdateConsensusRequest{Status: &approved})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "STATUS_TRANSITION_NOT_ALLOWED", domainErr.Code)
		assert.Nil(t, stored.ApprovedAt)
	})

	t.Run("surfaces lock conflict from racing writer", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		consensusRepo.On("SaveWithLock", ctx, stored, mock.Anything).Return(shared.ErrConcurrencyConflict)

		_, err := service.UpdateConsensus(ctx, stored.ID, UpdateConsensusRequest{
			SalesOverrideQty: qty(5),
		})

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})
}

// =============================================================================
// ApproveConsensus
// =============================================================================

func TestConsensusService_ApproveConsensus(t *testing.T) {
	ctx := context.Background()

	t.Run("approves draft record", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		approver := uuid.New()
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		consensusRepo.On("SaveWithLock", ctx, stored, mock.Anything).Return(nil)

		resp, err := service.ApproveConsensus(ctx, stored.ID, &approver, ApproveConsensusRequest{Notes: "signed off"})

		require.NoError(t, err)
		assert.Equal(t, "approved", resp.Status)
		require.NotNil(t, resp.ApprovedAt)
		require.NotNil(t, resp.ApprovedBy)
		assert.Equal(t, approver, *resp.ApprovedBy)
		assert.Equal(t, "[Approved] signed off", resp.Notes)
	})

	t.Run("rejects double approval", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusApproved)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)

		_, err := service.ApproveConsensus(ctx, stored.ID, nil, ApproveConsensusRequest{})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "RECORD_LOCKED", domainErr.Code)
		consensusRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects approval of frozen record", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusFrozen)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)

		_, err := service.ApproveConsensus(ctx, stored.ID, nil, ApproveConsensusRequest{})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "RECORD_LOCKED", domainErr.Code)
	})

	t.Run("returns not found for missing record", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		id := uuid.New()
		consensusRepo.On("FindByID", ctx, id).Return(nil, shared.ErrNotFound)

		_, err := service.ApproveConsensus(ctx, id, nil, ApproveConsensusRequest{})

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

// =============================================================================
// ListConsensus
// =============================================================================

func TestConsensusService_ListConsensus(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to period then version ascending", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		consensusRepo.On("FindAll", ctx, mock.MatchedBy(func(f shared.Filter) bool {
			return f.OrderBy == "period" && f.OrderDir == "asc" && f.Page == 1 && f.PageSize == 20
		})).Return([]domain.ForecastConsensus{}, nil)
		consensusRepo.On("Count", ctx, mock.Anything).Return(int64(0), nil)

		_, total, err := service.ListConsensus(ctx, ConsensusListFilter{})

		require.NoError(t, err)
		assert.Zero(t, total)
		consensusRepo.AssertExpectations(t)
	})

	t.Run("passes filters through", func(t *testing.T) {
		service, consensusRepo, _ := newTestService(t)
		productID := uuid.New()
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		consensusRepo.On("FindAll", ctx, mock.MatchedBy(func(f shared.Filter) bool {
			_, hasProduct := f.Filters[domain.FilterProductID]
			_, hasStatus := f.Filters[domain.FilterStatus]
			_, hasFrom := f.Filters[domain.FilterPeriodFrom]
			return hasProduct && hasStatus && hasFrom
		})).Return([]domain.ForecastConsensus{*stored}, nil)
		consensusRepo.On("Count", ctx, mock.Anything).Return(int64(1), nil)

		items, total, err := service.ListConsensus(ctx, ConsensusListFilter{
			ProductID:  &productID,
			Status:     "draft",
			PeriodFrom: "2026-01-01",
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, "2026-03-01", items[0].Period)
	})

	t.Run("rejects invalid status filter", func(t *testing.T) {
		service, _, _ := newTestService(t)

		_, _, err := service.ListConsensus(ctx, ConsensusListFilter{Status: "pending"})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATUS", domainErr.Code)
	})

	t.Run("rejects malformed period bounds", func(t *testing.T) {
		service, _, _ := newTestService(t)

		_, _, err := service.ListConsensus(ctx, ConsensusListFilter{PeriodFrom: "March 2026"})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_PERIOD", domainErr.Code)
	})
}

// =============================================================================
// ExplainVariance
// =============================================================================

func TestConsensusService_ExplainVariance(t *testing.T) {
	ctx := context.Background()

	t.Run("computes variance against matching point", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		runID := uuid.New()
		stored.SetForecastRunAudit(runID)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		runRepo.On("FindPoints", ctx, runID).Return([]domain.PredictionPoint{
			{ProductID: stored.ProductID, Period: stored.Period, PredictedQty: decimal.NewFromInt(900), RunAuditID: &runID},
		}, nil)

		resp, err := service.ExplainVariance(ctx, stored.ID)

		require.NoError(t, err)
		assert.True(t, resp.HasMatchingPrediction)
		require.NotNil(t, resp.Variance)
		assert.True(t, resp.Variance.Equal(decimal.NewFromInt(100)))
		require.NotNil(t, resp.VariancePct)
		assert.True(t, resp.VariancePct.Equal(decimal.NewFromFloat(11.11)))
	})

	t.Run("returns no-match explanation without run reference", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)

		resp, err := service.ExplainVariance(ctx, stored.ID)

		require.NoError(t, err)
		assert.False(t, resp.HasMatchingPrediction)
		assert.Equal(t, "no matching forecast prediction for this period", resp.Message)
		runRepo.AssertNotCalled(t, "FindPoints", mock.Anything, mock.Anything)
	})

	t.Run("returns no-match explanation when run has no point for the period", func(t *testing.T) {
		service, consensusRepo, runRepo := newTestService(t)
		stored := newStoredConsensus(t, domain.ConsensusStatusDraft)
		runID := uuid.New()
		stored.SetForecastRunAudit(runID)
		consensusRepo.On("FindByID", ctx, stored.ID).Return(stored, nil)
		runRepo.On("FindPoints", ctx, runID).Return([]domain.PredictionPoint{}, nil)

		resp, err := service.ExplainVariance(ctx, stored.ID)

		require.NoError(t, err)
		assert.False(t, resp.HasMatchingPrediction)
		assert.Nil(t, resp.VariancePct)
	})
}
