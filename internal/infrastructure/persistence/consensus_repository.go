package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sop/backend/internal/domain/forecasting"
	"github.com/sop/backend/internal/domain/shared"
	"github.com/sop/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// pgUniqueViolation is the PostgreSQL error code for a unique
// constraint violation
const pgUniqueViolation = "23505"

// GormConsensusRepository implements ConsensusRepository using GORM
type GormConsensusRepository struct {
	db *gorm.DB
}

// NewGormConsensusRepository creates a new GormConsensusRepository
func NewGormConsensusRepository(db *gorm.DB) *GormConsensusRepository {
	return &GormConsensusRepository{db: db}
}

// FindByID finds a consensus record by its ID
func (r *GormConsensusRepository) FindByID(ctx context.Context, id uuid.UUID) (*forecasting.ForecastConsensus, error) {
	var model models.ForecastConsensusModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds consensus records matching the filter
func (r *GormConsensusRepository) FindAll(ctx context.Context, filter shared.Filter) ([]forecasting.ForecastConsensus, error) {
	var consensusModels []models.ForecastConsensusModel
	query := r.db.WithContext(ctx).Model(&models.ForecastConsensusModel{})
	query = r.applyFilter(query, filter)

	if err := query.Find(&consensusModels).Error; err != nil {
		return nil, err
	}
	records := make([]forecasting.ForecastConsensus, len(consensusModels))
	for i, model := range consensusModels {
		records[i] = *model.ToDomain()
	}
	return records, nil
}

// Count counts consensus records matching the filter
func (r *GormConsensusRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.ForecastConsensusModel{})
	query = r.applyFilterWithoutPagination(query, filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Create allocates the next version for the record's (product, period)
// group and inserts it in one transaction. The unique index on
// (product_id, period, version) catches a racing allocation; that case
// surfaces as shared.ErrConcurrencyConflict so callers can retry.
func (r *GormConsensusRepository) Create(ctx context.Context, consensus *forecasting.ForecastConsensus) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&models.ForecastConsensusModel{}).
			Select("COALESCE(MAX(version), 0)").
			Where("product_id = ? AND period = ?", consensus.ProductID, consensus.Period).
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		consensus.Version = maxVersion + 1
		model := models.ForecastConsensusModelFromDomain(consensus)
		return tx.Create(model).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("consensus version %d for product %s period %s already allocated: %w",
				consensus.Version, consensus.ProductID, consensus.Period.Format("2006-01-02"), shared.ErrConcurrencyConflict)
		}
		return err
	}
	return nil
}

// SaveWithLock updates the record only when the stored optimistic-lock
// counter still matches expectedLockVersion. A mismatch means another
// writer (an update or an approval) got there first.
func (r *GormConsensusRepository) SaveWithLock(ctx context.Context, consensus *forecasting.ForecastConsensus, expectedLockVersion int) error {
	model := models.ForecastConsensusModelFromDomain(consensus)
	model.LockVersion = expectedLockVersion + 1

	result := r.db.WithContext(ctx).Model(&models.ForecastConsensusModel{}).
		Where("id = ? AND lock_version = ?", consensus.GetID(), expectedLockVersion).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.ForecastConsensusModel{}).
			Where("id = ?", consensus.GetID()).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}

	consensus.LockVersion = expectedLockVersion + 1
	return nil
}

// MaxVersion returns the highest stored version for the product and
// period, or 0 when no record exists
func (r *GormConsensusRepository) MaxVersion(ctx context.Context, productID uuid.UUID, period time.Time) (int, error) {
	var maxVersion int
	if err := r.db.WithContext(ctx).Model(&models.ForecastConsensusModel{}).
		Select("COALESCE(MAX(version), 0)").
		Where("product_id = ? AND period = ?", productID, period).
		Scan(&maxVersion).Error; err != nil {
		return 0, err
	}
	return maxVersion, nil
}

// applyFilter applies filter conditions, sorting, and pagination
func (r *GormConsensusRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	query = r.applyFilterWithoutPagination(query, filter)

	// Sorting with whitelist validation to prevent SQL injection;
	// version breaks ties so revision history reads in order.
	sortField := ValidateSortField(filter.OrderBy, ForecastConsensusSortFields, "period")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))
	if sortField != "version" {
		query = query.Order("version ASC")
	}

	if filter.PageSize > 0 {
		query = query.Limit(filter.PageSize)
		offset := (filter.Page - 1) * filter.PageSize
		if offset > 0 {
			query = query.Offset(offset)
		}
	}

	return query
}

// applyFilterWithoutPagination applies filter conditions only
func (r *GormConsensusRepository) applyFilterWithoutPagination(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if v, ok := filter.Filters[forecasting.FilterProductID]; ok {
		query = query.Where("product_id = ?", v)
	}
	if v, ok := filter.Filters[forecasting.FilterForecastRunAuditID]; ok {
		query = query.Where("forecast_run_audit_id = ?", v)
	}
	if v, ok := filter.Filters[forecasting.FilterStatus]; ok {
		query = query.Where("status = ?", v)
	}
	if v, ok := filter.Filters[forecasting.FilterPeriodFrom]; ok {
		query = query.Where("period >= ?", v)
	}
	if v, ok := filter.Filters[forecasting.FilterPeriodTo]; ok {
		query = query.Where("period <= ?", v)
	}
	return query
}

// isUniqueViolation reports whether err is a unique-constraint violation
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "duplicate key")
}
