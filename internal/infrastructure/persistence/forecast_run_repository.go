package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/sop/backend/internal/domain/forecasting"
	"github.com/sop/backend/internal/domain/shared"
	"github.com/sop/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormForecastRunRepository implements ForecastRunRepository using GORM
type GormForecastRunRepository struct {
	db *gorm.DB
}

// NewGormForecastRunRepository creates a new GormForecastRunRepository
func NewGormForecastRunRepository(db *gorm.DB) *GormForecastRunRepository {
	return &GormForecastRunRepository{db: db}
}

// FindByID finds a forecast run audit by its ID
func (r *GormForecastRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*forecasting.ForecastRunAudit, error) {
	var model models.ForecastRunAuditModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds forecast run audits matching the filter, newest first
func (r *GormForecastRunRepository) FindAll(ctx context.Context, filter shared.Filter) ([]forecasting.ForecastRunAudit, error) {
	var runModels []models.ForecastRunAuditModel
	query := r.db.WithContext(ctx).Model(&models.ForecastRunAuditModel{})
	query = r.applyFilterWithoutPagination(query, filter)

	sortField := ValidateSortField(filter.OrderBy, ForecastRunAuditSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	if filter.PageSize > 0 {
		query = query.Limit(filter.PageSize)
		offset := (filter.Page - 1) * filter.PageSize
		if offset > 0 {
			query = query.Offset(offset)
		}
	}

	if err := query.Find(&runModels).Error; err != nil {
		return nil, err
	}
	runs := make([]forecasting.ForecastRunAudit, len(runModels))
	for i, model := range runModels {
		runs[i] = *model.ToDomain()
	}
	return runs, nil
}

// Count counts forecast run audits matching the filter
func (r *GormForecastRunRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.ForecastRunAuditModel{})
	query = r.applyFilterWithoutPagination(query, filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Save persists a run audit together with its prediction points
func (r *GormForecastRunRepository) Save(ctx context.Context, run *forecasting.ForecastRunAudit) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := models.ForecastRunAuditModelFromDomain(run)
		if err := tx.Save(model).Error; err != nil {
			return err
		}
		for _, point := range run.Points {
			pointModel := models.PredictionPointModelFromDomain(point)
			if err := tx.Create(pointModel).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindPoints returns the prediction points produced by a run
func (r *GormForecastRunRepository) FindPoints(ctx context.Context, runAuditID uuid.UUID) ([]forecasting.PredictionPoint, error) {
	var pointModels []models.PredictionPointModel
	if err := r.db.WithContext(ctx).
		Where("run_audit_id = ?", runAuditID).
		Order("period ASC").
		Find(&pointModels).Error; err != nil {
		return nil, err
	}
	points := make([]forecasting.PredictionPoint, len(pointModels))
	for i, model := range pointModels {
		points[i] = model.ToDomain()
	}
	return points, nil
}

func (r *GormForecastRunRepository) applyFilterWithoutPagination(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if v, ok := filter.Filters[forecasting.FilterProductID]; ok {
		query = query.Where("product_id = ?", v)
	}
	return query
}
