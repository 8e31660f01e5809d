package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
)

// GormSyncRunRepository implements SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// FindByID finds a run by ID within a tenant
func (r *GormSyncRunRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ledger.SyncRun, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List pages through runs matching the filter, newest first
func (r *GormSyncRunRepository) List(ctx context.Context, tenantID uuid.UUID, filter ledger.RunFilter) ([]ledger.SyncRun, int64, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	base := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("tenant_id = ?", tenantID)
	if filter.Status != nil {
		base = base.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runModels []models.SyncRunModel
	if err := base.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runModels).Error; err != nil {
		return nil, 0, err
	}

	runs := make([]ledger.SyncRun, len(runModels))
	for i, model := range runModels {
		runs[i] = *model.ToDomain()
	}
	return runs, total, nil
}

// Save inserts or updates a run
func (r *GormSyncRunRepository) Save(ctx context.Context, run *ledger.SyncRun) error {
	model := models.SyncRunModelFromDomain(run)
	return r.db.WithContext(ctx).Save(model).Error
}
