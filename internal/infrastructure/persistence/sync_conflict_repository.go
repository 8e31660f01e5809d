package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
)

// GormConflictRepository implements ConflictRepository using GORM
type GormConflictRepository struct {
	db *gorm.DB
}

// NewGormConflictRepository creates a new GormConflictRepository
func NewGormConflictRepository(db *gorm.DB) *GormConflictRepository {
	return &GormConflictRepository{db: db}
}

// FindByID finds a conflict by ID within a tenant
func (r *GormConflictRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ledger.ConflictRecord, error) {
	var model models.SyncConflictModel
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrConflictNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpenByRecord finds the open conflict for a record, nil when none exists
func (r *GormConflictRepository) FindOpenByRecord(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.ConflictRecord, error) {
	var model models.SyncConflictModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND local_id = ? AND status = ?",
			tenantID, entityType, localID, ledger.ConflictStatusOpen).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List pages through conflicts matching the filter, newest first
func (r *GormConflictRepository) List(ctx context.Context, tenantID uuid.UUID, filter ledger.ConflictFilter) ([]ledger.ConflictRecord, int64, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	base := r.db.WithContext(ctx).
		Model(&models.SyncConflictModel{}).
		Where("tenant_id = ?", tenantID)
	if filter.EntityType != nil {
		base = base.Where("entity_type = ?", *filter.EntityType)
	}
	if filter.Status != nil {
		base = base.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var conflictModels []models.SyncConflictModel
	if err := base.
		Order("detected_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&conflictModels).Error; err != nil {
		return nil, 0, err
	}

	conflicts := make([]ledger.ConflictRecord, len(conflictModels))
	for i, model := range conflictModels {
		conflicts[i] = *model.ToDomain()
	}
	return conflicts, total, nil
}

// Save inserts or updates a conflict
func (r *GormConflictRepository) Save(ctx context.Context, conflict *ledger.ConflictRecord) error {
	model := models.SyncConflictModelFromDomain(conflict)
	return r.db.WithContext(ctx).Save(model).Error
}
