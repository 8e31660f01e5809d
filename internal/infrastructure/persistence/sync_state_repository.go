package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
)

// GormSyncStateRepository implements SyncStateRepository using GORM
type GormSyncStateRepository struct {
	db *gorm.DB
}

// NewGormSyncStateRepository creates a new GormSyncStateRepository
func NewGormSyncStateRepository(db *gorm.DB) *GormSyncStateRepository {
	return &GormSyncStateRepository{db: db}
}

// FindByLocalID finds the state tracking a local record
func (r *GormSyncStateRepository) FindByLocalID(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.SyncState, error) {
	var model models.SyncStateModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND local_id = ?", tenantID, entityType, localID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrStateNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByRemoteID finds the state linked to a remote id
func (r *GormSyncStateRepository) FindByRemoteID(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string) (*ledger.SyncState, error) {
	var model models.SyncStateModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND remote_id = ?", tenantID, entityType, remoteID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrStateNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByStatus pages through states in a given status, oldest first
func (r *GormSyncStateRepository) ListByStatus(ctx context.Context, tenantID uuid.UUID, status ledger.SyncStatus, page, pageSize int) ([]ledger.SyncState, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	base := r.db.WithContext(ctx).
		Model(&models.SyncStateModel{}).
		Where("tenant_id = ? AND status = ?", tenantID, status)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var stateModels []models.SyncStateModel
	if err := base.
		Order("updated_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&stateModels).Error; err != nil {
		return nil, 0, err
	}

	states := make([]ledger.SyncState, len(stateModels))
	for i, model := range stateModels {
		states[i] = *model.ToDomain()
	}
	return states, total, nil
}

// Save inserts or updates a state row
func (r *GormSyncStateRepository) Save(ctx context.Context, state *ledger.SyncState) error {
	model := models.SyncStateModelFromDomain(state)
	return r.db.WithContext(ctx).Save(model).Error
}
