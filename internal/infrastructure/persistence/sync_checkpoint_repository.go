package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
)

// GormCheckpointRepository implements CheckpointRepository using GORM
type GormCheckpointRepository struct {
	db *gorm.DB
}

// NewGormCheckpointRepository creates a new GormCheckpointRepository
func NewGormCheckpointRepository(db *gorm.DB) *GormCheckpointRepository {
	return &GormCheckpointRepository{db: db}
}

// Find loads the checkpoint for a tenant and entity type, nil when none exists
func (r *GormCheckpointRepository) Find(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType) (*ledger.Checkpoint, error) {
	var model models.SyncCheckpointModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ?", tenantID, entityType).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts or updates a checkpoint
func (r *GormCheckpointRepository) Save(ctx context.Context, checkpoint *ledger.Checkpoint) error {
	model := models.SyncCheckpointModelFromDomain(checkpoint)
	return r.db.WithContext(ctx).Save(model).Error
}

// Clear removes the checkpoint after a completed pull
func (r *GormCheckpointRepository) Clear(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ?", tenantID, entityType).
		Delete(&models.SyncCheckpointModel{}).Error
}
