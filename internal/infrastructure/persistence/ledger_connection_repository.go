package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
)

// GormConnectionRepository implements ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// FindByTenant loads the tenant's connection
func (r *GormConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*ledger.Connection, error) {
	var model models.LedgerConnectionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListScheduled loads every connection with background sync enabled
func (r *GormConnectionRepository) ListScheduled(ctx context.Context) ([]ledger.Connection, error) {
	var connectionModels []models.LedgerConnectionModel
	if err := r.db.WithContext(ctx).
		Where("schedule_enabled = ? AND status = ?", true, ledger.ConnectionStatusConnected).
		Find(&connectionModels).Error; err != nil {
		return nil, err
	}

	connections := make([]ledger.Connection, len(connectionModels))
	for i, model := range connectionModels {
		connections[i] = *model.ToDomain()
	}
	return connections, nil
}

// Save inserts or updates a connection
func (r *GormConnectionRepository) Save(ctx context.Context, connection *ledger.Connection) error {
	model := models.LedgerConnectionModelFromDomain(connection)
	return r.db.WithContext(ctx).Save(model).Error
}

// Delete removes the connection and its sealed credentials
func (r *GormConnectionRepository) Delete(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&models.LedgerConnectionModel{}).Error
}
