package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
)

// GormAuditRepository implements AuditRepository using GORM. The table is
// append-only; entries are never updated or deleted.
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Append stores one entry
func (r *GormAuditRepository) Append(ctx context.Context, entry *ledger.AuditEntry) error {
	model := models.SyncAuditModelFromDomain(entry)
	return r.db.WithContext(ctx).Create(model).Error
}

// ListByRun pages through the trail of one run, oldest first
func (r *GormAuditRepository) ListByRun(ctx context.Context, tenantID, runID uuid.UUID, page, pageSize int) ([]ledger.AuditEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	base := r.db.WithContext(ctx).
		Model(&models.SyncAuditModel{}).
		Where("tenant_id = ? AND run_id = ?", tenantID, runID)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var auditModels []models.SyncAuditModel
	if err := base.
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&auditModels).Error; err != nil {
		return nil, 0, err
	}

	entries := make([]ledger.AuditEntry, len(auditModels))
	for i, model := range auditModels {
		entries[i] = *model.ToDomain()
	}
	return entries, total, nil
}
