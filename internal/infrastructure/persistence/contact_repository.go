package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/books"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// GormContactRepository implements ContactRepository using GORM
type GormContactRepository struct {
	db *gorm.DB
}

// NewGormContactRepository creates a new GormContactRepository
func NewGormContactRepository(db *gorm.DB) *GormContactRepository {
	return &GormContactRepository{db: db}
}

// FindByID finds a contact by ID within a tenant
func (r *GormContactRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*books.Contact, error) {
	var contact books.Contact
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &contact, nil
}

// FindAll finds contacts matching the query, oldest first
func (r *GormContactRepository) FindAll(ctx context.Context, tenantID uuid.UUID, query books.RecordQuery) ([]books.Contact, error) {
	db := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if len(query.IDs) > 0 {
		db = db.Where("id IN ?", query.IDs)
	}
	if query.ModifiedSince != nil {
		db = db.Where("updated_at > ?", *query.ModifiedSince)
	}

	var contacts []books.Contact
	if err := db.Order("updated_at ASC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

// Save creates or updates a contact
func (r *GormContactRepository) Save(ctx context.Context, contact *books.Contact) error {
	return r.db.WithContext(ctx).Save(contact).Error
}

// UpdateFields writes the given columns without touching the others
func (r *GormContactRepository) UpdateFields(ctx context.Context, tenantID, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&books.Contact{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
