package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerlink/backend/internal/domain/books"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// GormInvoiceRepository implements InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// FindByID finds an invoice with its lines by ID within a tenant
func (r *GormInvoiceRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*books.Invoice, error) {
	var invoice books.Invoice
	if err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("invoice_lines.position ASC")
		}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// FindAll finds invoices with their lines matching the query, oldest first
func (r *GormInvoiceRepository) FindAll(ctx context.Context, tenantID uuid.UUID, query books.RecordQuery) ([]books.Invoice, error) {
	db := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("invoice_lines.position ASC")
		}).
		Where("tenant_id = ?", tenantID)
	if len(query.IDs) > 0 {
		db = db.Where("id IN ?", query.IDs)
	}
	if query.ModifiedSince != nil {
		db = db.Where("updated_at > ?", *query.ModifiedSince)
	}

	var invoices []books.Invoice
	if err := db.Order("updated_at ASC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// Save creates or updates an invoice together with its lines
func (r *GormInvoiceRepository) Save(ctx context.Context, invoice *books.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Save(invoice).Error; err != nil {
			return err
		}

		// Replace lines: delete removed ones, upsert the rest
		currentLineIDs := make([]uuid.UUID, len(invoice.Lines))
		for i, line := range invoice.Lines {
			currentLineIDs[i] = line.ID
		}
		if len(currentLineIDs) > 0 {
			if err := tx.Where("invoice_id = ? AND id NOT IN ?", invoice.ID, currentLineIDs).
				Delete(&books.InvoiceLine{}).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Where("invoice_id = ?", invoice.ID).
				Delete(&books.InvoiceLine{}).Error; err != nil {
				return err
			}
		}
		for i := range invoice.Lines {
			if err := tx.Save(&invoice.Lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateFields writes the given columns without touching the others
func (r *GormInvoiceRepository) UpdateFields(ctx context.Context, tenantID, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&books.Invoice{}).
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
