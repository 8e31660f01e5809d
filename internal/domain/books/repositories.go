package books

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordQuery narrows listings used by the sync engine's candidate selection.
type RecordQuery struct {
	// IDs restricts the listing to the given records
	IDs []uuid.UUID
	// ModifiedSince limits the listing to records updated after the watermark
	ModifiedSince *time.Time
}

// ContactRepository defines the interface for contact persistence
type ContactRepository interface {
	// FindByID finds a contact by ID within a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error)
	// FindAll finds contacts matching the query, oldest first
	FindAll(ctx context.Context, tenantID uuid.UUID, query RecordQuery) ([]Contact, error)
	// Save creates or updates a contact
	Save(ctx context.Context, contact *Contact) error
	// UpdateFields writes the given columns without touching the others
	UpdateFields(ctx context.Context, tenantID, id uuid.UUID, fields map[string]any) error
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	// FindByID finds an invoice with its lines by ID within a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	// FindAll finds invoices with their lines matching the query, oldest first
	FindAll(ctx context.Context, tenantID uuid.UUID, query RecordQuery) ([]Invoice, error)
	// Save creates or updates an invoice together with its lines
	Save(ctx context.Context, invoice *Invoice) error
	// UpdateFields writes the given columns without touching the others
	UpdateFields(ctx context.Context, tenantID, id uuid.UUID, fields map[string]any) error
}

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	// FindByID finds a payment by ID within a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	// FindAll finds payments matching the query, oldest first
	FindAll(ctx context.Context, tenantID uuid.UUID, query RecordQuery) ([]Payment, error)
	// Save creates or updates a payment
	Save(ctx context.Context, payment *Payment) error
	// UpdateFields writes the given columns without touching the others
	UpdateFields(ctx context.Context, tenantID, id uuid.UUID, fields map[string]any) error
}
