package books

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerlink/backend/internal/domain/shared"
)

// InvoiceStatus represents the locally controlled invoice lifecycle.
// Whether an invoice is actually paid is not a status here; paid-ness is
// derived from the ledger-computed AmountDue.
type InvoiceStatus string

const (
	InvoiceStatusDraft      InvoiceStatus = "DRAFT"
	InvoiceStatusAuthorised InvoiceStatus = "AUTHORISED"
	InvoiceStatusVoided     InvoiceStatus = "VOIDED"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusAuthorised, InvoiceStatusVoided:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// InvoiceLine represents one line of an invoice
type InvoiceLine struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position    int             `gorm:"not null"`
	Description string          `gorm:"type:varchar(500);not null"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxRate     decimal.Decimal `gorm:"type:decimal(8,4);not null;default:0"`
	AccountCode string          `gorm:"type:varchar(20)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for GORM
func (InvoiceLine) TableName() string {
	return "invoice_lines"
}

// NewInvoiceLine creates a new invoice line
func NewInvoiceLine(invoiceID uuid.UUID, position int, description string, quantity, unitAmount decimal.Decimal) (*InvoiceLine, error) {
	if strings.TrimSpace(description) == "" {
		return nil, shared.NewDomainError("INVALID_LINE_DESCRIPTION", "Line description cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_LINE_QUANTITY", "Line quantity must be positive")
	}
	if unitAmount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_LINE_AMOUNT", "Unit amount cannot be negative")
	}
	now := time.Now()
	return &InvoiceLine{
		ID:          uuid.New(),
		InvoiceID:   invoiceID,
		Position:    position,
		Description: description,
		Quantity:    quantity,
		UnitAmount:  unitAmount,
		TaxRate:     decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Invoice represents a sales invoice in the local books.
type Invoice struct {
	shared.TenantAggregateRoot
	ContactID uuid.UUID     `gorm:"type:uuid;not null;index"`
	Number    string        `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_tenant_number,priority:2"`
	Reference string        `gorm:"type:varchar(100)"`
	Status    InvoiceStatus `gorm:"type:varchar(20);not null;default:'DRAFT'"`
	IssueDate time.Time     `gorm:"not null"`
	DueDate   time.Time     `gorm:"not null"`
	Currency  string        `gorm:"type:varchar(3);not null;default:'USD'"`
	Lines     []InvoiceLine `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	// Notes never leave the local books.
	Notes string `gorm:"type:text"`

	// Ledger-computed money fields, written only by pull patches. The
	// ledger is the calculator of record; local code never derives them.
	SubTotal   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxTotal   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Total      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	AmountDue  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	AmountPaid decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

// NewInvoice creates a new draft invoice
func NewInvoice(tenantID, contactID uuid.UUID, number string, issueDate, dueDate time.Time) (*Invoice, error) {
	if contactID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CONTACT", "Invoice contact cannot be empty")
	}
	if strings.TrimSpace(number) == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if dueDate.Before(issueDate) {
		return nil, shared.NewDomainError("INVALID_DUE_DATE", "Due date cannot be before issue date")
	}
	return &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ContactID:           contactID,
		Number:              strings.ToUpper(number),
		Status:              InvoiceStatusDraft,
		IssueDate:           issueDate,
		DueDate:             dueDate,
		Currency:            "USD",
		SubTotal:            decimal.Zero,
		TaxTotal:            decimal.Zero,
		Total:               decimal.Zero,
		AmountDue:           decimal.Zero,
		AmountPaid:          decimal.Zero,
	}, nil
}

// AddLine appends a line to the invoice
func (i *Invoice) AddLine(description string, quantity, unitAmount decimal.Decimal) error {
	if i.Status == InvoiceStatusVoided {
		return shared.ErrInvalidState
	}
	line, err := NewInvoiceLine(i.ID, len(i.Lines)+1, description, quantity, unitAmount)
	if err != nil {
		return err
	}
	i.Lines = append(i.Lines, *line)
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
	return nil
}

// Authorise moves a draft invoice to AUTHORISED
func (i *Invoice) Authorise() error {
	if i.Status != InvoiceStatusDraft {
		return shared.ErrInvalidState
	}
	if len(i.Lines) == 0 {
		return shared.NewDomainError("EMPTY_INVOICE", "Cannot authorise an invoice without lines")
	}
	i.Status = InvoiceStatusAuthorised
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
	return nil
}

// Void cancels the invoice
func (i *Invoice) Void() error {
	if i.Status == InvoiceStatusVoided {
		return shared.ErrInvalidState
	}
	i.Status = InvoiceStatusVoided
	i.UpdatedAt = time.Now()
	i.IncrementVersion()
	return nil
}

// FullyPaid reports whether the ledger considers the invoice settled.
func (i *Invoice) FullyPaid() bool {
	return i.Status == InvoiceStatusAuthorised && i.AmountDue.IsZero() && i.Total.IsPositive()
}
