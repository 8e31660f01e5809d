package books

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerlink/backend/internal/domain/shared"
)

// PaymentStatus mirrors the lifecycle the remote ledger reports for a
// payment. The ledger can reverse or delete a payment during bank
// reconciliation, so the field is ledger-computed and only written by pulls.
type PaymentStatus string

const (
	PaymentStatusAuthorised PaymentStatus = "AUTHORISED"
	PaymentStatusDeleted    PaymentStatus = "DELETED"
)

// Payment represents a payment applied to an invoice in the local books.
type Payment struct {
	shared.TenantAggregateRoot
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	AccountCode string          `gorm:"type:varchar(20);not null"`
	Date        time.Time       `gorm:"not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Reference   string          `gorm:"type:varchar(100)"`
	// Notes never leave the local books.
	Notes string `gorm:"type:text"`

	// Ledger-computed fields, written only by pull patches.
	Status     PaymentStatus `gorm:"type:varchar(20);not null;default:'AUTHORISED'"`
	Reconciled bool          `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// NewPayment records a payment against an invoice
func NewPayment(tenantID, invoiceID uuid.UUID, accountCode string, date time.Time, amount decimal.Decimal) (*Payment, error) {
	if invoiceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Payment invoice cannot be empty")
	}
	if accountCode == "" {
		return nil, shared.NewDomainError("INVALID_ACCOUNT_CODE", "Payment account code cannot be empty")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_PAYMENT_AMOUNT", "Payment amount must be positive")
	}
	return &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		InvoiceID:           invoiceID,
		AccountCode:         accountCode,
		Date:                date,
		Amount:              amount,
		Status:              PaymentStatusAuthorised,
	}, nil
}
