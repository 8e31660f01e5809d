// Package books contains the local business records the sync engine keeps
// consistent with the remote ledger: contacts, invoices and payments.
// These are the records the rest of the business application edits; the
// ledger context reads and patches them through its LocalStore port.
package books

import (
	"strings"
	"time"

	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStatus mirrors the lifecycle the remote ledger reports for a
// contact. It is ledger-computed and only ever written by pull patches.
type LedgerStatus string

const (
	LedgerStatusActive   LedgerStatus = "ACTIVE"
	LedgerStatusArchived LedgerStatus = "ARCHIVED"
)

// Contact represents a customer or supplier in the local books.
type Contact struct {
	shared.TenantAggregateRoot
	Name          string `gorm:"type:varchar(200);not null"`
	ContactPerson string `gorm:"type:varchar(100)"`
	Email         string `gorm:"type:varchar(200);index"`
	Phone         string `gorm:"type:varchar(50)"`
	AddressLine1  string `gorm:"type:varchar(200)"`
	AddressLine2  string `gorm:"type:varchar(200)"`
	City          string `gorm:"type:varchar(100)"`
	Region        string `gorm:"type:varchar(100)"`
	PostalCode    string `gorm:"type:varchar(20)"`
	Country       string `gorm:"type:varchar(100)"`
	TaxNumber     string `gorm:"type:varchar(50)"`
	Currency      string `gorm:"type:varchar(3);not null;default:'USD'"`
	IsCustomer    bool   `gorm:"not null;default:true"`
	IsSupplier    bool   `gorm:"not null;default:false"`
	// Notes never leave the local books. They are outside the sync
	// projection, so editing them does not mark the contact as changed.
	Notes string `gorm:"type:text"`

	// Ledger-computed fields, written only by pull patches.
	LedgerStatus       LedgerStatus    `gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	OutstandingBalance decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	OverdueBalance     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (Contact) TableName() string {
	return "contacts"
}

// NewContact creates a new contact with required fields
func NewContact(tenantID uuid.UUID, name string) (*Contact, error) {
	if err := validateContactName(name); err != nil {
		return nil, err
	}
	return &Contact{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		Currency:            "USD",
		IsCustomer:          true,
		LedgerStatus:        LedgerStatusActive,
		OutstandingBalance:  decimal.Zero,
		OverdueBalance:      decimal.Zero,
	}, nil
}

// Rename updates the contact's display name
func (c *Contact) Rename(name string) error {
	if err := validateContactName(name); err != nil {
		return err
	}
	c.Name = name
	c.UpdatedAt = time.Now()
	c.IncrementVersion()
	return nil
}

// UpdateNotes edits the local-only notes without touching UpdatedAt in a way
// that matters to sync; notes sit outside the sync projection entirely.
func (c *Contact) UpdateNotes(notes string) {
	c.Notes = notes
	c.UpdatedAt = time.Now()
}

func validateContactName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return shared.NewDomainError("INVALID_CONTACT_NAME", "Contact name cannot be empty")
	}
	if len(trimmed) > 200 {
		return shared.NewDomainError("INVALID_CONTACT_NAME", "Contact name cannot exceed 200 characters")
	}
	return nil
}
