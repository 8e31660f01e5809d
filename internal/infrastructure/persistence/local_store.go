package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/books"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// BooksLocalStore implements the engine's LocalStore port over the books
// repositories. It projects rows into sync documents, applies patches back
// onto columns and materializes new records from remote documents.
//
// Reference fields are translated between id spaces here: a projected
// invoice carries its contact's remote ledger id, and an incoming document's
// remote reference is resolved back to the local row through the sync
// states. A reference whose target has no linked state surfaces as
// ErrDependencyMissing, which is what makes pipelines defer the dependent
// record instead of failing it.
type BooksLocalStore struct {
	contacts books.ContactRepository
	invoices books.InvoiceRepository
	payments books.PaymentRepository
	states   ledger.SyncStateRepository
	logger   *zap.Logger
}

// NewBooksLocalStore wires a local store over the books repositories.
func NewBooksLocalStore(
	contacts books.ContactRepository,
	invoices books.InvoiceRepository,
	payments books.PaymentRepository,
	states ledger.SyncStateRepository,
	logger *zap.Logger,
) *BooksLocalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BooksLocalStore{
		contacts: contacts,
		invoices: invoices,
		payments: payments,
		states:   states,
		logger:   logger,
	}
}

var _ ledger.LocalStore = (*BooksLocalStore)(nil)

// GetRecord projects one record into its sync document.
func (s *BooksLocalStore) GetRecord(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.LocalRecord, error) {
	switch entityType {
	case ledger.EntityTypeContact:
		contact, err := s.contacts.FindByID(ctx, tenantID, localID)
		if err != nil {
			return nil, mapRecordErr(err)
		}
		return &ledger.LocalRecord{
			LocalID:   contact.ID,
			Document:  projectContact(contact),
			UpdatedAt: contact.UpdatedAt,
		}, nil

	case ledger.EntityTypeInvoice:
		invoice, err := s.invoices.FindByID(ctx, tenantID, localID)
		if err != nil {
			return nil, mapRecordErr(err)
		}
		contactRemoteID, err := s.remoteIDFor(ctx, tenantID, ledger.EntityTypeContact, invoice.ContactID)
		if err != nil {
			return nil, err
		}
		return &ledger.LocalRecord{
			LocalID:   invoice.ID,
			Document:  projectInvoice(invoice, contactRemoteID),
			UpdatedAt: invoice.UpdatedAt,
		}, nil

	case ledger.EntityTypePayment:
		payment, err := s.payments.FindByID(ctx, tenantID, localID)
		if err != nil {
			return nil, mapRecordErr(err)
		}
		invoiceRemoteID, err := s.remoteIDFor(ctx, tenantID, ledger.EntityTypeInvoice, payment.InvoiceID)
		if err != nil {
			return nil, err
		}
		return &ledger.LocalRecord{
			LocalID:   payment.ID,
			Document:  projectPayment(payment, invoiceRemoteID),
			UpdatedAt: payment.UpdatedAt,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ledger.ErrEntityUnsupported, entityType)
	}
}

// ListRefs lists records matching the query, oldest first.
func (s *BooksLocalStore) ListRefs(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, query ledger.LocalQuery) ([]ledger.LocalRef, error) {
	recordQuery := books.RecordQuery{IDs: query.IDs, ModifiedSince: query.ModifiedSince}

	switch entityType {
	case ledger.EntityTypeContact:
		contacts, err := s.contacts.FindAll(ctx, tenantID, recordQuery)
		if err != nil {
			return nil, err
		}
		refs := make([]ledger.LocalRef, len(contacts))
		for i, c := range contacts {
			refs[i] = ledger.LocalRef{LocalID: c.ID, UpdatedAt: c.UpdatedAt}
		}
		return refs, nil

	case ledger.EntityTypeInvoice:
		invoices, err := s.invoices.FindAll(ctx, tenantID, recordQuery)
		if err != nil {
			return nil, err
		}
		refs := make([]ledger.LocalRef, len(invoices))
		for i, inv := range invoices {
			refs[i] = ledger.LocalRef{LocalID: inv.ID, UpdatedAt: inv.UpdatedAt}
		}
		return refs, nil

	case ledger.EntityTypePayment:
		payments, err := s.payments.FindAll(ctx, tenantID, recordQuery)
		if err != nil {
			return nil, err
		}
		refs := make([]ledger.LocalRef, len(payments))
		for i, p := range payments {
			refs[i] = ledger.LocalRef{LocalID: p.ID, UpdatedAt: p.UpdatedAt}
		}
		return refs, nil

	default:
		return nil, fmt.Errorf("%w: %s", ledger.ErrEntityUnsupported, entityType)
	}
}

// ApplyPatch writes the given document fields onto an existing record.
// Pulls pass ownership-filtered patches; conflict resolution passes the
// full captured document, which for invoices also replaces the lines.
func (s *BooksLocalStore) ApplyPatch(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID, patch ledger.Document) error {
	if len(patch) == 0 {
		return nil
	}

	switch entityType {
	case ledger.EntityTypeContact:
		cols, err := contactColumns(patch)
		if err != nil {
			return err
		}
		return mapRecordErr(s.contacts.UpdateFields(ctx, tenantID, localID, cols))

	case ledger.EntityTypeInvoice:
		cols, err := s.invoiceColumns(ctx, tenantID, patch)
		if err != nil {
			return err
		}
		if err := mapRecordErr(s.invoices.UpdateFields(ctx, tenantID, localID, cols)); err != nil {
			return err
		}
		if raw, ok := patch["line_items"]; ok {
			return s.replaceInvoiceLines(ctx, tenantID, localID, raw)
		}
		return nil

	case ledger.EntityTypePayment:
		cols, err := s.paymentColumns(ctx, tenantID, patch)
		if err != nil {
			return err
		}
		return mapRecordErr(s.payments.UpdateFields(ctx, tenantID, localID, cols))

	default:
		return fmt.Errorf("%w: %s", ledger.ErrEntityUnsupported, entityType)
	}
}

// CreateFromRemote materializes a new local record from a full remote
// document. Construction failures are surfaced as malformed documents;
// unresolvable references as missing dependencies.
func (s *BooksLocalStore) CreateFromRemote(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, doc ledger.Document) (uuid.UUID, error) {
	switch entityType {
	case ledger.EntityTypeContact:
		return s.createContact(ctx, tenantID, doc)
	case ledger.EntityTypeInvoice:
		return s.createInvoice(ctx, tenantID, doc)
	case ledger.EntityTypePayment:
		return s.createPayment(ctx, tenantID, doc)
	default:
		return uuid.Nil, fmt.Errorf("%w: %s", ledger.ErrEntityUnsupported, entityType)
	}
}

func (s *BooksLocalStore) createContact(ctx context.Context, tenantID uuid.UUID, doc ledger.Document) (uuid.UUID, error) {
	name, err := asString("name", doc["name"])
	if err != nil {
		return uuid.Nil, err
	}
	contact, err := books.NewContact(tenantID, name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ledger.ErrMalformedDocument, err)
	}

	cols, err := contactColumns(doc)
	if err != nil {
		return uuid.Nil, err
	}
	applyContactColumns(contact, cols)

	if err := s.contacts.Save(ctx, contact); err != nil {
		return uuid.Nil, err
	}
	return contact.ID, nil
}

func (s *BooksLocalStore) createInvoice(ctx context.Context, tenantID uuid.UUID, doc ledger.Document) (uuid.UUID, error) {
	contactRemoteID, err := asString("contact_id", doc["contact_id"])
	if err != nil {
		return uuid.Nil, err
	}
	contactLocalID, err := s.localIDFor(ctx, tenantID, ledger.EntityTypeContact, contactRemoteID)
	if err != nil {
		return uuid.Nil, err
	}

	number, err := asString("number", doc["number"])
	if err != nil {
		return uuid.Nil, err
	}
	issueDate, err := asDate("issue_date", doc["issue_date"])
	if err != nil {
		return uuid.Nil, err
	}
	dueDate, err := asDate("due_date", doc["due_date"])
	if err != nil {
		return uuid.Nil, err
	}

	invoice, err := books.NewInvoice(tenantID, contactLocalID, number, issueDate, dueDate)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ledger.ErrMalformedDocument, err)
	}

	cols, err := s.invoiceColumns(ctx, tenantID, doc)
	if err != nil {
		return uuid.Nil, err
	}
	applyInvoiceColumns(invoice, cols)

	if raw, ok := doc["line_items"]; ok {
		lines, err := buildInvoiceLines(invoice.ID, raw)
		if err != nil {
			return uuid.Nil, err
		}
		invoice.Lines = lines
	}

	if err := s.invoices.Save(ctx, invoice); err != nil {
		return uuid.Nil, err
	}
	return invoice.ID, nil
}

func (s *BooksLocalStore) createPayment(ctx context.Context, tenantID uuid.UUID, doc ledger.Document) (uuid.UUID, error) {
	invoiceRemoteID, err := asString("invoice_id", doc["invoice_id"])
	if err != nil {
		return uuid.Nil, err
	}
	invoiceLocalID, err := s.localIDFor(ctx, tenantID, ledger.EntityTypeInvoice, invoiceRemoteID)
	if err != nil {
		return uuid.Nil, err
	}

	accountCode, err := asString("account_code", doc["account_code"])
	if err != nil {
		return uuid.Nil, err
	}
	date, err := asDate("date", doc["date"])
	if err != nil {
		return uuid.Nil, err
	}
	amount, err := asDecimal("amount", doc["amount"])
	if err != nil {
		return uuid.Nil, err
	}

	payment, err := books.NewPayment(tenantID, invoiceLocalID, accountCode, date, amount)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ledger.ErrMalformedDocument, err)
	}

	cols, err := s.paymentColumns(ctx, tenantID, doc)
	if err != nil {
		return uuid.Nil, err
	}
	applyPaymentColumns(payment, cols)

	if err := s.payments.Save(ctx, payment); err != nil {
		return uuid.Nil, err
	}
	return payment.ID, nil
}

// ---------------------------------------------------------------------------
// Reference resolution
// ---------------------------------------------------------------------------

// remoteIDFor resolves a local reference into the remote id space.
func (s *BooksLocalStore) remoteIDFor(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (string, error) {
	state, err := s.states.FindByLocalID(ctx, tenantID, entityType, localID)
	if errors.Is(err, ledger.ErrStateNotFound) {
		return "", fmt.Errorf("%w: %s %s is not linked to the ledger", ledger.ErrDependencyMissing, strings.ToLower(entityType.String()), localID)
	}
	if err != nil {
		return "", err
	}
	if !state.Linked() {
		return "", fmt.Errorf("%w: %s %s is not linked to the ledger", ledger.ErrDependencyMissing, strings.ToLower(entityType.String()), localID)
	}
	return state.RemoteID, nil
}

// localIDFor resolves a remote reference into the local id space.
func (s *BooksLocalStore) localIDFor(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string) (uuid.UUID, error) {
	if remoteID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty %s reference", ledger.ErrMalformedDocument, strings.ToLower(entityType.String()))
	}
	state, err := s.states.FindByRemoteID(ctx, tenantID, entityType, remoteID)
	if errors.Is(err, ledger.ErrStateNotFound) {
		return uuid.Nil, fmt.Errorf("%w: %s %s has not been pulled yet", ledger.ErrDependencyMissing, strings.ToLower(entityType.String()), remoteID)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return state.LocalID, nil
}

// ---------------------------------------------------------------------------
// Document -> column translation
// ---------------------------------------------------------------------------

// contactColumns coerces contact document fields into column values. Keys
// outside the synced field set are dropped.
func contactColumns(patch ledger.Document) (map[string]any, error) {
	cols := make(map[string]any, len(patch))
	for key, raw := range patch {
		switch key {
		case "name", "contact_person", "email", "phone", "address_line1", "address_line2",
			"city", "region", "postal_code", "country", "tax_number", "currency":
			v, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "is_customer", "is_supplier":
			v, err := asBool(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "ledger_status":
			v, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = books.LedgerStatus(v)
		case "outstanding_balance", "overdue_balance":
			v, err := asDecimal(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		}
	}
	return cols, nil
}

func (s *BooksLocalStore) invoiceColumns(ctx context.Context, tenantID uuid.UUID, patch ledger.Document) (map[string]any, error) {
	cols := make(map[string]any, len(patch))
	for key, raw := range patch {
		switch key {
		case "contact_id":
			remoteID, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			localID, err := s.localIDFor(ctx, tenantID, ledger.EntityTypeContact, remoteID)
			if err != nil {
				return nil, err
			}
			cols[key] = localID
		case "number", "reference", "currency":
			v, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "status":
			v, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			status := books.InvoiceStatus(v)
			if !status.IsValid() {
				return nil, fmt.Errorf("%w: invoice status %q", ledger.ErrMalformedDocument, v)
			}
			cols[key] = status
		case "issue_date", "due_date":
			v, err := asDate(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "sub_total", "tax_total", "total", "amount_due", "amount_paid":
			v, err := asDecimal(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		}
	}
	return cols, nil
}

func (s *BooksLocalStore) paymentColumns(ctx context.Context, tenantID uuid.UUID, patch ledger.Document) (map[string]any, error) {
	cols := make(map[string]any, len(patch))
	for key, raw := range patch {
		switch key {
		case "invoice_id":
			remoteID, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			localID, err := s.localIDFor(ctx, tenantID, ledger.EntityTypeInvoice, remoteID)
			if err != nil {
				return nil, err
			}
			cols[key] = localID
		case "account_code", "reference":
			v, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "status":
			v, err := asString(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = books.PaymentStatus(v)
		case "date":
			v, err := asDate(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "amount":
			v, err := asDecimal(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		case "reconciled":
			v, err := asBool(key, raw)
			if err != nil {
				return nil, err
			}
			cols[key] = v
		}
	}
	return cols, nil
}

// replaceInvoiceLines swaps the invoice's lines for the patched set.
func (s *BooksLocalStore) replaceInvoiceLines(ctx context.Context, tenantID, localID uuid.UUID, raw any) error {
	invoice, err := s.invoices.FindByID(ctx, tenantID, localID)
	if err != nil {
		return mapRecordErr(err)
	}
	lines, err := buildInvoiceLines(invoice.ID, raw)
	if err != nil {
		return err
	}
	invoice.Lines = lines
	return s.invoices.Save(ctx, invoice)
}

// ---------------------------------------------------------------------------
// Column -> aggregate application (create path)
// ---------------------------------------------------------------------------

func applyContactColumns(contact *books.Contact, cols map[string]any) {
	for key, v := range cols {
		switch key {
		case "name":
			contact.Name = v.(string)
		case "contact_person":
			contact.ContactPerson = v.(string)
		case "email":
			contact.Email = v.(string)
		case "phone":
			contact.Phone = v.(string)
		case "address_line1":
			contact.AddressLine1 = v.(string)
		case "address_line2":
			contact.AddressLine2 = v.(string)
		case "city":
			contact.City = v.(string)
		case "region":
			contact.Region = v.(string)
		case "postal_code":
			contact.PostalCode = v.(string)
		case "country":
			contact.Country = v.(string)
		case "tax_number":
			contact.TaxNumber = v.(string)
		case "currency":
			contact.Currency = v.(string)
		case "is_customer":
			contact.IsCustomer = v.(bool)
		case "is_supplier":
			contact.IsSupplier = v.(bool)
		case "ledger_status":
			contact.LedgerStatus = v.(books.LedgerStatus)
		case "outstanding_balance":
			contact.OutstandingBalance = v.(decimal.Decimal)
		case "overdue_balance":
			contact.OverdueBalance = v.(decimal.Decimal)
		}
	}
}

func applyInvoiceColumns(invoice *books.Invoice, cols map[string]any) {
	for key, v := range cols {
		switch key {
		case "reference":
			invoice.Reference = v.(string)
		case "currency":
			invoice.Currency = v.(string)
		case "status":
			invoice.Status = v.(books.InvoiceStatus)
		case "sub_total":
			invoice.SubTotal = v.(decimal.Decimal)
		case "tax_total":
			invoice.TaxTotal = v.(decimal.Decimal)
		case "total":
			invoice.Total = v.(decimal.Decimal)
		case "amount_due":
			invoice.AmountDue = v.(decimal.Decimal)
		case "amount_paid":
			invoice.AmountPaid = v.(decimal.Decimal)
		}
	}
}

func applyPaymentColumns(payment *books.Payment, cols map[string]any) {
	for key, v := range cols {
		switch key {
		case "reference":
			payment.Reference = v.(string)
		case "status":
			payment.Status = v.(books.PaymentStatus)
		case "reconciled":
			payment.Reconciled = v.(bool)
		}
	}
}

// mapRecordErr translates repository not-found errors into the engine's
// missing-record sentinel.
func mapRecordErr(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: local record missing", ledger.ErrStateNotFound)
	}
	return err
}
