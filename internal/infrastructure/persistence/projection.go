package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerlink/backend/internal/domain/books"
	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// dateLayout is how business dates travel inside sync documents. Date-only
// strings sidestep timezone drift between the two systems; only the day
// matters for invoice and payment dates.
const dateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Record -> Document projection
// ---------------------------------------------------------------------------

// projectContact builds the sync document for a contact. Notes stay out of
// the projection so local-only edits never register as drift.
func projectContact(c *books.Contact) ledger.Document {
	return ledger.Document{
		"name":           c.Name,
		"contact_person": c.ContactPerson,
		"email":          c.Email,
		"phone":          c.Phone,
		"address_line1":  c.AddressLine1,
		"address_line2":  c.AddressLine2,
		"city":           c.City,
		"region":         c.Region,
		"postal_code":    c.PostalCode,
		"country":        c.Country,
		"tax_number":     c.TaxNumber,
		"currency":       c.Currency,
		"is_customer":    c.IsCustomer,
		"is_supplier":    c.IsSupplier,

		"ledger_status":       string(c.LedgerStatus),
		"outstanding_balance": c.OutstandingBalance,
		"overdue_balance":     c.OverdueBalance,
	}
}

// projectInvoice builds the sync document for an invoice. The contact
// reference is carried as the contact's remote ledger id so both sides
// fingerprint references in the same id space.
func projectInvoice(inv *books.Invoice, contactRemoteID string) ledger.Document {
	lines := make([]any, len(inv.Lines))
	for i, line := range inv.Lines {
		lines[i] = projectInvoiceLine(line)
	}
	return ledger.Document{
		"contact_id": contactRemoteID,
		"number":     inv.Number,
		"reference":  inv.Reference,
		"status":     string(inv.Status),
		"issue_date": inv.IssueDate.UTC().Format(dateLayout),
		"due_date":   inv.DueDate.UTC().Format(dateLayout),
		"currency":   inv.Currency,
		"line_items": lines,

		"sub_total":   inv.SubTotal,
		"tax_total":   inv.TaxTotal,
		"total":       inv.Total,
		"amount_due":  inv.AmountDue,
		"amount_paid": inv.AmountPaid,
	}
}

func projectInvoiceLine(line books.InvoiceLine) ledger.Document {
	return ledger.Document{
		"position":     line.Position,
		"description":  line.Description,
		"quantity":     line.Quantity,
		"unit_amount":  line.UnitAmount,
		"tax_rate":     line.TaxRate,
		"account_code": line.AccountCode,
	}
}

// projectPayment builds the sync document for a payment. The invoice
// reference is carried as the invoice's remote ledger id.
func projectPayment(p *books.Payment, invoiceRemoteID string) ledger.Document {
	return ledger.Document{
		"invoice_id":   invoiceRemoteID,
		"account_code": p.AccountCode,
		"date":         p.Date.UTC().Format(dateLayout),
		"amount":       p.Amount,
		"reference":    p.Reference,

		"status":     string(p.Status),
		"reconciled": p.Reconciled,
	}
}

// ---------------------------------------------------------------------------
// Document value coercion
// ---------------------------------------------------------------------------

// Documents cross two representations: fresh from the ledger adapter they
// carry typed values (decimal.Decimal, bool), re-hydrated from a stored
// conflict snapshot they carry plain JSON scalars. The coercers below accept
// both so ApplyPatch works the same on either source.

func asString(key string, v any) (string, error) {
	switch tv := v.(type) {
	case string:
		return tv, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: field %s is %T, expected string", ledger.ErrMalformedDocument, key, v)
	}
}

func asBool(key string, v any) (bool, error) {
	switch tv := v.(type) {
	case bool:
		return tv, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("%w: field %s is %T, expected bool", ledger.ErrMalformedDocument, key, v)
	}
}

func asDecimal(key string, v any) (decimal.Decimal, error) {
	switch tv := v.(type) {
	case decimal.Decimal:
		return tv, nil
	case string:
		d, err := decimal.NewFromString(tv)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: field %s: %v", ledger.ErrMalformedDocument, key, err)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(tv.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: field %s: %v", ledger.ErrMalformedDocument, key, err)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(tv)), nil
	case int64:
		return decimal.NewFromInt(tv), nil
	case float64:
		// Only reachable for re-hydrated snapshots; fresh documents carry
		// decimals as decimal.Decimal or string.
		return decimal.NewFromFloat(tv), nil
	case nil:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: field %s is %T, expected decimal", ledger.ErrMalformedDocument, key, v)
	}
}

func asDate(key string, v any) (time.Time, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC(), nil
	case string:
		if t, err := time.Parse(dateLayout, tv); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, tv); err == nil {
			return t.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("%w: field %s: cannot parse %q as date", ledger.ErrMalformedDocument, key, tv)
	default:
		return time.Time{}, fmt.Errorf("%w: field %s is %T, expected date", ledger.ErrMalformedDocument, key, v)
	}
}

func asInt(key string, v any) (int, error) {
	switch tv := v.(type) {
	case int:
		return tv, nil
	case int64:
		return int(tv), nil
	case float64:
		return int(tv), nil
	case json.Number:
		n, err := tv.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: field %s: %v", ledger.ErrMalformedDocument, key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: field %s is %T, expected integer", ledger.ErrMalformedDocument, key, v)
	}
}

// asLineDocs normalizes a line_items value into a slice of field maps.
func asLineDocs(v any) ([]ledger.Document, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: line_items is %T, expected array", ledger.ErrMalformedDocument, v)
	}
	docs := make([]ledger.Document, 0, len(items))
	for i, item := range items {
		switch tv := item.(type) {
		case ledger.Document:
			docs = append(docs, tv)
		case map[string]any:
			docs = append(docs, ledger.Document(tv))
		default:
			return nil, fmt.Errorf("%w: line_items[%d] is %T, expected object", ledger.ErrMalformedDocument, i, item)
		}
	}
	return docs, nil
}

// buildInvoiceLines materializes invoice lines from a line_items document
// array. Positions are reassigned from array order so both sides agree on
// ordering regardless of what the payload carried.
func buildInvoiceLines(invoiceID uuid.UUID, v any) ([]books.InvoiceLine, error) {
	docs, err := asLineDocs(v)
	if err != nil {
		return nil, err
	}
	lines := make([]books.InvoiceLine, 0, len(docs))
	for i, doc := range docs {
		description, err := asString("line_items.description", doc["description"])
		if err != nil {
			return nil, err
		}
		quantity, err := asDecimal("line_items.quantity", doc["quantity"])
		if err != nil {
			return nil, err
		}
		unitAmount, err := asDecimal("line_items.unit_amount", doc["unit_amount"])
		if err != nil {
			return nil, err
		}
		line, err := books.NewInvoiceLine(invoiceID, i+1, description, quantity, unitAmount)
		if err != nil {
			return nil, err
		}
		if raw, ok := doc["tax_rate"]; ok {
			taxRate, err := asDecimal("line_items.tax_rate", raw)
			if err != nil {
				return nil, err
			}
			line.TaxRate = taxRate
		}
		if raw, ok := doc["account_code"]; ok {
			accountCode, err := asString("line_items.account_code", raw)
			if err != nil {
				return nil, err
			}
			line.AccountCode = accountCode
		}
		lines = append(lines, *line)
	}
	return lines, nil
}
