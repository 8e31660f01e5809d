package remoteledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// dateLayout is how business dates travel on the wire, matching the
// date-only form used inside sync documents.
const dateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Wire Payloads
// ---------------------------------------------------------------------------

// The ledger speaks JSON with camelCase keys and decimal amounts. Every
// payload is decoded into a typed struct at this boundary and converted to
// the document projection before core logic sees it; malformed payloads
// fail here with ErrMalformedDocument. Amounts decode through json.Number
// so no binary float is ever materialized.

type wireList struct {
	Items   []json.RawMessage `json:"items"`
	HasMore bool              `json:"hasMore"`
}

type wireError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Violations []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"violations"`
}

type wireContact struct {
	ContactID          string      `json:"contactId"`
	Name               string      `json:"name"`
	ContactPerson      string      `json:"contactPerson"`
	Email              string      `json:"email"`
	Phone              string      `json:"phone"`
	AddressLine1       string      `json:"addressLine1"`
	AddressLine2       string      `json:"addressLine2"`
	City               string      `json:"city"`
	Region             string      `json:"region"`
	PostalCode         string      `json:"postalCode"`
	Country            string      `json:"country"`
	TaxNumber          string      `json:"taxNumber"`
	Currency           string      `json:"currencyCode"`
	IsCustomer         bool        `json:"isCustomer"`
	IsSupplier         bool        `json:"isSupplier"`
	Status             string      `json:"status"`
	OutstandingBalance json.Number `json:"outstandingBalance"`
	OverdueBalance     json.Number `json:"overdueBalance"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

type wireInvoiceLine struct {
	Position    int         `json:"position"`
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	UnitAmount  json.Number `json:"unitAmount"`
	TaxRate     json.Number `json:"taxRate"`
	AccountCode string      `json:"accountCode"`
}

type wireInvoice struct {
	InvoiceID  string            `json:"invoiceId"`
	ContactID  string            `json:"contactId"`
	Number     string            `json:"invoiceNumber"`
	Reference  string            `json:"reference"`
	Status     string            `json:"status"`
	IssueDate  string            `json:"issueDate"`
	DueDate    string            `json:"dueDate"`
	Currency   string            `json:"currencyCode"`
	Lines      []wireInvoiceLine `json:"lineItems"`
	SubTotal   json.Number       `json:"subTotal"`
	TaxTotal   json.Number       `json:"totalTax"`
	Total      json.Number       `json:"total"`
	AmountDue  json.Number       `json:"amountDue"`
	AmountPaid json.Number       `json:"amountPaid"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type wirePayment struct {
	PaymentID   string      `json:"paymentId"`
	InvoiceID   string      `json:"invoiceId"`
	AccountCode string      `json:"accountCode"`
	Date        string      `json:"date"`
	Amount      json.Number `json:"amount"`
	Reference   string      `json:"reference"`
	Status      string      `json:"status"`
	Reconciled  bool        `json:"reconciled"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ---------------------------------------------------------------------------
// Wire -> Document
// ---------------------------------------------------------------------------

// decodeRecord converts one wire payload into the document projection.
func decodeRecord(entityType ledger.EntityType, raw []byte) (*ledger.RemoteRecord, error) {
	switch entityType {
	case ledger.EntityTypeContact:
		return decodeContact(raw)
	case ledger.EntityTypeInvoice:
		return decodeInvoice(raw)
	case ledger.EntityTypePayment:
		return decodePayment(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ledger.ErrEntityUnsupported, entityType)
	}
}

func decodeContact(raw []byte) (*ledger.RemoteRecord, error) {
	var w wireContact
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: contact payload: %v", ledger.ErrMalformedDocument, err)
	}
	if w.ContactID == "" {
		return nil, fmt.Errorf("%w: contact payload missing contactId", ledger.ErrMalformedDocument)
	}
	if w.Name == "" {
		return nil, fmt.Errorf("%w: contact %s missing name", ledger.ErrMalformedDocument, w.ContactID)
	}
	outstanding, err := wireDecimal("outstandingBalance", w.OutstandingBalance)
	if err != nil {
		return nil, err
	}
	overdue, err := wireDecimal("overdueBalance", w.OverdueBalance)
	if err != nil {
		return nil, err
	}

	doc := ledger.Document{
		"name":           w.Name,
		"contact_person": w.ContactPerson,
		"email":          w.Email,
		"phone":          w.Phone,
		"address_line1":  w.AddressLine1,
		"address_line2":  w.AddressLine2,
		"city":           w.City,
		"region":         w.Region,
		"postal_code":    w.PostalCode,
		"country":        w.Country,
		"tax_number":     w.TaxNumber,
		"currency":       w.Currency,
		"is_customer":    w.IsCustomer,
		"is_supplier":    w.IsSupplier,

		"ledger_status":       w.Status,
		"outstanding_balance": outstanding,
		"overdue_balance":     overdue,
	}
	return &ledger.RemoteRecord{RemoteID: w.ContactID, Document: doc, UpdatedAt: w.UpdatedAt.UTC()}, nil
}

func decodeInvoice(raw []byte) (*ledger.RemoteRecord, error) {
	var w wireInvoice
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: invoice payload: %v", ledger.ErrMalformedDocument, err)
	}
	if w.InvoiceID == "" {
		return nil, fmt.Errorf("%w: invoice payload missing invoiceId", ledger.ErrMalformedDocument)
	}
	if w.ContactID == "" {
		return nil, fmt.Errorf("%w: invoice %s missing contactId", ledger.ErrMalformedDocument, w.InvoiceID)
	}
	if err := wireDate("issueDate", w.IssueDate); err != nil {
		return nil, err
	}
	if err := wireDate("dueDate", w.DueDate); err != nil {
		return nil, err
	}

	lines := make([]any, len(w.Lines))
	for i, l := range w.Lines {
		quantity, err := wireDecimal("quantity", l.Quantity)
		if err != nil {
			return nil, err
		}
		unitAmount, err := wireDecimal("unitAmount", l.UnitAmount)
		if err != nil {
			return nil, err
		}
		taxRate, err := wireDecimal("taxRate", l.TaxRate)
		if err != nil {
			return nil, err
		}
		lines[i] = ledger.Document{
			"position":     l.Position,
			"description":  l.Description,
			"quantity":     quantity,
			"unit_amount":  unitAmount,
			"tax_rate":     taxRate,
			"account_code": l.AccountCode,
		}
	}

	amounts := make(map[string]decimal.Decimal, 5)
	for key, n := range map[string]json.Number{
		"sub_total":   w.SubTotal,
		"tax_total":   w.TaxTotal,
		"total":       w.Total,
		"amount_due":  w.AmountDue,
		"amount_paid": w.AmountPaid,
	} {
		d, err := wireDecimal(key, n)
		if err != nil {
			return nil, err
		}
		amounts[key] = d
	}

	doc := ledger.Document{
		"contact_id": w.ContactID,
		"number":     w.Number,
		"reference":  w.Reference,
		"status":     w.Status,
		"issue_date": w.IssueDate,
		"due_date":   w.DueDate,
		"currency":   w.Currency,
		"line_items": lines,

		"sub_total":   amounts["sub_total"],
		"tax_total":   amounts["tax_total"],
		"total":       amounts["total"],
		"amount_due":  amounts["amount_due"],
		"amount_paid": amounts["amount_paid"],
	}
	return &ledger.RemoteRecord{RemoteID: w.InvoiceID, Document: doc, UpdatedAt: w.UpdatedAt.UTC()}, nil
}

func decodePayment(raw []byte) (*ledger.RemoteRecord, error) {
	var w wirePayment
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: payment payload: %v", ledger.ErrMalformedDocument, err)
	}
	if w.PaymentID == "" {
		return nil, fmt.Errorf("%w: payment payload missing paymentId", ledger.ErrMalformedDocument)
	}
	if w.InvoiceID == "" {
		return nil, fmt.Errorf("%w: payment %s missing invoiceId", ledger.ErrMalformedDocument, w.PaymentID)
	}
	if err := wireDate("date", w.Date); err != nil {
		return nil, err
	}
	amount, err := wireDecimal("amount", w.Amount)
	if err != nil {
		return nil, err
	}

	doc := ledger.Document{
		"invoice_id":   w.InvoiceID,
		"account_code": w.AccountCode,
		"date":         w.Date,
		"amount":       amount,
		"reference":    w.Reference,

		"status":     w.Status,
		"reconciled": w.Reconciled,
	}
	return &ledger.RemoteRecord{RemoteID: w.PaymentID, Document: doc, UpdatedAt: w.UpdatedAt.UTC()}, nil
}

// ---------------------------------------------------------------------------
// Document -> Wire
// ---------------------------------------------------------------------------

// encodeBody converts an outbound request document into the wire body. The
// input is the ownership merger's output, so it already holds only the
// fields the local side may write; the ledger recomputes everything else.
func encodeBody(entityType ledger.EntityType, doc ledger.Document) (map[string]any, error) {
	switch entityType {
	case ledger.EntityTypeContact:
		return encodeContact(doc)
	case ledger.EntityTypeInvoice:
		return encodeInvoice(doc)
	case ledger.EntityTypePayment:
		return encodePayment(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ledger.ErrEntityUnsupported, entityType)
	}
}

func encodeContact(doc ledger.Document) (map[string]any, error) {
	body := make(map[string]any, len(doc))
	for field, wireKey := range map[string]string{
		"name":           "name",
		"contact_person": "contactPerson",
		"email":          "email",
		"phone":          "phone",
		"address_line1":  "addressLine1",
		"address_line2":  "addressLine2",
		"city":           "city",
		"region":         "region",
		"postal_code":    "postalCode",
		"country":        "country",
		"tax_number":     "taxNumber",
		"currency":       "currencyCode",
	} {
		s, err := docString(doc, field)
		if err != nil {
			return nil, err
		}
		body[wireKey] = s
	}
	for field, wireKey := range map[string]string{
		"is_customer": "isCustomer",
		"is_supplier": "isSupplier",
	} {
		b, err := docBool(doc, field)
		if err != nil {
			return nil, err
		}
		body[wireKey] = b
	}
	return body, nil
}

func encodeInvoice(doc ledger.Document) (map[string]any, error) {
	body := make(map[string]any, len(doc))
	for field, wireKey := range map[string]string{
		"contact_id": "contactId",
		"number":     "invoiceNumber",
		"reference":  "reference",
		"status":     "status",
		"issue_date": "issueDate",
		"due_date":   "dueDate",
		"currency":   "currencyCode",
	} {
		s, err := docString(doc, field)
		if err != nil {
			return nil, err
		}
		body[wireKey] = s
	}

	rawLines, ok := doc["line_items"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: invoice document missing line_items", ledger.ErrMalformedDocument)
	}
	lines := make([]map[string]any, len(rawLines))
	for i, rawLine := range rawLines {
		line, ok := rawLine.(ledger.Document)
		if !ok {
			return nil, fmt.Errorf("%w: line item %d is %T", ledger.ErrMalformedDocument, i, rawLine)
		}
		description, err := docString(line, "description")
		if err != nil {
			return nil, err
		}
		accountCode, err := docString(line, "account_code")
		if err != nil {
			return nil, err
		}
		quantity, err := docDecimal(line, "quantity")
		if err != nil {
			return nil, err
		}
		unitAmount, err := docDecimal(line, "unit_amount")
		if err != nil {
			return nil, err
		}
		taxRate, err := docDecimal(line, "tax_rate")
		if err != nil {
			return nil, err
		}
		lines[i] = map[string]any{
			"position":    i + 1,
			"description": description,
			"quantity":    quantity,
			"unitAmount":  unitAmount,
			"taxRate":     taxRate,
			"accountCode": accountCode,
		}
	}
	body["lineItems"] = lines
	return body, nil
}

func encodePayment(doc ledger.Document) (map[string]any, error) {
	body := make(map[string]any, len(doc))
	for field, wireKey := range map[string]string{
		"invoice_id":   "invoiceId",
		"account_code": "accountCode",
		"date":         "date",
		"reference":    "reference",
	} {
		s, err := docString(doc, field)
		if err != nil {
			return nil, err
		}
		body[wireKey] = s
	}
	amount, err := docDecimal(doc, "amount")
	if err != nil {
		return nil, err
	}
	body["amount"] = amount
	return body, nil
}

// ---------------------------------------------------------------------------
// Value Coercion
// ---------------------------------------------------------------------------

func wireDecimal(key string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: field %s: %v", ledger.ErrMalformedDocument, key, err)
	}
	return d, nil
}

func wireDate(key, value string) error {
	if value == "" {
		return fmt.Errorf("%w: field %s is empty", ledger.ErrMalformedDocument, key)
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return fmt.Errorf("%w: field %s: %v", ledger.ErrMalformedDocument, key, err)
	}
	return nil
}

func docString(doc ledger.Document, key string) (string, error) {
	switch v := doc[key].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: field %s is %T, expected string", ledger.ErrMalformedDocument, key, v)
	}
}

func docBool(doc ledger.Document, key string) (bool, error) {
	switch v := doc[key].(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("%w: field %s is %T, expected bool", ledger.ErrMalformedDocument, key, v)
	}
}

func docDecimal(doc ledger.Document, key string) (decimal.Decimal, error) {
	switch v := doc[key].(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: field %s: %v", ledger.ErrMalformedDocument, key, err)
		}
		return d, nil
	case nil:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: field %s is %T, expected decimal", ledger.ErrMalformedDocument, key, v)
	}
}
