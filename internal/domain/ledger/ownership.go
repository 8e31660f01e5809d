package ledger

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Field Ownership
// ---------------------------------------------------------------------------

// Owner identifies which side is authoritative for a field.
type Owner string

const (
	// OwnerLocal means local records are authoritative; pushes carry the
	// field, pulls never overwrite it.
	OwnerLocal Owner = "LOCAL"
	// OwnerRemote means the remote ledger is authoritative, typically for
	// values it computes (totals, balances, reconciliation state); pulls
	// carry the field, pushes never send it.
	OwnerRemote Owner = "REMOTE"
)

// fieldOwnership partitions every synced field of every entity type. A field
// absent from this table does not sync at all: it is dropped from documents,
// ignored by the fingerprint and untouched by either merge direction.
// Free-form notes and internal tags are the deliberate examples.
var fieldOwnership = map[EntityType]map[string]Owner{
	EntityTypeContact: {
		"name":           OwnerLocal,
		"contact_person": OwnerLocal,
		"email":          OwnerLocal,
		"phone":          OwnerLocal,
		"address_line1":  OwnerLocal,
		"address_line2":  OwnerLocal,
		"city":           OwnerLocal,
		"region":         OwnerLocal,
		"postal_code":    OwnerLocal,
		"country":        OwnerLocal,
		"tax_number":     OwnerLocal,
		"is_customer":    OwnerLocal,
		"is_supplier":    OwnerLocal,
		"currency":       OwnerLocal,

		// Computed by the ledger from posted invoices and payments.
		"ledger_status":       OwnerRemote,
		"outstanding_balance": OwnerRemote,
		"overdue_balance":     OwnerRemote,
	},
	EntityTypeInvoice: {
		// contact_id carries the remote ledger id of the contact so both
		// sides fingerprint references in the same id space.
		"contact_id": OwnerLocal,
		"number":     OwnerLocal,
		"reference":  OwnerLocal,
		"issue_date": OwnerLocal,
		"due_date":   OwnerLocal,
		"currency":   OwnerLocal,
		"status":     OwnerLocal,
		"line_items": OwnerLocal,

		// The ledger is the calculator of record for money totals.
		"sub_total":   OwnerRemote,
		"tax_total":   OwnerRemote,
		"total":       OwnerRemote,
		"amount_due":  OwnerRemote,
		"amount_paid": OwnerRemote,
	},
	EntityTypePayment: {
		// invoice_id carries the remote ledger id of the invoice.
		"invoice_id":   OwnerLocal,
		"account_code": OwnerLocal,
		"date":         OwnerLocal,
		"amount":       OwnerLocal,
		"reference":    OwnerLocal,

		// The ledger controls payment lifecycle and bank reconciliation.
		"status":     OwnerRemote,
		"reconciled": OwnerRemote,
	},
}

// FieldOwnership returns the complete field partition for an entity type.
func FieldOwnership(t EntityType) (map[string]Owner, error) {
	fields, ok := fieldOwnership[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityUnsupported, t)
	}
	return fields, nil
}

// RemoteOwnedFields returns the sorted names of the fields the remote ledger
// is authoritative for.
func RemoteOwnedFields(t EntityType) []string {
	fields := fieldOwnership[t]
	out := make([]string, 0, len(fields))
	for name, owner := range fields {
		if owner == OwnerRemote {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ProjectFields filters a document down to the fields that sync for the
// given entity type. Adapters call this at the boundary so that remote-side
// bookkeeping fields and unknown extensions never reach the fingerprint.
func ProjectFields(t EntityType, doc Document) (Document, error) {
	fields, err := FieldOwnership(t)
	if err != nil {
		return nil, err
	}
	out := make(Document, len(fields))
	for name := range fields {
		if v, ok := doc[name]; ok {
			out[name] = cloneValue(v)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Merging
// ---------------------------------------------------------------------------

// MergeRemoteIntoLocal builds the patch a pull applies to a local record.
// The patch contains only remote-owned fields. Local-owned values present in
// the remote document, spoofed or simply drifted, are dropped: iterating the
// ownership table rather than the input is what enforces that.
func MergeRemoteIntoLocal(t EntityType, remote Document) (Document, error) {
	fields, err := FieldOwnership(t)
	if err != nil {
		return nil, err
	}
	patch := make(Document)
	for name, owner := range fields {
		if owner != OwnerRemote {
			continue
		}
		if v, ok := remote[name]; ok {
			patch[name] = cloneValue(v)
		}
	}
	return patch, nil
}

// MergeLocalIntoRemote builds the full request body a push sends to the
// remote ledger. Remote-owned computed fields are never sent, even when the
// local document carries stale copies of them.
func MergeLocalIntoRemote(t EntityType, local Document) (Document, error) {
	fields, err := FieldOwnership(t)
	if err != nil {
		return nil, err
	}
	body := make(Document)
	for name, owner := range fields {
		if owner != OwnerLocal {
			continue
		}
		if v, ok := local[name]; ok {
			body[name] = cloneValue(v)
		}
	}
	return body, nil
}
