package ledger

// Document is the normalized field map for one syncable record. Both sides
// of the sync produce Documents over the same field names: the persistence
// layer projects local rows into Documents and the ledger adapter decodes
// remote payloads into Documents. Fields that never sync (free-form notes,
// internal tags) are absent from the Document entirely.
//
// Allowed value types are string, bool, integers, decimal.Decimal,
// time.Time, nil, nested Documents and []any of those. Binary floats are
// deliberately not allowed; monetary amounts travel as decimals.
type Document map[string]any

// Clone returns a deep copy of the document. Nested documents and slices
// are copied, scalar values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case Document:
		return tv.Clone()
	case map[string]any:
		return Document(tv).Clone()
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
