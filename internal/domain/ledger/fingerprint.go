package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Numeric fields are rendered with a fixed number of decimal places so that
// "100", "100.0" and "100.00" fingerprint identically on both sides.
const fingerprintDecimalPlaces = 4

// Fingerprint computes a deterministic content hash over a document.
//
// The document is serialized into a canonical form before hashing:
// object keys are sorted bytewise, strings are NFC-normalized, decimals are
// rendered with fixed precision, and timestamps are rendered as UTC RFC3339
// truncated to whole seconds. Two documents with the same field values
// always produce the same fingerprint regardless of map iteration order or
// the formatting of the payload they were decoded from.
//
// A document containing an unsupported value, including any binary float,
// is malformed and returns an error wrapping ErrMalformedDocument.
func Fingerprint(doc Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", ErrMalformedDocument)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, map[string]any(doc), "$"); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any, path string) error {
	switch tv := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		writeCanonicalString(buf, tv)
	case bool:
		if tv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		buf.WriteString(strconv.FormatInt(int64(tv), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(tv), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(tv, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(tv), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(tv), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(tv, 10))
	case decimal.Decimal:
		buf.WriteString(tv.StringFixed(fingerprintDecimalPlaces))
	case json.Number:
		dec, err := decimal.NewFromString(tv.String())
		if err != nil {
			return fmt.Errorf("%w: invalid number %q at %s", ErrMalformedDocument, tv.String(), path)
		}
		buf.WriteString(dec.StringFixed(fingerprintDecimalPlaces))
	case time.Time:
		buf.WriteString(strconv.Quote(tv.UTC().Truncate(time.Second).Format(time.RFC3339)))
	case uuid.UUID:
		writeCanonicalString(buf, tv.String())
	case float32, float64:
		// Floats round-trip unreliably through JSON and databases. Amounts
		// must arrive as decimal.Decimal or json.Number.
		return fmt.Errorf("%w: binary float at %s", ErrMalformedDocument, path)
	case Document:
		return writeCanonicalObject(buf, map[string]any(tv), path)
	case map[string]any:
		return writeCanonicalObject(buf, tv, path)
	case []any:
		buf.WriteByte('[')
		for i, elem := range tv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("%w: unsupported type %T at %s", ErrMalformedDocument, v, path)
	}
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, m map[string]any, path string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalString(buf, k)
		buf.WriteByte(':')
		if err := writeCanonical(buf, m[k], path+"."+k); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString writes an NFC-normalized, JSON-quoted string.
// json.Marshal never fails for strings and escapes deterministically.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	quoted, _ := json.Marshal(norm.NFC.String(s))
	buf.Write(quoted)
}
