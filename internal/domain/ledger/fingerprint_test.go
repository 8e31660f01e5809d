package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fingerprint Tests
// ---------------------------------------------------------------------------

func TestFingerprint_Deterministic(t *testing.T) {
	doc := Document{
		"name":   "Acme Corp",
		"email":  "billing@acme.example",
		"active": true,
		"lines": []any{
			Document{"description": "Consulting", "quantity": decimal.NewFromInt(3)},
			Document{"description": "Hosting", "quantity": decimal.NewFromInt(1)},
		},
	}

	first, err := Fingerprint(doc)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Fingerprint(doc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Len(t, first, 64, "sha-256 hex digest")
}

func TestFingerprint_KeyOrderIrrelevant(t *testing.T) {
	// Maps built in different insertion orders must hash identically.
	a := Document{}
	a["zeta"] = "z"
	a["alpha"] = "a"
	a["mid"] = int64(5)

	b := Document{}
	b["mid"] = int64(5)
	b["alpha"] = "a"
	b["zeta"] = "z"

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_NumericNormalization(t *testing.T) {
	hundred := decimal.NewFromInt(100)
	hundredScaled, err := decimal.NewFromString("100.00")
	require.NoError(t, err)

	fpPlain, err := Fingerprint(Document{"total": hundred})
	require.NoError(t, err)
	fpScaled, err := Fingerprint(Document{"total": hundredScaled})
	require.NoError(t, err)
	assert.Equal(t, fpPlain, fpScaled, "100 and 100.00 are the same amount")

	fpNumber, err := Fingerprint(Document{"total": json.Number("100.0000")})
	require.NoError(t, err)
	assert.Equal(t, fpPlain, fpNumber, "json.Number normalizes like a decimal")

	fpOther, err := Fingerprint(Document{"total": decimal.RequireFromString("100.01")})
	require.NoError(t, err)
	assert.NotEqual(t, fpPlain, fpOther)
}

func TestFingerprint_TimestampNormalization(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	utc := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	shifted := time.Date(2026, 3, 14, 12, 30, 0, 500_000_000, loc)

	fpUTC, err := Fingerprint(Document{"issue_date": utc})
	require.NoError(t, err)
	fpShifted, err := Fingerprint(Document{"issue_date": shifted})
	require.NoError(t, err)
	assert.Equal(t, fpUTC, fpShifted, "same instant, different zone and sub-second noise")
}

func TestFingerprint_UnicodeNormalization(t *testing.T) {
	// "é" composed vs decomposed.
	composed := Document{"name": "Café"}
	decomposed := Document{"name": "Café"}

	fpComposed, err := Fingerprint(composed)
	require.NoError(t, err)
	fpDecomposed, err := Fingerprint(decomposed)
	require.NoError(t, err)
	assert.Equal(t, fpComposed, fpDecomposed)
}

func TestFingerprint_ContentSensitivity(t *testing.T) {
	base := Document{
		"name":  "Acme Corp",
		"lines": []any{Document{"description": "A"}, Document{"description": "B"}},
	}
	fpBase, err := Fingerprint(base)
	require.NoError(t, err)

	t.Run("Changed scalar changes the hash", func(t *testing.T) {
		changed := base.Clone()
		changed["name"] = "Acme Corporation"
		fp, err := Fingerprint(changed)
		require.NoError(t, err)
		assert.NotEqual(t, fpBase, fp)
	})

	t.Run("Line order is content", func(t *testing.T) {
		reordered := base.Clone()
		reordered["lines"] = []any{Document{"description": "B"}, Document{"description": "A"}}
		fp, err := Fingerprint(reordered)
		require.NoError(t, err)
		assert.NotEqual(t, fpBase, fp)
	})

	t.Run("Null and absent differ", func(t *testing.T) {
		withNull := base.Clone()
		withNull["reference"] = nil
		fp, err := Fingerprint(withNull)
		require.NoError(t, err)
		assert.NotEqual(t, fpBase, fp)
	})
}

func TestFingerprint_MalformedInput(t *testing.T) {
	t.Run("Nil document", func(t *testing.T) {
		_, err := Fingerprint(nil)
		assert.ErrorIs(t, err, ErrMalformedDocument)
	})

	t.Run("Binary float rejected", func(t *testing.T) {
		_, err := Fingerprint(Document{"total": 10.5})
		require.ErrorIs(t, err, ErrMalformedDocument)
		assert.Contains(t, err.Error(), "$.total")
	})

	t.Run("Float nested in line items rejected", func(t *testing.T) {
		_, err := Fingerprint(Document{"lines": []any{Document{"quantity": float32(2)}}})
		require.ErrorIs(t, err, ErrMalformedDocument)
		assert.Contains(t, err.Error(), "$.lines[0].quantity")
	})

	t.Run("Unsupported type rejected", func(t *testing.T) {
		_, err := Fingerprint(Document{"weird": make(chan int)})
		require.ErrorIs(t, err, ErrMalformedDocument)
		assert.Contains(t, err.Error(), "$.weird")
	})

	t.Run("Bad json number rejected", func(t *testing.T) {
		_, err := Fingerprint(Document{"total": json.Number("not-a-number")})
		assert.ErrorIs(t, err, ErrMalformedDocument)
	})
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{
		"name":  "Acme",
		"lines": []any{Document{"description": "A"}},
	}
	clone := doc.Clone()

	clone["name"] = "Changed"
	clone["lines"].([]any)[0].(Document)["description"] = "Changed"

	assert.Equal(t, "Acme", doc["name"])
	assert.Equal(t, "A", doc["lines"].([]any)[0].(Document)["description"])
}
