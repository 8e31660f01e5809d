package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ---------------------------------------------------------------------------
// Classifier Tests
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	baseline := &Baseline{Local: "fp-local-base", Remote: "fp-remote-base"}

	tests := []struct {
		name     string
		localFp  string
		remoteFp string
		baseline *Baseline
		want     ChangeClass
	}{
		{
			name:     "No baseline means first sync",
			localFp:  "fp-local-1",
			remoteFp: "fp-remote-1",
			baseline: nil,
			want:     ChangeFirstSync,
		},
		{
			name:     "Empty baseline means first sync",
			localFp:  "fp-local-1",
			remoteFp: "fp-remote-1",
			baseline: &Baseline{},
			want:     ChangeFirstSync,
		},
		{
			name:     "Both match baseline",
			localFp:  "fp-local-base",
			remoteFp: "fp-remote-base",
			baseline: baseline,
			want:     ChangeNone,
		},
		{
			name:     "Only local drifted",
			localFp:  "fp-local-new",
			remoteFp: "fp-remote-base",
			baseline: baseline,
			want:     ChangeLocalOnly,
		},
		{
			name:     "Only remote drifted",
			localFp:  "fp-local-base",
			remoteFp: "fp-remote-new",
			baseline: baseline,
			want:     ChangeRemoteOnly,
		},
		{
			name:     "Both drifted",
			localFp:  "fp-local-new",
			remoteFp: "fp-remote-new",
			baseline: baseline,
			want:     ChangeBoth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.localFp, tt.remoteFp, tt.baseline)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Pure(t *testing.T) {
	// Same inputs, same answer, every time.
	baseline := &Baseline{Local: "a", Remote: "b"}
	for i := 0; i < 10; i++ {
		assert.Equal(t, ChangeBoth, Classify("x", "y", baseline))
	}
}

func TestConvergent(t *testing.T) {
	t.Run("Identical content on both sides", func(t *testing.T) {
		assert.True(t, Convergent("same-fp", "same-fp"))
	})

	t.Run("Different content", func(t *testing.T) {
		assert.False(t, Convergent("fp-a", "fp-b"))
	})

	t.Run("Empty fingerprints never converge", func(t *testing.T) {
		assert.False(t, Convergent("", ""))
	})
}
