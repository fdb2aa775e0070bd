package testutil

import (
	"testing"

	"github.com/mfeld/parcelwatch/internal/store"
)

// NewTestBackend creates an in-memory snapshot backend with all
// migrations applied. It automatically closes the backend when the
// test completes.
func NewTestBackend(t *testing.T) *store.SQLiteBackend {
	t.Helper()

	b, err := store.NewSQLiteBackend(":memory:", "test-account")
	if err != nil {
		t.Fatalf("creating test backend: %v", err)
	}

	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("closing test backend: %v", err)
		}
	})

	return b
}
