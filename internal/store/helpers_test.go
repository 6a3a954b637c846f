package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh store for node in a temp directory.
func createTestStore(t *testing.T, node string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, node, WithNow(func() time.Time { return testEpoch }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
