package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, "A")
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t, "A")

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RequiresNodeID(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"), "")
	assert.Error(t, err)
}

func TestOpen_RejectsOtherNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, "A")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path, "B")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeMismatch))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, "A")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path, "A")
	assert.ErrorContains(t, err, "newer than supported")
}

func TestOpen_RestoresClock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path, "A")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s1.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"n": ir.IRInt(i)})
		require.NoError(t, err)
	}
	_, err = s1.CreateMergeEvent(ctx, ir.IRObject{}, clock.Vector{"B": 4}, []string{"x", "y"})
	require.NoError(t, err)
	before := s1.Clock()
	require.NoError(t, s1.Close())

	s2, err := Open(path, "A")
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, before, s2.Clock())
	assert.Equal(t, clock.Vector{"A": 4, "B": 4}, s2.Clock())

	ev, err := s2.CreateEvent(ctx, ir.KindAlert, ir.IRObject{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ev.Clock.Get("A"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, "A")
		require.NoError(t, err, "iteration %d", i)
		s.Close()
	}

	s, err := Open(path, "A")
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"events", "node_clock", "node_meta", "conflict_reports"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q not found", table)
	}
}
