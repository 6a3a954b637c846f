package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/ir"
)

func nan() float64 { return math.NaN() }

// corrupt rewrites an event's payload behind the store's back.
func corrupt(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE events SET payload = '{"tampered":true}' WHERE id = ?`, id)
	require.NoError(t, err)
}

func TestGetEvent_NotFound(t *testing.T) {
	s := createTestStore(t, "A")

	_, err := s.GetEvent(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetEvent_QuarantinesCorruptRow(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"n": ir.IRInt(1)})
	require.NoError(t, err)
	corrupt(t, s, ev.ID)

	_, err = s.GetEvent(ctx, ev.ID)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
	assert.True(t, errors.Is(err, ir.ErrIntegrity))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Quarantined)
	assert.Equal(t, 1, stats.ByStatus[ir.StatusPending], "quarantine keeps the row and its status")
}

func TestListPending_OrderLimitAndQuarantine(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"i": ir.IRInt(i)})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}
	_, err := s.MarkSynced(ctx, ids[0], testEpoch, nil)
	require.NoError(t, err)
	corrupt(t, s, ids[1])

	pending, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[2], pending[0].ID)
	assert.Equal(t, ids[3], pending[1].ID)

	all, err := s.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListPending_QuarantineFailureIsReturned(t *testing.T) {
	s := createTestStore(t, "A")

	bad, err := s.CreateEvent(context.Background(), ir.KindObservation, ir.IRObject{"i": ir.IRInt(0)})
	require.NoError(t, err)
	good, err := s.CreateEvent(context.Background(), ir.KindObservation, ir.IRObject{"i": ir.IRInt(1)})
	require.NoError(t, err)
	corrupt(t, s, bad.ID)

	_, err = s.db.Exec(`PRAGMA query_only = ON`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.ListPending(ctx, 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded), "listing must fail fast instead of retrying")
	assert.True(t, IsIntegrityError(err))

	_, err = s.ListByStatus(ctx, ir.StatusPending, 0)
	require.Error(t, err)

	_, err = s.db.Exec(`PRAGMA query_only = OFF`)
	require.NoError(t, err)

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, good.ID, pending[0].ID)
}

func TestStats(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"i": ir.IRInt(i)})
		require.NoError(t, err)
	}
	pending, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, StatusUpdate{EventID: pending[0].ID, Status: ir.StatusConflict, AttemptedAt: testEpoch})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[ir.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[ir.StatusConflict])
	assert.Equal(t, 0, stats.ByStatus[ir.StatusFailed])
	assert.Len(t, stats.ByStatus, len(ir.AllStatuses))
}

func TestVerifyNoLostEvents(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"i": ir.IRInt(i)})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}
	for i := 0; i < 5; i++ {
		_, err := s.RecordFailure(ctx, ids[0], testEpoch.Add(time.Duration(i+1)*time.Minute), 5)
		require.NoError(t, err)
	}
	_, err := s.UpdateStatus(ctx, StatusUpdate{EventID: ids[1], Status: ir.StatusConflict, AttemptedAt: testEpoch})
	require.NoError(t, err)
	_, err = s.MarkSynced(ctx, ids[2], testEpoch, nil)
	require.NoError(t, err)

	report, err := s.VerifyNoLostEvents(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 4, report.Checked)

	corrupt(t, s, ids[3])
	report, err = s.VerifyNoLostEvents(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{ids[3]}, report.Corrupt)

	require.NoError(t, s.Quarantine(ctx, ids[3], "operator"))
	report, err = s.VerifyNoLostEvents(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{ids[3]}, report.Quarantined)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[ir.StatusFailed])
	assert.Equal(t, 1, stats.ByStatus[ir.StatusConflict])
	assert.Equal(t, 1, stats.ByStatus[ir.StatusSynced])
	assert.Equal(t, 1, stats.ByStatus[ir.StatusPending])
}
