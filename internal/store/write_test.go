package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/ir"
)

func TestCreateEvent(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, ir.KindCaseReport, ir.IRObject{"severity": ir.IRInt(8), "reporter": ir.IRString("A")})
	require.NoError(t, err)

	assert.Equal(t, ir.StatusPending, ev.Status)
	assert.Equal(t, "A", ev.NodeID)
	assert.Equal(t, clock.Vector{"A": 1}, ev.Clock)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, testEpoch, ev.WallTime)
	assert.Equal(t, ir.MustEventID(ir.KindCaseReport, "A", clock.Vector{"A": 1}, nil), ev.ID)
	assert.NoError(t, ev.VerifyIntegrity())

	stored, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, stored)
}

func TestCreateEvent_ClockMonotonic(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	prev := s.Clock()
	for i := 0; i < 5; i++ {
		ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"i": ir.IRInt(i)})
		require.NoError(t, err)
		assert.Greater(t, ev.Clock.Get("A"), prev.Get("A"))
		assert.True(t, prev.Before(ev.Clock))
		prev = ev.Clock
	}
}

func TestCreateEvent_RejectsBadInput(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	_, err := s.CreateEvent(ctx, ir.EventKind("bogus"), ir.IRObject{})
	assert.Error(t, err)

	_, err = s.CreateEvent(ctx, ir.KindMerge, ir.IRObject{})
	assert.Error(t, err)

	before := s.Clock()
	_, err = s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"bad": ir.IRFloat(nan())})
	require.Error(t, err)
	assert.Equal(t, before, s.Clock(), "a rejected event must not advance the clock")
}

func TestCreateEvent_FailedCommitLeavesClock(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	_, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{})
	require.NoError(t, err)
	before := s.Clock()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.CreateEvent(cancelled, ir.KindObservation, ir.IRObject{})
	require.Error(t, err)

	assert.Equal(t, before, s.Clock())
	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&rows))
	assert.Equal(t, 1, rows)
	var counter int
	require.NoError(t, s.db.QueryRow(`SELECT counter FROM node_clock WHERE node_id = 'A'`).Scan(&counter))
	assert.Equal(t, 1, counter)
}

func TestCreateEvent_Concurrent(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	const producers, perProducer = 8, 10
	var wg sync.WaitGroup
	ids := make(chan string, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"p": ir.IRInt(p), "i": ir.IRInt(i)})
				if !assert.NoError(t, err) {
					return
				}
				ids <- ev.ID
			}
		}(p)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, producers*perProducer)
	assert.Equal(t, uint64(producers*perProducer), s.Clock().Get("A"))

	pending, err := s.ListPending(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, pending, producers*perProducer)
	for i, ev := range pending {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, uint64(i+1), ev.Clock.Get("A"), "clock order matches creation order")
	}
}

func TestCreateMergeEvent(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	local, err := s.CreateEvent(ctx, ir.KindCaseReport, ir.IRObject{"severity": ir.IRInt(8)})
	require.NoError(t, err)

	remoteClock := clock.Vector{"B": 1}
	merged, err := s.CreateMergeEvent(ctx, ir.IRObject{"severity": ir.IRInt(9)}, remoteClock, []string{local.ID, "remote"})
	require.NoError(t, err)

	assert.Equal(t, ir.KindMerge, merged.Kind)
	assert.Equal(t, clock.Vector{"A": 2, "B": 1}, merged.Clock)
	assert.True(t, local.Clock.Before(merged.Clock))
	assert.True(t, remoteClock.Before(merged.Clock))
	assert.Equal(t, []string{local.ID, "remote"}, merged.Parents)

	stored, err := s.GetEvent(ctx, merged.ID)
	require.NoError(t, err)
	assert.Equal(t, merged.Parents, stored.Parents)
}

func TestUpdateStatus_Idempotent(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{})
	require.NoError(t, err)

	at := testEpoch.Add(time.Minute)
	u := StatusUpdate{EventID: ev.ID, Status: ir.StatusInProgress, RetryIncrement: 1, AttemptedAt: at}

	applied, err := s.UpdateStatus(ctx, u)
	require.NoError(t, err)
	assert.True(t, applied)
	once, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)

	applied, err = s.UpdateStatus(ctx, u)
	require.NoError(t, err)
	assert.False(t, applied)
	twice, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, twice.RetryCount)
	assert.Equal(t, ir.StatusInProgress, twice.Status)
	require.NotNil(t, twice.LastAttemptAt)
	assert.True(t, at.Equal(*twice.LastAttemptAt))
}

func TestUpdateStatus_Errors(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	_, err := s.UpdateStatus(ctx, StatusUpdate{EventID: "missing", Status: ir.StatusSynced})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.UpdateStatus(ctx, StatusUpdate{EventID: "missing", Status: "lost"})
	assert.True(t, errors.Is(err, ErrInvalidStatus))

	ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{"n": ir.IRInt(1)})
	require.NoError(t, err)
	changed, err := s.UpdateStatus(ctx, StatusUpdate{EventID: ev.ID, Status: ir.StatusPending, RetryIncrement: 1})
	assert.True(t, errors.Is(err, ErrRetryWithoutAttempt))
	assert.False(t, changed)

	stored, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestRecordFailure(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{})
	require.NoError(t, err)

	const maxRetries = 3
	for i := 1; i < maxRetries; i++ {
		status, err := s.RecordFailure(ctx, ev.ID, testEpoch.Add(time.Duration(i)*time.Minute), maxRetries)
		require.NoError(t, err)
		assert.Equal(t, ir.StatusPending, status, "attempt %d", i)
	}

	// Repeating the same attempt is not counted twice.
	status, err := s.RecordFailure(ctx, ev.ID, testEpoch.Add(2*time.Minute), maxRetries)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, status)

	status, err = s.RecordFailure(ctx, ev.ID, testEpoch.Add(3*time.Minute), maxRetries)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusFailed, status)

	stored, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, maxRetries, stored.RetryCount)

	// Terminal: further failures change nothing.
	status, err = s.RecordFailure(ctx, ev.ID, testEpoch.Add(4*time.Minute), maxRetries)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusFailed, status)

	_, err = s.RecordFailure(ctx, "missing", testEpoch, maxRetries)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkSynced_MergesObservedClock(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{})
	require.NoError(t, err)

	applied, err := s.MarkSynced(ctx, ev.ID, testEpoch, clock.Vector{"A": 1, "B": 3})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, clock.Vector{"A": 2, "B": 3}, s.Clock())

	applied, err = s.MarkSynced(ctx, ev.ID, testEpoch, clock.Vector{"B": 7})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, clock.Vector{"A": 2, "B": 3}, s.Clock(), "repeated sync must not merge again")

	stored, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusSynced, stored.Status)

	_, err = s.MarkSynced(ctx, "missing", testEpoch, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResetInProgress(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, ir.KindObservation, ir.IRObject{})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, StatusUpdate{EventID: ev.ID, Status: ir.StatusInProgress, AttemptedAt: testEpoch})
	require.NoError(t, err)

	n, err := s.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
}

func TestAppendConflict_AppendOnly(t *testing.T) {
	s := createTestStore(t, "A")
	ctx := context.Background()

	report := ir.ConflictReport{
		ID:                   "r1",
		Classification:       ir.ConflictSemantic,
		LocalEventID:         "l",
		RemoteEventID:        "r",
		Fields:               []string{"diagnosis"},
		Strategy:             ir.StrategyManualReview,
		RequiresManualReview: true,
		ReviewPayload:        ir.IRObject{"local": ir.IRObject{"diagnosis": ir.IRString("cholera")}},
		CreatedAt:            testEpoch,
	}
	require.NoError(t, s.AppendConflict(ctx, report))
	require.NoError(t, s.AppendConflict(ctx, report), "re-appending the same report is a no-op")

	second := report
	second.ID = "r2"
	second.Classification = ir.ConflictValue
	second.Strategy = ir.StrategyHighestSeverity
	second.RequiresManualReview = false
	second.ResolvedEventID = "m"
	second.Confidence = 0.85
	second.ReviewPayload = nil
	require.NoError(t, s.AppendConflict(ctx, second))

	log, err := s.ConflictLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, report, log[0])
	assert.Equal(t, second, log[1])

	_, err = s.db.Exec(`UPDATE conflict_reports SET confidence = 1`)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.Exec(`DELETE FROM conflict_reports`)
	assert.ErrorContains(t, err, "append-only")
}
