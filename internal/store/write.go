package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/ir"
)

// CreateEvent advances the node clock and durably persists a new pending event.
//
// The clock value is committed together with the event. If anything fails the
// in-memory clock is left unchanged and no row is written.
func (s *Store) CreateEvent(ctx context.Context, kind ir.EventKind, payload ir.IRObject) (ir.Event, error) {
	if kind == ir.KindMerge {
		return ir.Event{}, errors.New("create event: merge events must be created with CreateMergeEvent")
	}
	return s.create(ctx, kind, payload, nil, nil)
}

// CreateMergeEvent persists the result of a reconciliation. The node clock is
// merged with observed (the remote version's clock) and then advanced, so the
// merge event causally follows both inputs. parents records the reconciled
// event IDs.
func (s *Store) CreateMergeEvent(ctx context.Context, payload ir.IRObject, observed clock.Vector, parents []string) (ir.Event, error) {
	if observed == nil {
		observed = clock.Vector{}
	}
	return s.create(ctx, ir.KindMerge, payload, observed, parents)
}

func (s *Store) create(ctx context.Context, kind ir.EventKind, payload ir.IRObject, observed clock.Vector, parents []string) (ir.Event, error) {
	if !ir.ValidEventKinds[kind] {
		return ir.Event{}, fmt.Errorf("create event: unknown kind %q", kind)
	}
	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}
	parentsJSON, err := marshalStrings(parents)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clock.Peek(observed)
	id, err := ir.EventID(kind, s.clock.Owner(), next, parents)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	ev := ir.Event{
		ID:       id,
		Kind:     kind,
		NodeID:   s.clock.Owner(),
		WallTime: s.now().UTC(),
		Clock:    next,
		Payload:  payload.Clone(),
		Parents:  append([]string(nil), parents...),
		Status:   ir.StatusPending,
	}
	if ev.Payload == nil {
		ev.Payload = ir.IRObject{}
	}
	if len(ev.Parents) == 0 {
		ev.Parents = nil
	}
	if err := ev.Seal(); err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	clockJSON, err := marshalClock(next)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM events`).Scan(&ev.Seq); err != nil {
		return ir.Event{}, fmt.Errorf("create event: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events
		(id, seq, kind, node_id, wall_time, clock, payload, parents, hash, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.Seq,
		string(ev.Kind),
		ev.NodeID,
		formatTime(ev.WallTime),
		clockJSON,
		payloadJSON,
		parentsJSON,
		ev.Hash,
		string(ev.Status),
	)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: insert: %w", err)
	}

	if err := saveClock(ctx, tx, next); err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.Event{}, fmt.Errorf("create event: commit: %w", err)
	}
	s.clock.Set(next)

	return ev, nil
}

// StatusUpdate describes a status transition for one event.
type StatusUpdate struct {
	EventID        string
	Status         ir.SyncStatus
	RetryIncrement int
	AttemptedAt    time.Time // Zero keeps the stored last-attempt time
}

// UpdateStatus applies u in a single UPDATE statement.
//
// An update whose status and attempt time already match the stored row is a
// no-op, so applying the same update twice leaves the row exactly as applying
// it once. Returns whether the row changed. Returns ErrNotFound if the event
// does not exist.
//
// A retry increment needs an attempt time: the attempt time is what makes a
// repeated increment recognisable, so an increment without one is rejected.
func (s *Store) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	if !u.Status.Valid() {
		return false, fmt.Errorf("update status: %w: %q", ErrInvalidStatus, u.Status)
	}
	if u.RetryIncrement < 0 {
		return false, fmt.Errorf("update status: negative retry increment %d", u.RetryIncrement)
	}
	if u.RetryIncrement > 0 && u.AttemptedAt.IsZero() {
		return false, fmt.Errorf("update status: %w", ErrRetryWithoutAttempt)
	}

	var attempted sql.NullString
	if !u.AttemptedAt.IsZero() {
		attempted = nullTime(&u.AttemptedAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = ?1,
		    retry_count = retry_count + ?2,
		    last_attempt_at = COALESCE(?3, last_attempt_at)
		WHERE id = ?4
		  AND NOT (status = ?1 AND (?3 IS NULL OR last_attempt_at IS ?3))
	`, string(u.Status), u.RetryIncrement, attempted, u.EventID)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}

	return s.checkApplied(ctx, res, u.EventID, "update status")
}

// RecordFailure records a failed remote attempt: the retry count is incremented
// and the event moves to failed once it reaches maxRetries, otherwise back to
// pending. The whole transition is one UPDATE. A second call with the same
// attempt time is a no-op, so callers must stamp distinct attempts with
// distinct times. Returns the resulting status.
func (s *Store) RecordFailure(ctx context.Context, id string, at time.Time, maxRetries int) (ir.SyncStatus, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET retry_count = retry_count + 1,
		    last_attempt_at = ?1,
		    status = CASE WHEN retry_count + 1 >= ?2 THEN 'failed' ELSE 'pending' END
		WHERE id = ?3
		  AND status IN ('pending', 'in_progress')
		  AND last_attempt_at IS NOT ?1
	`, formatTime(at), maxRetries, id)
	if err != nil {
		return "", fmt.Errorf("record failure: %w", err)
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM events WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("record failure: %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("record failure: %w", err)
	}
	return ir.SyncStatus(status), nil
}

// MarkSynced marks an event synced. When observed is non-nil it is causal
// information received from the remote authority: the node clock is merged
// with it and the result persisted in the same transaction as the status
// change. Marking an already synced event again changes nothing.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time, observed clock.Vector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mark synced: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET status = 'synced', last_attempt_at = ?
		WHERE id = ? AND status != 'synced'
	`, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("mark synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark synced: rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("mark synced: %w: %s", ErrNotFound, id)
		}
		if err != nil {
			return false, fmt.Errorf("mark synced: %w", err)
		}
		return false, nil
	}

	var next clock.Vector
	if observed != nil {
		next = s.clock.Peek(observed)
		if err := saveClock(ctx, tx, next); err != nil {
			return false, fmt.Errorf("mark synced: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mark synced: commit: %w", err)
	}
	if next != nil {
		s.clock.Set(next)
	}
	return true, nil
}

// ResetInProgress returns every in_progress event to pending. A coordinator
// calls it on start, since an in_progress event at that point was interrupted
// by a crash. Retry counts are not touched.
func (s *Store) ResetInProgress(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE events SET status = 'pending' WHERE status = 'in_progress'`)
	if err != nil {
		return 0, fmt.Errorf("reset in progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset in progress: %w", err)
	}
	return n, nil
}

// Quarantine flags an event so it is excluded from normal batches. The row and
// its status are kept for the operator.
func (s *Store) Quarantine(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantineLocked(ctx, id, reason)
}

func (s *Store) quarantineLocked(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET quarantined = 1, quarantine_reason = ?
		WHERE id = ? AND quarantined = 0
	`, reason, id)
	if err != nil {
		return fmt.Errorf("quarantine: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("event quarantined", "event_id", id, "reason", reason)
	}
	return nil
}

// AppendConflict adds a report to the append-only conflict log. Appending a
// report whose ID is already logged is a no-op.
func (s *Store) AppendConflict(ctx context.Context, report ir.ConflictReport) error {
	fieldsJSON, err := marshalStrings(report.Fields)
	if err != nil {
		return fmt.Errorf("append conflict: %w", err)
	}

	var review sql.NullString
	if report.ReviewPayload != nil {
		data, err := ir.MarshalCanonical(report.ReviewPayload)
		if err != nil {
			return fmt.Errorf("append conflict: review payload: %w", err)
		}
		review = sql.NullString{String: string(data), Valid: true}
	}

	var resolved sql.NullString
	if report.ResolvedEventID != "" {
		resolved = sql.NullString{String: report.ResolvedEventID, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflict_reports
		(id, classification, local_event_id, remote_event_id, fields, strategy,
		 resolved_event_id, requires_manual_review, confidence, review_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		report.ID,
		string(report.Classification),
		report.LocalEventID,
		report.RemoteEventID,
		fieldsJSON,
		string(report.Strategy),
		resolved,
		report.RequiresManualReview,
		report.Confidence,
		review,
		formatTime(report.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append conflict: %w", err)
	}
	return nil
}

// checkApplied turns a zero RowsAffected into ErrNotFound when the row is
// missing, or into applied=false when the update was a no-op.
func (s *Store) checkApplied(ctx context.Context, res sql.Result, id, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%s: %w: %s", op, ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}
