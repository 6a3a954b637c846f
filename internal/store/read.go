package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/outpost/internal/ir"
)

const eventColumns = `id, seq, kind, node_id, wall_time, clock, payload, parents, hash,
	status, retry_count, last_attempt_at, quarantined`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetEvent retrieves a single event by ID.
// Returns ErrNotFound if absent. If the stored row fails its integrity check it
// is quarantined and an *IntegrityError is returned.
func (s *Store) GetEvent(ctx context.Context, id string) (ir.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Event{}, fmt.Errorf("get event: %w: %s", ErrNotFound, id)
	}
	if err == nil {
		err = ev.VerifyIntegrity()
	}
	if err != nil {
		return ir.Event{}, s.quarantineOnRead(ctx, id, err)
	}
	return ev, nil
}

// ListPending returns up to limit pending events in ascending creation order.
// Quarantined events are skipped; rows that fail verification are quarantined
// on the way and skipped too. If a corrupt row cannot be flagged the error is
// returned, since the row would otherwise be selected again on every call.
func (s *Store) ListPending(ctx context.Context, limit int) ([]ir.Event, error) {
	if limit <= 0 {
		return []ir.Event{}, nil
	}

	for {
		events, bad, err := s.listVerified(ctx, ir.StatusPending, limit)
		if err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		if len(bad) == 0 {
			return events, nil
		}
		// Quarantine after the rows are closed; the pool has a single connection.
		if err := s.flagAll(ctx, bad); err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
	}
}

// ListByStatus returns up to limit non-quarantined events with the given status
// in creation order. A limit of zero or less returns all of them.
func (s *Store) ListByStatus(ctx context.Context, status ir.SyncStatus, limit int) ([]ir.Event, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("list by status: %w: %q", ErrInvalidStatus, status)
	}
	events, bad, err := s.listVerified(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	if err := s.flagAll(ctx, bad); err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return events, nil
}

// flagAll quarantines every corrupt row found by a listing. IDs are visited in
// sorted order so a failure always names the same row.
func (s *Store) flagAll(ctx context.Context, bad map[string]error) error {
	ids := make([]string, 0, len(bad))
	for id := range bad {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if err := s.quarantineLocked(ctx, id, bad[id].Error()); err != nil {
			return errors.Join(&IntegrityError{EventID: id, Err: bad[id]}, err)
		}
	}
	return nil
}

func (s *Store) listVerified(ctx context.Context, status ir.SyncStatus, limit int) ([]ir.Event, map[string]error, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE status = ? AND quarantined = 0
		ORDER BY seq ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	var bad map[string]error
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil && ev.ID == "" {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		if err == nil {
			err = ev.VerifyIntegrity()
		}
		if err != nil {
			if bad == nil {
				bad = make(map[string]error)
			}
			bad[ev.ID] = err
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, bad, nil
}

func (s *Store) quarantineOnRead(ctx context.Context, id string, cause error) error {
	if id == "" {
		return fmt.Errorf("read event: %w", cause)
	}
	s.mu.Lock()
	qerr := s.quarantineLocked(ctx, id, cause.Error())
	s.mu.Unlock()
	if qerr != nil {
		return errors.Join(&IntegrityError{EventID: id, Err: cause}, qerr)
	}
	return &IntegrityError{EventID: id, Err: cause}
}

// Stats holds event counts for the operator surface.
type Stats struct {
	ByStatus    map[ir.SyncStatus]int `json:"by_status"`
	Quarantined int                   `json:"quarantined"`
	Total       int                   `json:"total"`
	Conflicts   int                   `json:"conflict_reports"`
}

// Stats returns counts by status. Every known status is present in ByStatus,
// zero or not.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[ir.SyncStatus]int, len(ir.AllStatuses))}
	for _, status := range ir.AllStatuses {
		st.ByStatus[status] = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), SUM(quarantined)
		FROM events
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, quarantined int
		if err := rows.Scan(&status, &count, &quarantined); err != nil {
			return Stats{}, fmt.Errorf("stats: scan: %w", err)
		}
		st.ByStatus[ir.SyncStatus(status)] = count
		st.Quarantined += quarantined
		st.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflict_reports`).Scan(&st.Conflicts); err != nil {
		return Stats{}, fmt.Errorf("stats: conflicts: %w", err)
	}
	return st, nil
}

// ConflictLog returns every conflict report in append order.
func (s *Store) ConflictLog(ctx context.Context) ([]ir.ConflictReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, classification, local_event_id, remote_event_id, fields, strategy,
		       resolved_event_id, requires_manual_review, confidence, review_payload, created_at
		FROM conflict_reports
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("conflict log: %w", err)
	}
	defer rows.Close()

	reports := []ir.ConflictReport{}
	for rows.Next() {
		var (
			r                        ir.ConflictReport
			classification, strategy string
			fields, createdAt        string
			resolved, review         sql.NullString
		)
		if err := rows.Scan(&r.ID, &classification, &r.LocalEventID, &r.RemoteEventID, &fields, &strategy,
			&resolved, &r.RequiresManualReview, &r.Confidence, &review, &createdAt); err != nil {
			return nil, fmt.Errorf("conflict log: scan: %w", err)
		}
		r.Classification = ir.ConflictType(classification)
		r.Strategy = ir.Strategy(strategy)
		r.ResolvedEventID = resolved.String
		if r.Fields, err = unmarshalStrings(fields); err != nil {
			return nil, fmt.Errorf("conflict log: %w", err)
		}
		if review.Valid {
			if r.ReviewPayload, err = unmarshalPayload(review.String); err != nil {
				return nil, fmt.Errorf("conflict log: %w", err)
			}
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("conflict log: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conflict log: %w", err)
	}
	return reports, nil
}

// LostEventsReport is the result of VerifyNoLostEvents.
type LostEventsReport struct {
	Checked     int      `json:"checked"`
	Quarantined []string `json:"quarantined,omitempty"` // Flagged; retrievable for operators
	Corrupt     []string `json:"corrupt,omitempty"`     // Fail verification but not yet flagged
	BadStatus   []string `json:"bad_status,omitempty"`
}

// OK reports whether every unsynced event is retrievable or explicitly flagged.
func (r LostEventsReport) OK() bool {
	return len(r.Corrupt) == 0 && len(r.BadStatus) == 0
}

// VerifyNoLostEvents checks that every pending, conflict, and failed event
// still decodes and verifies, or has been quarantined. It does not modify the
// store.
func (s *Store) VerifyNoLostEvents(ctx context.Context) (LostEventsReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq ASC`)
	if err != nil {
		return LostEventsReport{}, fmt.Errorf("verify: %w", err)
	}
	defer rows.Close()

	var report LostEventsReport
	for rows.Next() {
		report.Checked++
		ev, err := scanEvent(rows)
		if err != nil && ev.ID == "" {
			return LostEventsReport{}, fmt.Errorf("verify: scan: %w", err)
		}
		if err == nil && !ev.Status.Valid() {
			report.BadStatus = append(report.BadStatus, ev.ID)
			continue
		}
		if ev.Status == ir.StatusSynced {
			continue
		}
		if ev.Quarantined {
			report.Quarantined = append(report.Quarantined, ev.ID)
			continue
		}
		if err == nil {
			err = ev.VerifyIntegrity()
		}
		if err != nil {
			report.Corrupt = append(report.Corrupt, ev.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return LostEventsReport{}, fmt.Errorf("verify: %w", err)
	}
	return report, nil
}

// scanEvent decodes one events row. On a decode failure the returned event
// still carries whatever columns were read, including ID and Status, so callers
// can quarantine it.
func scanEvent(row rowScanner) (ir.Event, error) {
	var (
		ev                                   ir.Event
		kind, wallTime, clk, payload, parent string
		status                               string
		lastAttempt                          sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.Seq, &kind, &ev.NodeID, &wallTime, &clk, &payload, &parent, &ev.Hash,
		&status, &ev.RetryCount, &lastAttempt, &ev.Quarantined)
	if err != nil {
		return ir.Event{}, err
	}
	ev.Kind = ir.EventKind(kind)
	ev.Status = ir.SyncStatus(status)

	if ev.WallTime, err = parseTime(wallTime); err != nil {
		return ev, err
	}
	if lastAttempt.Valid {
		t, err := parseTime(lastAttempt.String)
		if err != nil {
			return ev, err
		}
		ev.LastAttemptAt = &t
	}
	if ev.Clock, err = unmarshalClock(clk); err != nil {
		return ev, err
	}
	if ev.Payload, err = unmarshalPayload(payload); err != nil {
		return ev, err
	}
	if ev.Parents, err = unmarshalStrings(parent); err != nil {
		return ev, err
	}
	return ev, nil
}
