package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/reconcile"
	"github.com/roach88/outpost/internal/remote"
	"github.com/roach88/outpost/internal/store"
)

// ErrBatchInProgress is returned by RunBatch when another batch is running.
var ErrBatchInProgress = errors.New("sync batch already in progress")

// errPaced is returned when the rate limiter cannot grant a remote call before
// the batch context ends.
var errPaced = errors.New("rate limit wait exceeds batch deadline")

// Remote is the remote authority a node synchronizes with. Both calls must be
// idempotent on the event ID. GetEvent returns an error wrapping
// remote.ErrNotFound when the authority holds no version of the event.
type Remote interface {
	GetEvent(ctx context.Context, id string) (ir.Event, error)
	PushEvent(ctx context.Context, ev ir.Event) error
}

// Outcome is what happened to one event during a batch.
type Outcome string

const (
	OutcomePushed         Outcome = "pushed"          // Remote had no version; local pushed
	OutcomeAcceptedRemote Outcome = "accepted_remote" // Remote causally newer
	OutcomeKeptLocal      Outcome = "kept_local"      // Local causally newer; local pushed
	OutcomeInSync         Outcome = "in_sync"         // Concurrent versions with equal payloads
	OutcomeMerged         Outcome = "merged"          // Reconciled into a merge event
	OutcomeConflict       Outcome = "conflict"        // Deferred to manual review
	OutcomeRetry          Outcome = "retry"           // Remote failure, left pending
	OutcomeFailed         Outcome = "failed"          // Remote failure, retries exhausted
	OutcomeCancelled      Outcome = "cancelled"       // Batch cancelled while handling the event
	OutcomeError          Outcome = "error"           // Local store failure
)

// BatchResult summarizes one batch.
type BatchResult struct {
	Processed int
	Outcomes  map[string]Outcome // Event ID -> outcome
	Merged    []string           // IDs of merge events created
	Reports   []ir.ConflictReport
	Cancelled bool
}

// Count returns the number of events that ended with outcome o.
func (r BatchResult) Count(o Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// Coordinator is the single sync worker of a node.
type Coordinator struct {
	store   *store.Store
	remote  Remote
	rec     *reconcile.Reconciler
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	running sync.Mutex
}

// New creates a Coordinator for s against r.
func New(s *store.Store, r Remote, rec *reconcile.Reconciler, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		remote: r,
		rec:    rec,
		opts:   DefaultOptions(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rec == nil {
		c.rec = reconcile.New()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}

	limit := rate.Inf
	if c.opts.RateLimit > 0 {
		limit = rate.Limit(c.opts.RateLimit)
	}
	c.limiter = rate.NewLimiter(limit, c.opts.RateBurst)
	return c
}

// Options returns the coordinator's effective tunables.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Run recovers events interrupted by a previous crash, then runs a batch
// immediately and every Interval until ctx is done. It returns ctx.Err().
//
// Batch errors are logged and do not stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	n, err := c.store.ResetInProgress(ctx)
	if err != nil {
		return fmt.Errorf("sync run: %w", err)
	}

	c.logger.Info("sync coordinator starting",
		"node", c.store.NodeID(),
		"interval", c.opts.Interval,
		"batch_size", c.opts.BatchSize,
		"recovered", n,
	)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.RunBatch(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("sync batch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("sync coordinator stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunBatch synchronizes up to BatchSize pending events in creation order.
//
// Per-event failures are recorded on the event and never abort the batch.
// Cancellation is checked between events; the event being handled when ctx is
// cancelled is returned to pending without consuming a retry. An error is
// returned only when the batch could not start.
func (c *Coordinator) RunBatch(ctx context.Context) (BatchResult, error) {
	if !c.running.TryLock() {
		return BatchResult{}, ErrBatchInProgress
	}
	defer c.running.Unlock()

	start := time.Now()
	defer func() {
		c.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		c.metrics.BatchesTotal.Inc()
	}()

	result := BatchResult{Outcomes: make(map[string]Outcome)}

	events, err := c.store.ListPending(ctx, c.opts.BatchSize)
	if err != nil {
		return result, fmt.Errorf("sync batch: %w", err)
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		outcome := c.syncEvent(ctx, ev, &result)
		result.Processed++
		result.Outcomes[ev.ID] = outcome
		c.metrics.EventsTotal.WithLabelValues(string(outcome)).Inc()

		if outcome == OutcomeCancelled {
			result.Cancelled = true
			break
		}
	}

	c.logger.Debug("sync batch complete",
		"processed", result.Processed,
		"synced", result.Count(OutcomePushed)+result.Count(OutcomeAcceptedRemote)+
			result.Count(OutcomeKeptLocal)+result.Count(OutcomeInSync)+result.Count(OutcomeMerged),
		"conflicts", result.Count(OutcomeConflict),
		"retries", result.Count(OutcomeRetry),
		"failed", result.Count(OutcomeFailed),
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// syncEvent claims one pending event and handles it. Store writes use a
// context detached from cancellation so a status update is never abandoned
// halfway. A local store failure after the claim hands the event back to
// pending so the next batch picks it up again.
func (c *Coordinator) syncEvent(ctx context.Context, ev ir.Event, result *BatchResult) Outcome {
	sctx := context.WithoutCancel(ctx)
	logger := c.logger.With("event", ev.ID)

	if _, err := c.store.UpdateStatus(sctx, store.StatusUpdate{
		EventID: ev.ID,
		Status:  ir.StatusInProgress,
	}); err != nil {
		logger.Error("mark in progress", "error", err)
		return OutcomeError
	}

	outcome := c.handle(ctx, ev, attemptTime(c.now(), ev.LastAttemptAt), result, logger)
	if outcome == OutcomeError {
		c.release(sctx, ev.ID, logger)
	}
	return outcome
}

// attemptTime returns now, moved just past the previous attempt when the clock
// has not advanced, so that every attempt is distinguishable from the last.
func attemptTime(now time.Time, last *time.Time) time.Time {
	now = now.UTC()
	if last != nil && !now.After(*last) {
		return last.UTC().Add(time.Nanosecond)
	}
	return now
}

// release returns a claimed event to pending. Only an in_progress event is
// moved, so an event that already reached a later status keeps it.
func (c *Coordinator) release(ctx context.Context, id string, logger *slog.Logger) {
	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		logger.Error("release claim", "error", err)
		return
	}
	if ev.Status != ir.StatusInProgress {
		return
	}
	if _, err := c.store.UpdateStatus(ctx, store.StatusUpdate{
		EventID: id,
		Status:  ir.StatusPending,
	}); err != nil {
		logger.Error("release claim", "error", err)
		return
	}
	logger.Warn("claim released after store failure")
}

func (c *Coordinator) handle(ctx context.Context, ev ir.Event, at time.Time, result *BatchResult, logger *slog.Logger) Outcome {
	sctx := context.WithoutCancel(ctx)

	stored, err := c.get(ctx, ev.ID)
	if errors.Is(err, remote.ErrNotFound) {
		return c.pushAndMark(ctx, ev, at, OutcomePushed, logger)
	}
	if err != nil {
		return c.fail(ctx, ev.ID, at, err, logger)
	}
	if err := stored.VerifyIntegrity(); err != nil {
		return c.fail(ctx, ev.ID, at, fmt.Errorf("remote version: %w", err), logger)
	}

	switch reconcile.Causality(ev.Clock, stored.Clock) {
	case reconcile.AcceptRemote:
		return c.markSynced(sctx, ev.ID, at, stored.Clock, OutcomeAcceptedRemote, logger)
	case reconcile.KeepLocal:
		return c.pushAndMark(ctx, ev, at, OutcomeKeptLocal, logger)
	}

	res, err := c.rec.Reconcile(ev, stored)
	if err != nil {
		logger.Error("reconcile", "error", err)
		return c.fail(ctx, ev.ID, at, err, logger)
	}

	if res.Report == nil {
		return c.markSynced(sctx, ev.ID, at, stored.Clock, OutcomeInSync, logger)
	}

	report := *res.Report
	if res.RequiresManualReview {
		if err := c.store.AppendConflict(sctx, report); err != nil {
			logger.Error("append conflict report", "error", err)
			return OutcomeError
		}
		if _, err := c.store.UpdateStatus(sctx, store.StatusUpdate{
			EventID:     ev.ID,
			Status:      ir.StatusConflict,
			AttemptedAt: at,
		}); err != nil {
			logger.Error("mark conflict", "error", err)
			return OutcomeError
		}
		result.Reports = append(result.Reports, report)
		logger.Warn("conflict requires manual review",
			"classification", report.Classification,
			"fields", report.Fields,
			"strategy", report.Strategy,
			"confidence", report.Confidence,
		)
		return OutcomeConflict
	}

	merged, err := c.store.CreateMergeEvent(sctx, res.Payload, stored.Clock, []string{ev.Hash, stored.Hash})
	if err != nil {
		logger.Error("create merge event", "error", err)
		return OutcomeError
	}
	report.ResolvedEventID = merged.ID
	if err := c.store.AppendConflict(sctx, report); err != nil {
		logger.Error("append conflict report", "error", err)
		return OutcomeError
	}
	result.Reports = append(result.Reports, report)
	result.Merged = append(result.Merged, merged.ID)

	if outcome := c.markSynced(sctx, ev.ID, at, nil, OutcomeMerged, logger); outcome != OutcomeMerged {
		return outcome
	}
	logger.Info("conflict resolved",
		"merge_event", merged.ID,
		"strategy", report.Strategy,
		"confidence", report.Confidence,
	)

	// The merge event is pending like any other; a failed push leaves it for
	// the next batch.
	if err := c.push(ctx, merged); err != nil {
		if !interrupted(ctx, err) {
			if _, ferr := c.store.RecordFailure(sctx, merged.ID, at, c.opts.MaxRetries); ferr != nil {
				logger.Error("record merge push failure", "error", ferr)
			}
		}
		logger.Warn("merge event push failed", "merge_event", merged.ID, "error", err)
		return OutcomeMerged
	}
	if _, err := c.store.MarkSynced(sctx, merged.ID, at, nil); err != nil {
		logger.Error("mark merge event synced", "error", err)
	}
	return OutcomeMerged
}

func (c *Coordinator) pushAndMark(ctx context.Context, ev ir.Event, at time.Time, outcome Outcome, logger *slog.Logger) Outcome {
	if err := c.push(ctx, ev); err != nil {
		return c.fail(ctx, ev.ID, at, err, logger)
	}
	return c.markSynced(context.WithoutCancel(ctx), ev.ID, at, nil, outcome, logger)
}

// markSynced marks id synced, merging observed into the node clock when set.
func (c *Coordinator) markSynced(ctx context.Context, id string, at time.Time, observed clock.Vector, outcome Outcome, logger *slog.Logger) Outcome {
	if _, err := c.store.MarkSynced(ctx, id, at, observed); err != nil {
		logger.Error("mark synced", "error", err)
		return OutcomeError
	}
	return outcome
}

// interrupted reports whether err stems from the batch ending rather than from
// the remote.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, errPaced)
}

// fail records a failed remote attempt. If the batch was interrupted the event
// goes back to pending without consuming a retry.
func (c *Coordinator) fail(ctx context.Context, id string, at time.Time, cause error, logger *slog.Logger) Outcome {
	sctx := context.WithoutCancel(ctx)

	if interrupted(ctx, cause) {
		if _, err := c.store.UpdateStatus(sctx, store.StatusUpdate{
			EventID: id,
			Status:  ir.StatusPending,
		}); err != nil {
			logger.Error("return to pending", "error", err)
			return OutcomeError
		}
		logger.Debug("sync cancelled", "error", cause)
		return OutcomeCancelled
	}

	status, err := c.store.RecordFailure(sctx, id, at, c.opts.MaxRetries)
	if err != nil {
		logger.Error("record failure", "error", err)
		return OutcomeError
	}
	if status == ir.StatusFailed {
		logger.Error("sync failed permanently", "error", cause, "max_retries", c.opts.MaxRetries)
		return OutcomeFailed
	}
	logger.Warn("sync attempt failed", "error", cause)
	return OutcomeRetry
}

// get fetches the remote version of id, paced and bounded by RemoteTimeout.
func (c *Coordinator) get(ctx context.Context, id string) (ir.Event, error) {
	var ev ir.Event
	err := c.call(ctx, "get", func(ctx context.Context) error {
		var err error
		ev, err = c.remote.GetEvent(ctx, id)
		return err
	})
	return ev, err
}

// push sends the wire form of ev, paced and bounded by RemoteTimeout.
func (c *Coordinator) push(ctx context.Context, ev ir.Event) error {
	return c.call(ctx, "push", func(ctx context.Context) error {
		return c.remote.PushEvent(ctx, ev.Wire())
	})
}

func (c *Coordinator) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("remote %s: %w", op, ctx.Err())
		}
		return fmt.Errorf("remote %s: %w: %v", op, errPaced, err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.RemoteTimeout)
	defer cancel()

	if err := fn(cctx); err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			c.metrics.RemoteErrors.WithLabelValues(op).Inc()
		}
		return fmt.Errorf("remote %s: %w", op, err)
	}
	return nil
}
