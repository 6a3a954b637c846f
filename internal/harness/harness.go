package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/config"
	"github.com/roach88/outpost/internal/fusion"
	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/reconcile"
	"github.com/roach88/outpost/internal/remote"
	"github.com/roach88/outpost/internal/store"
	"github.com/roach88/outpost/internal/syncer"
	"github.com/roach88/outpost/internal/testutil"
)

// Epoch is the wall-clock origin of every scenario.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness executes one scenario against real components with deterministic
// time and IDs.
type Harness struct {
	dir    string
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store in a temporary directory and a
// fresh in-memory remote authority. An error is returned only when the
// scenario could not be executed; failed assertions are reported in the
// result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "outpost-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		dir:    dir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in scenarios
	}

	result := NewResult()
	if scenario.Fusion != nil {
		if err := h.runFusion(scenario.Fusion, result); err != nil {
			return nil, fmt.Errorf("fusion: %w", err)
		}
	}
	if scenario.Sync != nil {
		if err := h.runSync(context.Background(), scenario.Sync, result); err != nil {
			return nil, fmt.Errorf("sync: %w", err)
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runFusion(setup *FusionSetup, result *Result) error {
	var opts []fusion.Option
	if setup.SpatialThresholdKm != 0 {
		opts = append(opts, fusion.WithSpatialThreshold(setup.SpatialThresholdKm))
	}
	if setup.TemporalThreshold != 0 {
		opts = append(opts, fusion.WithTemporalThreshold(setup.TemporalThreshold))
	}
	if setup.MinSourcesForConfirmation != 0 {
		opts = append(opts, fusion.WithMinSourcesForConfirmation(setup.MinSourcesForConfirmation))
	}
	engine, err := fusion.New(opts...)
	if err != nil {
		return err
	}

	signals := make([]ir.Signal, len(setup.Signals))
	for i, s := range setup.Signals {
		signals[i] = ir.Signal{
			Source:      ir.SourceKind(s.Source),
			SubjectID:   s.Subject,
			Location:    s.Location,
			Observation: s.Observation,
			Secondary:   s.Secondary,
			Severity:    s.Severity,
			Timestamp:   Epoch.Add(s.At),
			Metadata:    s.Metadata,
		}
	}

	rec, err := engine.Fuse(signals, setup.Subject)
	if err != nil {
		return err
	}
	result.Fused = &rec
	return nil
}

func (h *Harness) runSync(ctx context.Context, setup *SyncSetup, result *Result) error {
	node := setup.Node
	if node == "" {
		node = "A"
	}
	batches := setup.Batches
	if batches == 0 {
		batches = 1
	}

	policy, err := config.ParsePolicy("policy.cue", []byte(setup.Policy))
	if err != nil {
		return err
	}

	st, err := store.Open(filepath.Join(h.dir, "outpost.db"), node,
		store.WithNow(testutil.NewClock(Epoch, time.Second).Now),
		store.WithLogger(h.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	authority := remote.NewMemory()

	created := make([]ir.Event, len(setup.Events))
	for i, spec := range setup.Events {
		payload, err := ir.ObjectFromMap(spec.Payload)
		if err != nil {
			return fmt.Errorf("events[%d]: payload: %w", i, err)
		}
		ev, err := st.CreateEvent(ctx, ir.EventKind(spec.Kind), payload)
		if err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		created[i] = ev
		label := fmt.Sprintf("e%d", i)
		result.labels[ev.ID] = label
		result.labels[ev.Hash] = label

		if spec.Remote != nil {
			version, err := remoteVersion(ev, spec.Remote)
			if err != nil {
				return fmt.Errorf("events[%d]: remote: %w", i, err)
			}
			if err := authority.PushEvent(ctx, version); err != nil {
				return fmt.Errorf("events[%d]: seed remote: %w", i, err)
			}
			result.labels[version.Hash] = "remote:" + label
		}
		if spec.Unavailable {
			authority.FailID(ev.ID, remote.ErrUnavailable)
		}
	}

	rec := reconcile.New(append(policy.ReconcilerOptions(),
		reconcile.WithNow(testutil.NewClock(Epoch.Add(time.Hour), 0).Now),
		reconcile.WithIDGenerator(testutil.NewSequenceIDGenerator("conflict")),
	)...)
	coord := syncer.New(st, authority, rec,
		syncer.WithOptions(syncer.Options{MaxRetries: setup.MaxRetries}),
		syncer.WithNow(testutil.NewClock(Epoch.Add(time.Hour), time.Minute).Now),
		syncer.WithLogger(h.logger),
	)

	var merges []string
	for b := 1; b <= batches; b++ {
		res, err := coord.RunBatch(ctx)
		if err != nil {
			return fmt.Errorf("batch %d: %w", b, err)
		}
		for _, id := range res.Merged {
			merges = append(merges, id)
			result.labels[id] = fmt.Sprintf("m%d", len(merges))
		}
		ids := make([]string, 0, len(res.Outcomes))
		for id := range res.Outcomes {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return result.Label(ids[i]) < result.Label(ids[j]) })
		for _, id := range ids {
			result.Trace = append(result.Trace, TraceEntry{
				Batch:   b,
				Event:   result.Label(id),
				Outcome: string(res.Outcomes[id]),
			})
		}
	}

	for _, ev := range created {
		state, err := h.eventState(ctx, st, ev.ID, result)
		if err != nil {
			return err
		}
		result.Events = append(result.Events, state)
	}
	for _, id := range merges {
		state, err := h.eventState(ctx, st, id, result)
		if err != nil {
			return err
		}
		result.Merges = append(result.Merges, state)
	}

	result.Conflicts, err = st.ConflictLog(ctx)
	if err != nil {
		return err
	}
	result.Clock = st.Clock()

	lost, err := st.VerifyNoLostEvents(ctx)
	if err != nil {
		return err
	}
	result.Lost = &lost
	return nil
}

func (h *Harness) eventState(ctx context.Context, st *store.Store, id string, result *Result) (EventState, error) {
	ev, err := st.GetEvent(ctx, id)
	if err != nil {
		return EventState{}, err
	}
	state := EventState{
		Label:      result.Label(id),
		ID:         ev.ID,
		Status:     ev.Status,
		RetryCount: ev.RetryCount,
		Payload:    ev.Payload,
	}
	for _, p := range ev.Parents {
		state.Parents = append(state.Parents, result.Label(p))
	}
	return state, nil
}

// remoteVersion builds the authority's version of local.
func remoteVersion(local ir.Event, spec *RemoteVersion) (ir.Event, error) {
	payload, err := ir.ObjectFromMap(spec.Payload)
	if err != nil {
		return ir.Event{}, err
	}
	version := local.Wire()
	version.NodeID = spec.Node
	version.Clock = clock.Vector(spec.Clock)
	if version.Clock == nil {
		version.Clock = clock.Vector{}
	}
	version.Payload = payload
	version.WallTime = Epoch.Add(30 * time.Minute)
	if err := version.Seal(); err != nil {
		return ir.Event{}, err
	}
	return version, nil
}
