package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/outpost/internal/ir"
)

// DefaultAutoResolveThreshold is the confidence below which a resolution is
// deferred to manual review.
const DefaultAutoResolveThreshold = 0.8

// ErrDifferentRecords is returned when the two versions do not share an ID.
var ErrDifferentRecords = errors.New("versions belong to different records")

// Result is the outcome of reconciling one pair of versions.
type Result struct {
	Detection            Detection
	Strategy             ir.Strategy
	Payload              ir.IRObject // Resolved payload; nil when manual review is required
	Confidence           float64
	RequiresManualReview bool
	Winner               string

	// Report is nil when the versions do not conflict. ResolvedEventID is left
	// empty for the caller to fill once the merge event is persisted.
	Report *ir.ConflictReport
}

// Reconciler runs Detect, SelectStrategy, and Resolve over a pair of versions.
// It holds only configuration and is safe for concurrent use.
type Reconciler struct {
	policy     Policy
	confidence Confidence
	threshold  float64
	now        func() time.Time
	ids        IDGenerator
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPolicy replaces the field policy.
func WithPolicy(p Policy) Option {
	return func(r *Reconciler) {
		r.policy = p
	}
}

// WithConfidence replaces the strategy confidence constants.
func WithConfidence(c Confidence) Option {
	return func(r *Reconciler) {
		r.confidence = c
	}
}

// WithAutoResolveThreshold sets the minimum confidence for automatic resolution.
func WithAutoResolveThreshold(t float64) Option {
	return func(r *Reconciler) {
		r.threshold = t
	}
}

// WithNow sets the clock used for merge markers and report timestamps.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithIDGenerator sets the report ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Reconciler) {
		r.ids = g
	}
}

// New creates a Reconciler with the default policy and confidence constants.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		policy:     DefaultPolicy(),
		confidence: DefaultConfidence(),
		threshold:  DefaultAutoResolveThreshold,
		now:        time.Now,
		ids:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the reconciler's field policy.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Reconcile classifies and resolves two versions of the same record.
//
// Manual review is required when the chosen strategy is manual_review or the
// resolution's confidence is below the auto-resolve threshold. In that case the
// result carries no payload and the report embeds both versions.
func (r *Reconciler) Reconcile(local, remote ir.Event) (Result, error) {
	if local.ID != remote.ID {
		return Result{}, fmt.Errorf("reconcile %s/%s: %w", local.ID, remote.ID, ErrDifferentRecords)
	}

	det := Detect(local.Payload, remote.Payload, r.policy)
	if det.Classification == ir.ConflictNone {
		return Result{
			Detection:  det,
			Payload:    local.Payload.Clone(),
			Confidence: 1,
			Winner:     "local",
		}, nil
	}

	now := r.now().UTC()
	strategy := SelectStrategy(det, r.policy)
	res, err := Resolve(strategy, local, remote, r.confidence, now)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %s: %w", local.ID, err)
	}

	manual := strategy == ir.StrategyManualReview || res.Confidence < r.threshold

	report := &ir.ConflictReport{
		ID:                   r.ids.Generate(),
		Classification:       det.Classification,
		LocalEventID:         local.ID,
		RemoteEventID:        remote.ID,
		Fields:               append([]string(nil), det.Fields...),
		Strategy:             strategy,
		RequiresManualReview: manual,
		Confidence:           res.Confidence,
		CreatedAt:            now,
	}

	result := Result{
		Detection:            det,
		Strategy:             strategy,
		Confidence:           res.Confidence,
		RequiresManualReview: manual,
		Winner:               res.Winner,
		Report:               report,
	}
	if manual {
		report.ReviewPayload = reviewPayload(local, remote, det, res.Payload)
		result.Winner = ""
	} else {
		result.Payload = res.Payload
	}
	return result, nil
}
