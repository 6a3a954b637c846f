package fusion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/outpost/internal/ir"
)

// Sub-score weights and the confirmation bonus.
const (
	diversityWeight   = 0.3
	spatialWeight     = 0.3
	temporalWeight    = 0.3
	consistencyWeight = 0.1
	confirmationBonus = 0.1

	// diversitySaturation is the number of distinct source kinds that earns the
	// full diversity sub-score.
	diversitySaturation = 3

	// absentCategoryScore stands in for an observation category no signal reports.
	absentCategoryScore = 0.5

	maxSeverity = 10
)

// Status thresholds on the capped score, checked in order.
var statusThresholds = []struct {
	min    float64
	status ir.VerificationStatus
}{
	{0.8, ir.VerificationConfirmed},
	{0.6, ir.VerificationProbable},
	{0.4, ir.VerificationPossible},
	{0.2, ir.VerificationUnverified},
}

// Engine fuses signals. It is immutable after New and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine with the default configuration overridden by opts.
func New(opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Authoritative = append([]ir.SourceKind(nil), e.cfg.Authoritative...)
	return cfg
}

// Fuse combines signals about subjectID into one scored record.
//
// The result does not depend on the order of signals. An empty subjectID falls
// back to the first subject reference carried by the signals.
func (e *Engine) Fuse(signals []ir.Signal, subjectID string) (ir.FusedRecord, error) {
	if len(signals) == 0 {
		return ir.FusedRecord{}, ErrNoSignals
	}
	for i, s := range signals {
		if err := validateSignal(i, s); err != nil {
			return ir.FusedRecord{}, err
		}
	}

	sorted := sortSignals(signals)

	var points []ir.GeoPoint
	for _, s := range sorted {
		if s.Location != nil {
			points = append(points, *s.Location)
		}
	}
	spatialDelta := maxPairwiseKm(points)
	temporalDelta := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Hours()

	sources := distinctSources(sorted)

	factors := ir.ConfidenceFactors{
		SourceDiversity:        sourceDiversity(len(sources)),
		SpatialAgreement:       agreement(spatialWeight, spatialDelta, e.cfg.SpatialThresholdKm),
		TemporalAgreement:      agreement(temporalWeight, temporalDelta, e.cfg.TemporalThreshold.Hours()),
		ObservationConsistency: observationConsistency(sorted),
	}
	if len(sources) >= e.cfg.MinSourcesForConfirmation {
		factors.ConfirmationBonus = confirmationBonus
	}

	score := factors.SourceDiversity + factors.SpatialAgreement + factors.TemporalAgreement +
		factors.ObservationConsistency + factors.ConfirmationBonus
	score = math.Min(score, 1.0)

	if subjectID == "" {
		for _, s := range sorted {
			if s.SubjectID != "" {
				subjectID = s.SubjectID
				break
			}
		}
	}

	return ir.FusedRecord{
		SubjectID:          subjectID,
		Location:           e.resolveLocation(sorted),
		Observation:        mostFrequent(sorted, func(s ir.Signal) string { return s.Observation }),
		Secondary:          e.resolveSecondary(sorted),
		Timestamp:          sorted[0].Timestamp,
		Score:              score,
		Status:             StatusFor(score),
		Sources:            sources,
		SignalCount:        len(sorted),
		SpatialDeltaKm:     spatialDelta,
		TemporalDeltaHours: temporalDelta,
		Factors:            factors,
	}, nil
}

// StatusFor maps a score to its verification status.
func StatusFor(score float64) ir.VerificationStatus {
	for _, t := range statusThresholds {
		if score >= t.min {
			return t.status
		}
	}
	return ir.VerificationRejected
}

func validateSignal(i int, s ir.Signal) error {
	if !ir.ValidSourceKinds[s.Source] {
		return &ValidationError{Index: i, Field: "source", Reason: fmt.Sprintf("unknown source kind %q", s.Source)}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Index: i, Field: "timestamp", Reason: "required"}
	}
	if s.Location != nil && !validPoint(*s.Location) {
		return &ValidationError{Index: i, Field: "location", Reason: fmt.Sprintf("out of range (%v, %v)", s.Location.Lat, s.Location.Lon)}
	}
	if s.Severity != nil && (*s.Severity < 0 || *s.Severity > maxSeverity) {
		return &ValidationError{Index: i, Field: "severity", Reason: fmt.Sprintf("must be within 0-%d, got %d", maxSeverity, *s.Severity)}
	}
	return nil
}

// sortSignals returns a copy ordered by timestamp. Ties are broken on content
// so that equal-time signals land in the same order whatever the input order.
func sortSignals(signals []ir.Signal) []ir.Signal {
	sorted := append([]ir.Signal(nil), signals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return signalKey(a) < signalKey(b)
	})
	return sorted
}

func signalKey(s ir.Signal) string {
	var b strings.Builder
	b.WriteString(string(s.Source))
	b.WriteByte(0)
	b.WriteString(s.Observation)
	b.WriteByte(0)
	b.WriteString(s.Secondary)
	b.WriteByte(0)
	if s.Location != nil {
		fmt.Fprintf(&b, "%.9f,%.9f", s.Location.Lat, s.Location.Lon)
	}
	b.WriteByte(0)
	if s.Severity != nil {
		fmt.Fprintf(&b, "%02d", *s.Severity)
	}
	b.WriteByte(0)
	b.WriteString(s.SubjectID)
	return b.String()
}

func distinctSources(sorted []ir.Signal) []ir.SourceKind {
	seen := make(map[ir.SourceKind]bool)
	var out []ir.SourceKind
	for _, s := range sorted {
		if !seen[s.Source] {
			seen[s.Source] = true
			out = append(out, s.Source)
		}
	}
	return out
}

func sourceDiversity(distinct int) float64 {
	return math.Min(float64(distinct)/diversitySaturation, 1) * diversityWeight
}

// agreement scores how far delta is inside threshold. A delta equal to the
// threshold scores 0, as does anything beyond it.
func agreement(weight, delta, threshold float64) float64 {
	if delta > threshold {
		return 0
	}
	return weight * (1 - delta/threshold)
}

func observationConsistency(sorted []ir.Signal) float64 {
	primary := categoryScore(sorted, func(s ir.Signal) string { return s.Observation })
	secondary := categoryScore(sorted, func(s ir.Signal) string { return s.Secondary })
	return consistencyWeight * (primary + secondary) / 2
}

// categoryScore is 1/distinct values of a category, or absentCategoryScore when
// no signal reports it.
func categoryScore(sorted []ir.Signal, field func(ir.Signal) string) float64 {
	distinct := make(map[string]bool)
	for _, s := range sorted {
		if v := field(s); v != "" {
			distinct[v] = true
		}
	}
	if len(distinct) == 0 {
		return absentCategoryScore
	}
	return 1 / float64(len(distinct))
}
