package fusion

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/ir"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func intp(i int) *int { return &i }

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	return e
}

// choleraSignals is the two-source scenario: a community report followed half
// an hour later by a clinical record a few dozen metres away.
func choleraSignals() []ir.Signal {
	return []ir.Signal{
		{
			Source:      ir.SourceCommunitySurveillance,
			Location:    &ir.GeoPoint{Lat: 0.0512, Lon: 40.3129},
			Observation: "diarrhea",
			Timestamp:   t0,
		},
		{
			Source:      ir.SourceClinicalRecord,
			Location:    &ir.GeoPoint{Lat: 0.0515, Lon: 40.3132},
			Observation: "diarrhea",
			Secondary:   "cholera",
			Timestamp:   t0.Add(30 * time.Minute),
		},
	}
}

func TestFuse_TwoSourceScenarioConfirmed(t *testing.T) {
	e := newEngine(t)

	rec, err := e.Fuse(choleraSignals(), "patient-17")
	require.NoError(t, err)

	assert.Equal(t, ir.VerificationConfirmed, rec.Status)
	assert.GreaterOrEqual(t, rec.Score, 0.8)
	assert.InDelta(t, 0.047, rec.SpatialDeltaKm, 0.005)
	assert.InDelta(t, 0.5, rec.TemporalDeltaHours, 1e-9)

	assert.InDelta(t, 0.2, rec.Factors.SourceDiversity, 1e-9)
	assert.InDelta(t, 0.3*(1-rec.SpatialDeltaKm/5), rec.Factors.SpatialAgreement, 1e-9)
	assert.InDelta(t, 0.29375, rec.Factors.TemporalAgreement, 1e-9)
	assert.InDelta(t, 0.1, rec.Factors.ObservationConsistency, 1e-9)
	assert.InDelta(t, 0.1, rec.Factors.ConfirmationBonus, 1e-9)

	assert.Equal(t, "patient-17", rec.SubjectID)
	assert.Equal(t, "diarrhea", rec.Observation)
	assert.Equal(t, "cholera", rec.Secondary)
	require.NotNil(t, rec.Location)
	assert.Equal(t, ir.GeoPoint{Lat: 0.0515, Lon: 40.3132}, *rec.Location, "clinical record location is authoritative")
	assert.Equal(t, t0, rec.Timestamp)
	assert.Equal(t, []ir.SourceKind{ir.SourceCommunitySurveillance, ir.SourceClinicalRecord}, rec.Sources)
	assert.Equal(t, 2, rec.SignalCount)
}

func TestFuse_Empty(t *testing.T) {
	e := newEngine(t)

	_, err := e.Fuse(nil, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSignals))
	assert.True(t, IsValidationError(err))
}

func TestFuse_SingleSignal(t *testing.T) {
	e := newEngine(t)

	rec, err := e.Fuse([]ir.Signal{{
		Source:      ir.SourceSMSReport,
		Location:    &ir.GeoPoint{Lat: 1, Lon: 2},
		Observation: "fever",
		Timestamp:   t0,
	}}, "")
	require.NoError(t, err)

	assert.Zero(t, rec.SpatialDeltaKm)
	assert.Zero(t, rec.TemporalDeltaHours)
	assert.InDelta(t, 0.1, rec.Factors.SourceDiversity, 1e-9)
	assert.InDelta(t, 0.3, rec.Factors.SpatialAgreement, 1e-9)
	assert.InDelta(t, 0.3, rec.Factors.TemporalAgreement, 1e-9)
	// symptom: 1 distinct value; diagnosis: none reported.
	assert.InDelta(t, 0.075, rec.Factors.ObservationConsistency, 1e-9)
	assert.Zero(t, rec.Factors.ConfirmationBonus)
	assert.InDelta(t, 0.775, rec.Score, 1e-9)
	assert.Equal(t, ir.VerificationProbable, rec.Status)
}

func TestFuse_SpatialBoundaryScoresZero(t *testing.T) {
	a := ir.GeoPoint{Lat: 0, Lon: 0}
	b := ir.GeoPoint{Lat: 0, Lon: 0.045}
	e := newEngine(t, WithSpatialThreshold(HaversineKm(a, b)))

	rec, err := e.Fuse([]ir.Signal{
		{Source: ir.SourceMobileApp, Location: &a, Timestamp: t0},
		{Source: ir.SourceMobileApp, Location: &b, Timestamp: t0},
	}, "s")
	require.NoError(t, err)
	assert.Zero(t, rec.Factors.SpatialAgreement)

	assert.Zero(t, agreement(spatialWeight, 5.0, 5.0))
	assert.Zero(t, agreement(spatialWeight, 5.0001, 5.0))
	assert.InDelta(t, 0.3*0.5, agreement(spatialWeight, 2.5, 5.0), 1e-12)
}

func TestFuse_TemporalOutsideThreshold(t *testing.T) {
	e := newEngine(t, WithTemporalThreshold(time.Hour))

	rec, err := e.Fuse([]ir.Signal{
		{Source: ir.SourceLaboratory, Timestamp: t0},
		{Source: ir.SourceLaboratory, Timestamp: t0.Add(2 * time.Hour)},
	}, "s")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rec.TemporalDeltaHours, 1e-9)
	assert.Zero(t, rec.Factors.TemporalAgreement)
}

func TestFuse_ScoreCapped(t *testing.T) {
	e := newEngine(t, WithMinSourcesForConfirmation(1))

	signals := []ir.Signal{
		{Source: ir.SourceClinicalRecord, Observation: "cough", Secondary: "tb", Timestamp: t0},
		{Source: ir.SourceLaboratory, Observation: "cough", Secondary: "tb", Timestamp: t0},
		{Source: ir.SourceMobileApp, Observation: "cough", Secondary: "tb", Timestamp: t0},
	}
	rec, err := e.Fuse(signals, "s")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Score)
	assert.Equal(t, ir.VerificationConfirmed, rec.Status)
}

func TestFuse_Validation(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name   string
		signal ir.Signal
		field  string
	}{
		{"unknown source", ir.Signal{Source: "pigeon", Timestamp: t0}, "source"},
		{"missing timestamp", ir.Signal{Source: ir.SourceMobileApp}, "timestamp"},
		{"latitude out of range", ir.Signal{Source: ir.SourceMobileApp, Timestamp: t0, Location: &ir.GeoPoint{Lat: 91}}, "location"},
		{"NaN longitude", ir.Signal{Source: ir.SourceMobileApp, Timestamp: t0, Location: &ir.GeoPoint{Lon: math.NaN()}}, "location"},
		{"severity too high", ir.Signal{Source: ir.SourceMobileApp, Timestamp: t0, Severity: intp(11)}, "severity"},
		{"severity negative", ir.Signal{Source: ir.SourceMobileApp, Timestamp: t0, Severity: intp(-1)}, "severity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := ir.Signal{Source: ir.SourceMobileApp, Timestamp: t0}
			_, err := e.Fuse([]ir.Signal{ok, tt.signal}, "s")
			require.Error(t, err)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, 1, ve.Index)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	for _, opt := range []Option{
		WithSpatialThreshold(0),
		WithSpatialThreshold(math.NaN()),
		WithTemporalThreshold(-time.Second),
		WithMinSourcesForConfirmation(0),
		WithAuthoritative("oracle"),
	} {
		_, err := New(opt)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	}
}

func TestFuse_ResolutionPolicy(t *testing.T) {
	e := newEngine(t)

	near := ir.GeoPoint{Lat: 1, Lon: 1}
	far := ir.GeoPoint{Lat: 1.001, Lon: 1}
	signals := []ir.Signal{
		{Source: ir.SourceSMSReport, Location: &far, Observation: "rash", Secondary: "measles", Timestamp: t0},
		{Source: ir.SourceMobileApp, Location: &near, Observation: "fever", Secondary: "malaria", Timestamp: t0.Add(time.Minute)},
		{Source: ir.SourceSocialMedia, Location: &near, Observation: "fever", Secondary: "malaria", Timestamp: t0.Add(2 * time.Minute)},
	}

	rec, err := e.Fuse(signals, "s")
	require.NoError(t, err)
	assert.Equal(t, "fever", rec.Observation)
	assert.Equal(t, "malaria", rec.Secondary)
	assert.Equal(t, near, *rec.Location)

	// A laboratory result outranks the majority for diagnosis and location.
	lab := ir.GeoPoint{Lat: 1.002, Lon: 1}
	signals = append(signals, ir.Signal{Source: ir.SourceLaboratory, Location: &lab, Secondary: "dengue", Timestamp: t0.Add(time.Hour)})
	rec, err = e.Fuse(signals, "s")
	require.NoError(t, err)
	assert.Equal(t, "dengue", rec.Secondary)
	assert.Equal(t, lab, *rec.Location)
	assert.Equal(t, "fever", rec.Observation, "symptom always uses majority")

	// Authoritative ranking is configurable.
	e = newEngine(t, WithAuthoritative(ir.SourceSMSReport))
	rec, err = e.Fuse(signals, "s")
	require.NoError(t, err)
	assert.Equal(t, "measles", rec.Secondary)
	assert.Equal(t, far, *rec.Location)
}

func TestFuse_TieGoesToEarliest(t *testing.T) {
	e := newEngine(t)

	rec, err := e.Fuse([]ir.Signal{
		{Source: ir.SourceMobileApp, Observation: "vomiting", Timestamp: t0.Add(time.Hour)},
		{Source: ir.SourceMobileApp, Observation: "cough", Timestamp: t0},
	}, "s")
	require.NoError(t, err)
	assert.Equal(t, "cough", rec.Observation)
}

func TestFuse_SubjectFallback(t *testing.T) {
	e := newEngine(t)

	rec, err := e.Fuse([]ir.Signal{
		{Source: ir.SourceMobileApp, Timestamp: t0},
		{Source: ir.SourceMobileApp, SubjectID: "loc-9", Timestamp: t0.Add(time.Minute)},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "loc-9", rec.SubjectID)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		score float64
		want  ir.VerificationStatus
	}{
		{1.0, ir.VerificationConfirmed},
		{0.8, ir.VerificationConfirmed},
		{0.79, ir.VerificationProbable},
		{0.6, ir.VerificationProbable},
		{0.4, ir.VerificationPossible},
		{0.2, ir.VerificationUnverified},
		{0.19, ir.VerificationRejected},
		{0, ir.VerificationRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.score), "score %v", tt.score)
	}
}

func TestHaversineKm(t *testing.T) {
	// One degree of latitude is about 111.2 km.
	assert.InDelta(t, 111.2, HaversineKm(ir.GeoPoint{Lat: 0, Lon: 0}, ir.GeoPoint{Lat: 1, Lon: 0}), 0.1)
	assert.Zero(t, HaversineKm(ir.GeoPoint{Lat: 5, Lon: 5}, ir.GeoPoint{Lat: 5, Lon: 5}))

	a, b := ir.GeoPoint{Lat: -33.9, Lon: 18.4}, ir.GeoPoint{Lat: 51.5, Lon: -0.1}
	assert.Equal(t, HaversineKm(a, b), HaversineKm(b, a))
}
