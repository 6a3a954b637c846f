package fusion

import (
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roach88/outpost/internal/ir"
)

var propSources = []ir.SourceKind{
	ir.SourceCommunitySurveillance, ir.SourceClinicalRecord, ir.SourceLaboratory, ir.SourceSMSReport,
}

var propObservations = []string{"", "fever", "cough"}

// signalsFromSeed builds a deterministic signal set from a seed.
func signalsFromSeed(seed int64, n int) []ir.Signal {
	r := rand.New(rand.NewSource(seed))
	signals := make([]ir.Signal, n)
	for i := range signals {
		s := ir.Signal{
			Source:      propSources[r.Intn(len(propSources))],
			Observation: propObservations[r.Intn(len(propObservations))],
			Secondary:   propObservations[r.Intn(len(propObservations))],
			Timestamp:   t0.Add(time.Duration(r.Intn(48*60)) * time.Minute),
		}
		if r.Intn(3) > 0 {
			s.Location = &ir.GeoPoint{Lat: r.Float64()*0.1 - 0.05, Lon: 40 + r.Float64()*0.1}
		}
		signals[i] = s
	}
	return signals
}

func TestProperty_FuseOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	e, err := New()
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("shuffling signals does not change the record", prop.ForAll(
		func(seed int64, n int) bool {
			signals := signalsFromSeed(seed, n)
			shuffled := append([]ir.Signal(nil), signals...)
			rand.New(rand.NewSource(seed+1)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			a, errA := e.Fuse(signals, "s")
			b, errB := e.Fuse(shuffled, "s")
			if errA != nil || errB != nil {
				return false
			}
			return a.Score == b.Score &&
				a.SpatialDeltaKm == b.SpatialDeltaKm &&
				a.TemporalDeltaHours == b.TemporalDeltaHours &&
				a.Status == b.Status &&
				a.Observation == b.Observation &&
				a.Secondary == b.Secondary
		},
		gen.Int64(),
		gen.IntRange(1, 8),
	))

	properties.Property("score stays within [0, 1]", prop.ForAll(
		func(seed int64, n int) bool {
			rec, err := e.Fuse(signalsFromSeed(seed, n), "s")
			return err == nil && rec.Score >= 0 && rec.Score <= 1
		},
		gen.Int64(),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
