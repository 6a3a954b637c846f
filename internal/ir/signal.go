package ir

import "time"

// SourceKind identifies where a signal came from.
type SourceKind string

const (
	SourceCommunitySurveillance SourceKind = "community_surveillance"
	SourceClinicalRecord        SourceKind = "clinical_record"
	SourceLaboratory            SourceKind = "laboratory"
	SourceSMSReport             SourceKind = "sms_report"
	SourceMobileApp             SourceKind = "mobile_app"
	SourceSocialMedia           SourceKind = "social_media"
)

// ValidSourceKinds defines allowed source kinds.
var ValidSourceKinds = map[SourceKind]bool{
	SourceCommunitySurveillance: true,
	SourceClinicalRecord:        true,
	SourceLaboratory:            true,
	SourceSMSReport:             true,
	SourceMobileApp:             true,
	SourceSocialMedia:           true,
}

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Signal is a single observation from one data source. Signals are inputs to
// fusion and are not persisted by outpost itself.
type Signal struct {
	Source      SourceKind        `json:"source" yaml:"source"`
	SubjectID   string            `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	Location    *GeoPoint         `json:"location,omitempty" yaml:"location,omitempty"`
	Observation string            `json:"observation,omitempty" yaml:"observation,omitempty"` // e.g. symptom
	Secondary   string            `json:"secondary,omitempty" yaml:"secondary,omitempty"`     // e.g. diagnosis
	Severity    *int              `json:"severity,omitempty" yaml:"severity,omitempty"`
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// VerificationStatus buckets a fusion score.
type VerificationStatus string

const (
	VerificationConfirmed  VerificationStatus = "confirmed"
	VerificationProbable   VerificationStatus = "probable"
	VerificationPossible   VerificationStatus = "possible"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationRejected   VerificationStatus = "rejected"
)

// ConfidenceFactors is the per-factor breakdown of a verification score.
type ConfidenceFactors struct {
	SourceDiversity        float64 `json:"source_diversity"`
	SpatialAgreement       float64 `json:"spatial_agreement"`
	TemporalAgreement      float64 `json:"temporal_agreement"`
	ObservationConsistency float64 `json:"observation_consistency"`
	ConfirmationBonus      float64 `json:"confirmation_bonus"`
}

// FusedRecord is the output of fusing signals about one subject.
type FusedRecord struct {
	SubjectID          string             `json:"subject_id"`
	Location           *GeoPoint          `json:"location,omitempty"`
	Observation        string             `json:"observation,omitempty"`
	Secondary          string             `json:"secondary,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
	Score              float64            `json:"verification_score"`
	Status             VerificationStatus `json:"verification_status"`
	Sources            []SourceKind       `json:"sources"`
	SignalCount        int                `json:"signal_count"`
	SpatialDeltaKm     float64            `json:"spatial_delta_km"`
	TemporalDeltaHours float64            `json:"temporal_delta_hours"`
	Factors            ConfidenceFactors  `json:"factors"`
}

// Payload renders the record as an event payload for persistence as a
// verification event.
func (r FusedRecord) Payload() IRObject {
	sources := make(IRArray, len(r.Sources))
	for i, s := range r.Sources {
		sources[i] = IRString(s)
	}
	obj := IRObject{
		"subject_id":           IRString(r.SubjectID),
		"timestamp":            IRString(r.Timestamp.UTC().Format(time.RFC3339)),
		"verification_score":   IRFloat(r.Score),
		"verification_status":  IRString(r.Status),
		"sources":              sources,
		"signal_count":         IRInt(r.SignalCount),
		"spatial_delta_km":     IRFloat(r.SpatialDeltaKm),
		"temporal_delta_hours": IRFloat(r.TemporalDeltaHours),
	}
	if r.Location != nil {
		obj["location"] = IRObject{"lat": IRFloat(r.Location.Lat), "lon": IRFloat(r.Location.Lon)}
	}
	if r.Observation != "" {
		obj["symptom"] = IRString(r.Observation)
	}
	if r.Secondary != "" {
		obj["diagnosis"] = IRString(r.Secondary)
	}
	return obj
}
