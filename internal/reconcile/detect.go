package reconcile

import (
	"sort"
	"strings"

	"github.com/roach88/outpost/internal/ir"
)

// Detection is the result of comparing two payloads.
type Detection struct {
	Classification ir.ConflictType `json:"classification"`
	Fields         []string        `json:"fields"`       // Conflicting fields, sorted
	TotalFields    int             `json:"total_fields"` // Size of the union of both key sets
}

// Detect compares payload field sets and values.
//
// Different key sets are a structural conflict listing the symmetric
// difference. With identical keys and no differing values the result is
// ConflictNone. A lone differing timestamp field is a timestamp conflict. A
// differing semantic field where neither value contains the other makes the
// conflict semantic; any other difference is a value conflict.
func Detect(local, remote ir.IRObject, p Policy) Detection {
	union := make(map[string]bool, len(local)+len(remote))
	var missing []string
	for k := range local {
		union[k] = true
		if _, ok := remote[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range remote {
		union[k] = true
		if _, ok := local[k]; !ok {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return Detection{Classification: ir.ConflictStructural, Fields: missing, TotalFields: len(union)}
	}

	var differing []string
	semantic := false
	for _, k := range local.SortedKeys() {
		if ir.Equal(local[k], remote[k]) {
			continue
		}
		differing = append(differing, k)
		if p.IsSemantic(k) && !related(local[k], remote[k]) {
			semantic = true
		}
	}
	sort.Strings(differing)

	det := Detection{Fields: differing, TotalFields: len(union)}
	switch {
	case len(differing) == 0:
		det.Classification = ir.ConflictNone
	case semantic:
		det.Classification = ir.ConflictSemantic
	case len(differing) == 1 && p.TimestampField != "" && differing[0] == p.TimestampField:
		det.Classification = ir.ConflictTimestamp
	default:
		det.Classification = ir.ConflictValue
	}
	return det
}

// related reports whether one categorical value is a case-insensitive substring
// of the other ("cholera" and "suspected cholera"). Non-string values are never
// related.
func related(a, b ir.IRValue) bool {
	as, okA := ir.AsString(a)
	bs, okB := ir.AsString(b)
	if !okA || !okB {
		return false
	}
	as, bs = strings.ToLower(as), strings.ToLower(bs)
	return strings.Contains(as, bs) || strings.Contains(bs, as)
}
