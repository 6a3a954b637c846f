package fusion

import (
	"github.com/roach88/outpost/internal/ir"
)

// resolveLocation prefers the most authoritative source carrying a location,
// otherwise the most frequent location.
func (e *Engine) resolveLocation(sorted []ir.Signal) *ir.GeoPoint {
	if s, ok := e.authoritative(sorted, func(s ir.Signal) bool { return s.Location != nil }); ok {
		p := *s.Location
		return &p
	}

	counts := make(map[ir.GeoPoint]int)
	var order []ir.GeoPoint
	for _, s := range sorted {
		if s.Location == nil {
			continue
		}
		if counts[*s.Location] == 0 {
			order = append(order, *s.Location)
		}
		counts[*s.Location]++
	}
	if len(order) == 0 {
		return nil
	}
	best := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}
	return &best
}

// resolveSecondary prefers the most authoritative source reporting a secondary
// observation, otherwise the most frequent one.
func (e *Engine) resolveSecondary(sorted []ir.Signal) string {
	if s, ok := e.authoritative(sorted, func(s ir.Signal) bool { return s.Secondary != "" }); ok {
		return s.Secondary
	}
	return mostFrequent(sorted, func(s ir.Signal) string { return s.Secondary })
}

// authoritative returns the earliest signal from the highest ranked
// authoritative source kind that satisfies has.
func (e *Engine) authoritative(sorted []ir.Signal, has func(ir.Signal) bool) (ir.Signal, bool) {
	for _, kind := range e.cfg.Authoritative {
		for _, s := range sorted {
			if s.Source == kind && has(s) {
				return s, true
			}
		}
	}
	return ir.Signal{}, false
}

// mostFrequent returns the most common non-empty value. Ties go to the value
// that occurs earliest.
func mostFrequent(sorted []ir.Signal, field func(ir.Signal) string) string {
	counts := make(map[string]int)
	var order []string
	for _, s := range sorted {
		v := field(s)
		if v == "" {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	if len(order) == 0 {
		return ""
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}
