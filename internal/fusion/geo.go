package fusion

import (
	"math"

	"github.com/roach88/outpost/internal/ir"
)

// earthRadiusKm is the IUGG mean Earth radius.
const earthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b ir.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// maxPairwiseKm returns the largest distance between any two points, or 0 for
// fewer than two.
func maxPairwiseKm(points []ir.GeoPoint) float64 {
	var longest float64
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if d := HaversineKm(points[i], points[j]); d > longest {
				longest = d
			}
		}
	}
	return longest
}

func validPoint(p ir.GeoPoint) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}
