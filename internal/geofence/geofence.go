package geofence

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Validator decides whether a reported position falls inside a circular
// fence. It is stateless and side-effect free.
type Validator struct {
	// AccuracyToleranceM is the worst GPS accuracy accepted. Reports with
	// a worse (larger) accuracy fail closed: ambiguity is never resolved
	// in the submitter's favor.
	AccuracyToleranceM float64
}

// NewValidator constructs a validator with the given accuracy tolerance.
func NewValidator(accuracyToleranceM float64) *Validator {
	return &Validator{AccuracyToleranceM: accuracyToleranceM}
}

// DistanceM returns the great-circle distance between two points in
// meters, using the haversine formula.
func DistanceM(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// WithinFence reports whether point lies inside the fence circle.
// A point exactly on the radius is inside. When accuracyM exceeds the
// configured tolerance the check rejects regardless of distance.
func (v *Validator) WithinFence(point, center Point, radiusM, accuracyM float64) bool {
	if v.AccuracyToleranceM > 0 && accuracyM > v.AccuracyToleranceM {
		return false
	}
	if radiusM <= 0 {
		return false
	}
	return DistanceM(point, center) <= radiusM
}
