package sos

import "math"

// earthRadiusMeters is the spherical-earth approximation used for every
// distance check in the system, so matching and display stay consistent.
const earthRadiusMeters = 6371000.0

// Distance returns the great-circle (haversine) distance in meters between
// two WGS84 coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180

	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
