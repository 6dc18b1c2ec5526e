// Package geo contains great-circle helpers for node positions.
package geo

import "math"

// EarthRadius is the mean Earth radius in kilometers.
const EarthRadius = 6371.0

const kilometersPerMile = 1.60934

// Point is a position in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the haversine distance between a and b in kilometers.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// KilometersToMiles converts a distance to statute miles.
func KilometersToMiles(km float64) float64 {
	return km / kilometersPerMile
}

// Measure is a distance in both units, rounded to two decimals.
type Measure struct {
	Kilometers float64 `json:"km"`
	Miles      float64 `json:"miles"`
}

// Measured returns the rounded distance between a and b.
func Measured(a, b Point) Measure {
	km := Distance(a, b)
	return Measure{
		Kilometers: round2(km),
		Miles:      round2(KilometersToMiles(km)),
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
