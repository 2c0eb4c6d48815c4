package geo

import "math"

// Earth radius in kilometers.
const earthRadiusKm = 6371.0

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the great-circle distance in kilometers between two
// coordinates using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// RouteDistance returns the total path length in kilometers through the
// ordered points, summing consecutive-pair distances. Pairs with a
// non-finite coordinate contribute zero length.
func RouteDistance(pts []Point) float64 {
	total := 0.0
	for i := 0; i+1 < len(pts); i++ {
		cur, next := pts[i], pts[i+1]
		if !finite(cur) || !finite(next) {
			continue
		}
		total += Distance(cur.Latitude, cur.Longitude, next.Latitude, next.Longitude)
	}
	return total
}

// PointAtDistance walks the polyline and returns the coordinate reached
// after traveling the given distance in kilometers from the first point.
// Latitude and longitude are interpolated linearly within the matching
// segment, which is a small-error approximation of the geodesic for the
// segment lengths of a national rail network. Distances beyond the total
// path length pin to the last point.
func PointAtDistance(pts []Point, traveled float64) Point {
	if len(pts) == 0 {
		return Point{}
	}
	if len(pts) == 1 {
		return pts[0]
	}
	remaining := traveled
	if remaining < 0 {
		remaining = 0
	}
	for i := 0; i+1 < len(pts); i++ {
		cur, next := pts[i], pts[i+1]
		seg := 0.0
		if finite(cur) && finite(next) {
			seg = Distance(cur.Latitude, cur.Longitude, next.Latitude, next.Longitude)
		}
		if remaining <= seg {
			if seg == 0 {
				return cur
			}
			frac := remaining / seg
			return Point{
				Latitude:  cur.Latitude + (next.Latitude-cur.Latitude)*frac,
				Longitude: cur.Longitude + (next.Longitude-cur.Longitude)*frac,
			}
		}
		remaining -= seg
	}
	return pts[len(pts)-1]
}

// BearingDeg returns the initial bearing from a to b in degrees [0, 360).
func BearingDeg(a, b Point) float64 {
	y := math.Sin(toRad(b.Longitude-a.Longitude)) * math.Cos(toRad(b.Latitude))
	x := math.Cos(toRad(a.Latitude))*math.Sin(toRad(b.Latitude)) -
		math.Sin(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Cos(toRad(b.Longitude-a.Longitude))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func finite(p Point) bool {
	return !math.IsNaN(p.Latitude) && !math.IsInf(p.Latitude, 0) &&
		!math.IsNaN(p.Longitude) && !math.IsInf(p.Longitude, 0)
}
