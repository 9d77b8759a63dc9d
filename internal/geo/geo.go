// Package geo provides great-circle math for ADS-B position processing.
// Distances are in nautical miles, angles in degrees.
package geo

import "math"

// EarthRadiusNM is the mean earth radius in nautical miles.
const EarthRadiusNM = 3440.065

// DistanceNM returns the great-circle distance between two points in
// nautical miles (haversine). Symmetric; zero for identical points.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusNM * c
}

// NMToLatLonOffsets converts a radius in nautical miles to lat/lon degree
// offsets at the given center latitude. One degree of latitude is ~60 nm
// everywhere; longitude compresses with latitude.
func NMToLatLonOffsets(radiusNM, centerLat float64) (latOffset, lonOffset float64) {
	latOffset = radiusNM / 60.0
	lonOffset = radiusNM / (60.0 * math.Cos(centerLat*math.Pi/180))
	return latOffset, lonOffset
}

// Lerp linearly interpolates between a and b. frac is clamped to [0, 1].
func Lerp(a, b, frac float64) float64 {
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return a + frac*(b-a)
}

// LerpTrack interpolates between two track angles along the shortest arc,
// handling the wrap at 360. The result is normalized to [0, 360).
func LerpTrack(t1, t2, frac float64) float64 {
	diff := t2 - t1
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}
	track := math.Mod(t1+frac*diff, 360)
	if track < 0 {
		track += 360
	}
	return track
}

// BBox is a latitude/longitude bounding rectangle.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// RingBBox returns the bounding box of a circle of radiusNM centered at
// (lat, lon). Used for cheap rectangle rejection before radius checks.
func RingBBox(radiusNM, lat, lon float64) BBox {
	latOff, lonOff := NMToLatLonOffsets(radiusNM, lat)
	return BBox{
		MinLat: lat - latOff,
		MaxLat: lat + latOff,
		MinLon: lon - lonOff,
		MaxLon: lon + lonOff,
	}
}

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// HeadingInRange reports whether hdg falls within [start, end], where the
// range may wrap past 360 (e.g. 330-030).
func HeadingInRange(hdg, start, end float64) bool {
	if end < start {
		return hdg >= start || hdg <= end
	}
	return hdg >= start && hdg <= end
}
