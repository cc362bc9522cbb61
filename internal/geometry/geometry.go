// Package geometry implements parcel geometry validation and the derived
// metrics (area, perimeter, centroid, bounding box) recomputed on every
// geometry change.
package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/agrovista/satreport/internal/model"
)

const earthRadiusM = 6371008.8

// ErrInvalidGeometry marks a degenerate or self-intersecting polygon.
// Callers match it with eris.Is; it is never retried.
var ErrInvalidGeometry = eris.New("invalid geometry")

// Parse decodes a GeoJSON geometry into a single simple polygon in WGS84.
// MultiPolygons with exactly one member are accepted and unwrapped.
func Parse(raw []byte) (*geom.Polygon, error) {
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(ErrInvalidGeometry, err.Error())
	}

	switch p := g.(type) {
	case *geom.Polygon:
		return p, nil
	case *geom.MultiPolygon:
		if p.NumPolygons() == 1 {
			return p.Polygon(0), nil
		}
		return nil, eris.Wrap(ErrInvalidGeometry, "multipolygon with more than one member")
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "unsupported geometry type %T", g)
	}
}

// Validate enforces the parcel geometry invariant: a closed, simple
// (non-self-intersecting) exterior ring with positive area.
func Validate(poly *geom.Polygon) error {
	if poly == nil || poly.NumLinearRings() == 0 {
		return eris.Wrap(ErrInvalidGeometry, "empty polygon")
	}

	ring := ringCoords(poly)
	if len(ring) < 4 {
		return eris.Wrap(ErrInvalidGeometry, "ring has fewer than 4 points")
	}

	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		return eris.Wrap(ErrInvalidGeometry, "ring is not closed")
	}

	for _, c := range ring {
		if c[0] < -180 || c[0] > 180 || c[1] < -90 || c[1] > 90 {
			return eris.Wrap(ErrInvalidGeometry, "coordinate outside WGS84 range")
		}
	}

	if selfIntersects(ring) {
		return eris.Wrap(ErrInvalidGeometry, "ring self-intersects")
	}

	if math.Abs(shoelace(ring)) == 0 {
		return eris.Wrap(ErrInvalidGeometry, "zero area")
	}

	return nil
}

// Derived holds the metrics recomputed atomically with each geometry save.
type Derived struct {
	AreaHa     float64
	PerimeterM float64
	Centroid   model.Point
	BBox       model.BBox
}

// Compute returns all derived metrics for a validated polygon. Area uses a
// cylindrical equal-area projection about the centroid latitude; perimeter
// is the haversine sum over ring edges.
func Compute(poly *geom.Polygon) Derived {
	ring := ringCoords(poly)
	centroid := planarCentroid(ring)
	bounds := poly.Bounds()

	return Derived{
		AreaHa:     equalAreaM2(ring, centroid.Lat) / 10_000,
		PerimeterM: perimeterM(ring),
		Centroid:   centroid,
		BBox: model.BBox{
			MinLng: bounds.Min(0),
			MinLat: bounds.Min(1),
			MaxLng: bounds.Max(0),
			MaxLat: bounds.Max(1),
		},
	}
}

// HaversineKm is the geodesic distance between two WGS84 points.
func HaversineKm(a, b model.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h)) / 1000
}

// Nearby filters parcels whose centroid lies within radiusKm of the given
// parcel's centroid, excluding the parcel itself.
func Nearby(parcel *model.Parcel, candidates []model.Parcel, radiusKm float64) []model.Parcel {
	var out []model.Parcel
	for _, c := range candidates {
		if c.ID == parcel.ID {
			continue
		}
		if HaversineKm(parcel.Centroid, c.Centroid) <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

// Intersects reports whether two polygons overlap: shared interior points,
// containment, or crossing edges.
func Intersects(a, b *geom.Polygon) bool {
	ra, rb := ringCoords(a), ringCoords(b)
	if len(ra) == 0 || len(rb) == 0 {
		return false
	}

	for _, c := range ra {
		if pointInRing(c, rb) {
			return true
		}
	}
	for _, c := range rb {
		if pointInRing(c, ra) {
			return true
		}
	}

	for i := 0; i < len(ra)-1; i++ {
		for j := 0; j < len(rb)-1; j++ {
			if segmentsCross(ra[i], ra[i+1], rb[j], rb[j+1]) {
				return true
			}
		}
	}
	return false
}

// PointInPolygon reports whether a WGS84 point lies inside the polygon's
// exterior ring.
func PointInPolygon(p model.Point, poly *geom.Polygon) bool {
	return pointInRing(geom.Coord{p.Lng, p.Lat}, ringCoords(poly))
}

// --- ring helpers ---

func ringCoords(poly *geom.Polygon) []geom.Coord {
	if poly == nil || poly.NumLinearRings() == 0 {
		return nil
	}
	return poly.LinearRing(0).Coords()
}

// shoelace returns the signed planar area in squared degrees.
func shoelace(ring []geom.Coord) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// equalAreaM2 computes polygon area in m² using a cylindrical equal-area
// projection with standard parallel at the given latitude.
func equalAreaM2(ring []geom.Coord, stdLat float64) float64 {
	cosLat := math.Cos(stdLat * math.Pi / 180)
	if cosLat == 0 {
		cosLat = 1e-9
	}

	projected := make([]geom.Coord, len(ring))
	for i, c := range ring {
		x := earthRadiusM * (c[0] * math.Pi / 180) * cosLat
		y := earthRadiusM * math.Sin(c[1]*math.Pi/180) / cosLat
		projected[i] = geom.Coord{x, y}
	}
	return math.Abs(shoelace(projected))
}

func perimeterM(ring []geom.Coord) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += HaversineKm(
			model.Point{Lng: ring[i][0], Lat: ring[i][1]},
			model.Point{Lng: ring[i+1][0], Lat: ring[i+1][1]},
		) * 1000
	}
	return sum
}

func planarCentroid(ring []geom.Coord) model.Point {
	area := shoelace(ring)
	if area == 0 {
		// Degenerate ring: fall back to the vertex mean.
		var sx, sy float64
		for _, c := range ring {
			sx += c[0]
			sy += c[1]
		}
		n := float64(len(ring))
		return model.Point{Lng: sx / n, Lat: sy / n}
	}

	var cx, cy float64
	for i := 0; i < len(ring)-1; i++ {
		cross := ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
		cx += (ring[i][0] + ring[i+1][0]) * cross
		cy += (ring[i][1] + ring[i+1][1]) * cross
	}
	return model.Point{Lng: cx / (6 * area), Lat: cy / (6 * area)}
}

func pointInRing(p geom.Coord, ring []geom.Coord) bool {
	inside := false
	for i, j := 0, len(ring)-2; i < len(ring)-1; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > p[1]) != (yj > p[1]) &&
			p[0] < (xj-xi)*(p[1]-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func orientation(a, b, c geom.Coord) int {
	v := (b[1]-a[1])*(c[0]-b[0]) - (b[0]-a[0])*(c[1]-b[1])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// segmentsCross reports proper intersection of segments ab and cd,
// excluding shared endpoints.
func segmentsCross(a, b, c, d geom.Coord) bool {
	if sameCoord(a, c) || sameCoord(a, d) || sameCoord(b, c) || sameCoord(b, d) {
		return false
	}
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)
	return o1 != o2 && o3 != o4 && o1 != 0 && o2 != 0 && o3 != 0 && o4 != 0
}

func sameCoord(a, b geom.Coord) bool {
	return a[0] == b[0] && a[1] == b[1]
}

// selfIntersects checks every non-adjacent edge pair of the ring.
func selfIntersects(ring []geom.Coord) bool {
	n := len(ring) - 1 // last point repeats the first
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// Skip the closing edge against the first edge; they share a vertex.
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsCross(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}
