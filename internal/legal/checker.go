package legal

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/geometry"
	"github.com/agrovista/satreport/internal/model"
)

// DefaultGridSize is the per-axis sample count used for area estimation.
// 64x64 keeps cell sizes under ~20 m on parcels up to a few hundred
// hectares, well inside the setback distances being measured.
const DefaultGridSize = 64

// metersPerDegree is the meridian arc length of one degree of latitude.
const metersPerDegree = 111_320.0

// Checker computes restriction intersections for one parcel at a time.
// Areas are estimated by sampling a fixed grid of points inside the parcel,
// so results are deterministic for a given geometry and layer set.
type Checker struct {
	gridSize int
}

// NewChecker returns a Checker with the default grid resolution.
func NewChecker() *Checker {
	return &Checker{gridSize: DefaultGridSize}
}

// Check evaluates the parcel against the hydro layer and the areal layers.
// Either layer argument may be nil or empty; an empty check complies.
func (c *Checker) Check(parcel *model.Parcel, hydro *HydroLayer, areas []*AreaLayer) (*Result, error) {
	poly, err := geometry.Parse([]byte(parcel.GeometryGeoJSON))
	if err != nil {
		return nil, eris.Wrapf(err, "legal: parcel %s", parcel.ID)
	}
	if err := geometry.Validate(poly); err != nil {
		return nil, eris.Wrapf(err, "legal: parcel %s", parcel.ID)
	}

	derived := geometry.Compute(poly)
	grid := c.sampleGrid(poly, derived)
	total := derived.AreaHa

	var (
		restrictions []Restriction
		geometries   []RestrictionGeometry
		unionMask    = make([]bool, len(grid))
	)

	if hydro != nil {
		for _, feat := range hydro.Features {
			count := 0
			for i, p := range grid {
				if pointToLineM(p, feat.Line, derived.Centroid.Lat) <= feat.Subtype.SetbackM() {
					unionMask[i] = true
					count++
				}
			}
			if count == 0 {
				continue
			}
			fraction := float64(count) / float64(len(grid))
			restrictions = append(restrictions, Restriction{
				Kind:           KindWaterSetback,
				Subtype:        feat.Subtype,
				MinSetbackM:    feat.Subtype.SetbackM(),
				Name:           featureName(feat.Name, "curso de agua"),
				AffectedAreaHa: round2(total * fraction),
				Severity:       severityFor(KindWaterSetback, fraction),
			})
			geometries = append(geometries, RestrictionGeometry{
				Kind:    KindWaterSetback,
				Name:    featureName(feat.Name, "curso de agua"),
				GeoJSON: lineGeoJSON(feat.Line),
			})
		}

		if hydro.PolygonTyped {
			restrictions = append(restrictions, Restriction{
				Kind:     KindWaterSetback,
				Name:     "capa hidrografica",
				Severity: SeverityLow,
				Note:     "la capa hidrografica contiene poligonos en lugar de lineas; se usaron sus bordes",
			})
		}
	}

	for _, layer := range areas {
		if layer == nil {
			continue
		}
		for _, feat := range layer.Features {
			count := 0
			for i, p := range grid {
				if geometry.PointInPolygon(p, feat.poly) {
					unionMask[i] = true
					count++
				}
			}
			if count == 0 {
				continue
			}
			fraction := float64(count) / float64(len(grid))
			restrictions = append(restrictions, Restriction{
				Kind:           layer.Kind,
				Name:           featureName(feat.Name, string(layer.Kind)),
				AffectedAreaHa: round2(total * fraction),
				Severity:       severityFor(layer.Kind, fraction),
			})
			geometries = append(geometries, RestrictionGeometry{
				Kind:    layer.Kind,
				Name:    featureName(feat.Name, string(layer.Kind)),
				GeoJSON: polygonGeoJSON(feat.poly),
			})
		}
	}

	restrictedCount := 0
	for _, hit := range unionMask {
		if hit {
			restrictedCount++
		}
	}
	restricted := round2(total * float64(restrictedCount) / float64(len(grid)))

	complies := true
	for _, r := range restrictions {
		if r.AffectedAreaHa > 0 {
			complies = false
			break
		}
	}

	result := &Result{
		Restrictions:     restrictions,
		CultivableAreaHa: round2(total - restricted),
		RestrictedAreaHa: restricted,
		TotalAreaHa:      round2(total),
		Complies:         complies,
		MapInput: MapInput{
			ParcelPolygon:         json.RawMessage(parcel.GeometryGeoJSON),
			RestrictionGeometries: geometries,
			Metadata: map[string]string{
				"parcel":             parcel.Name,
				"total_area_ha":      fmt.Sprintf("%.2f", total),
				"restricted_area_ha": fmt.Sprintf("%.2f", restricted),
				"complies":           fmt.Sprintf("%t", complies),
			},
		},
	}

	zap.L().Info("legal: check complete",
		zap.String("parcel_id", parcel.ID),
		zap.Int("restrictions", len(restrictions)),
		zap.Float64("restricted_area_ha", restricted),
		zap.Bool("complies", complies),
	)

	return result, nil
}

// sampleGrid returns the cell centers of a gridSize x gridSize lattice over
// the parcel bounding box, keeping only points inside the polygon. A parcel
// too small for any cell center falls back to its centroid.
func (c *Checker) sampleGrid(poly *geom.Polygon, derived geometry.Derived) []model.Point {
	n := c.gridSize
	dx := (derived.BBox.MaxLng - derived.BBox.MinLng) / float64(n)
	dy := (derived.BBox.MaxLat - derived.BBox.MinLat) / float64(n)

	points := make([]model.Point, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := model.Point{
				Lng: derived.BBox.MinLng + (float64(i)+0.5)*dx,
				Lat: derived.BBox.MinLat + (float64(j)+0.5)*dy,
			}
			if geometry.PointInPolygon(p, poly) {
				points = append(points, p)
			}
		}
	}

	if len(points) == 0 {
		points = append(points, derived.Centroid)
	}
	return points
}

// severityFor grades a restriction. Indigenous reserves and paramos are
// absolute prohibitions regardless of the affected share; the rest scale
// with how much of the parcel they cover.
func severityFor(kind RestrictionKind, fraction float64) Severity {
	if kind == KindIndigenousReserve || kind == KindParamo {
		return SeverityHigh
	}
	switch {
	case fraction >= 0.25:
		return SeverityHigh
	case fraction >= 0.05:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// pointToLineM returns the distance in meters from p to the nearest segment
// of line, using an equirectangular projection at the parcel latitude.
func pointToLineM(p model.Point, line []model.Point, refLat float64) float64 {
	if len(line) == 0 {
		return math.Inf(1)
	}

	cosLat := math.Cos(refLat * math.Pi / 180)
	px, py := p.Lng*metersPerDegree*cosLat, p.Lat*metersPerDegree

	min := math.Inf(1)
	for i := 0; i < len(line); i++ {
		ax, ay := line[i].Lng*metersPerDegree*cosLat, line[i].Lat*metersPerDegree
		if i == len(line)-1 {
			if d := math.Hypot(px-ax, py-ay); d < min {
				min = d
			}
			break
		}
		bx, by := line[i+1].Lng*metersPerDegree*cosLat, line[i+1].Lat*metersPerDegree
		if d := pointToSegment(px, py, ax, ay, bx, by); d < min {
			min = d
		}
	}
	return min
}

func pointToSegment(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

func featureName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func lineGeoJSON(line []model.Point) json.RawMessage {
	coords := make([]geom.Coord, len(line))
	for i, p := range line {
		coords[i] = geom.Coord{p.Lng, p.Lat}
	}
	ls := geom.NewLineString(geom.XY).MustSetCoords(coords)
	raw, err := geojson.Marshal(ls)
	if err != nil {
		return nil
	}
	return raw
}

func polygonGeoJSON(poly *geom.Polygon) json.RawMessage {
	raw, err := geojson.Marshal(poly)
	if err != nil {
		return nil
	}
	return raw
}
