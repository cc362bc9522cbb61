package legal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/agrovista/satreport/internal/fetcher"
	"github.com/agrovista/satreport/internal/model"
)

// HydroFeature is one water course from the hydrography layer.
type HydroFeature struct {
	Name    string
	Subtype WaterSubtype
	Line    []model.Point
}

// HydroLayer holds the water courses near a parcel. PolygonTyped is set
// when the source delivered polygons where lines were expected; the checker
// still uses the polygon boundaries but flags the layer.
type HydroLayer struct {
	Features     []HydroFeature
	PolygonTyped bool
}

// AreaFeature is one polygon from an areal restriction layer.
type AreaFeature struct {
	Name string
	poly *geom.Polygon
}

// NewAreaFeature builds a feature from a closed exterior ring.
func NewAreaFeature(name string, ring []model.Point) AreaFeature {
	coords := make([]geom.Coord, len(ring))
	for i, p := range ring {
		coords[i] = geom.Coord{p.Lng, p.Lat}
	}
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{coords})
	return AreaFeature{Name: name, poly: poly}
}

// AreaLayer holds the polygons of one areal restriction kind.
type AreaLayer struct {
	Kind     RestrictionKind
	Features []AreaFeature
}

// nameAttrs and typeAttrs are the attribute names tried, in order, when
// reading layer shapefiles. National layers use Spanish headers.
var (
	nameAttrs = []string{"nombre", "name", "nombre_geo"}
	typeAttrs = []string{"tipo", "type", "clase"}
)

// LoadHydroLayer reads a hydrography shapefile into a HydroLayer.
// Polyline shapes become one feature per part; polygon shapes mark the
// layer as polygon-typed and contribute their rings as lines.
func LoadHydroLayer(shpPath string) (*HydroLayer, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "legal: open hydro shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := fieldIndex(reader.Fields())
	layer := &HydroLayer{}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		name := attrValue(reader, fieldIdx, nameAttrs)
		subtype := classifySubtype(attrValue(reader, fieldIdx, typeAttrs))

		switch s := shape.(type) {
		case *shp.PolyLine:
			appendHydroLines(layer, name, subtype, s.Parts, s.Points)
		case *shp.Polygon:
			layer.PolygonTyped = true
			appendHydroLines(layer, name, subtype, s.Parts, s.Points)
		default:
			skipped++
		}
	}

	if skipped > 0 {
		zap.L().Warn("legal: skipped unsupported hydro shapes",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return layer, nil
}

// LoadAreaLayer reads a polygon shapefile into an AreaLayer of the given kind.
func LoadAreaLayer(shpPath string, kind RestrictionKind) (*AreaLayer, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "legal: open area shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := fieldIndex(reader.Fields())
	layer := &AreaLayer{Kind: kind}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		name := attrValue(reader, fieldIdx, nameAttrs)
		for _, ring := range splitParts(poly.Parts, poly.Points) {
			if len(ring) < 4 {
				skipped++
				continue
			}
			layer.Features = append(layer.Features, NewAreaFeature(name, ring))
		}
	}

	if skipped > 0 {
		zap.L().Warn("legal: skipped non-polygon area shapes",
			zap.String("path", shpPath),
			zap.String("kind", string(kind)),
			zap.Int("skipped", skipped),
		)
	}

	return layer, nil
}

// FetchLayerArchive downloads a zipped shapefile and returns the extracted
// .shp path. The archive is kept under destDir so repeated checks reuse it.
func FetchLayerArchive(ctx context.Context, f fetcher.Fetcher, url, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "legal: create layer dir")
	}

	zipPath := filepath.Join(destDir, filepath.Base(url))
	if _, err := f.DownloadToFile(ctx, url, zipPath); err != nil {
		return "", eris.Wrapf(err, "legal: download layer %s", url)
	}

	if _, err := fetcher.ExtractZIP(zipPath, destDir); err != nil {
		return "", err
	}

	return FindShapefile(destDir)
}

// FindShapefile walks dir for the first .shp file.
func FindShapefile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found == "" && !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".shp") {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrap(err, "legal: scan layer dir")
	}
	if found == "" {
		return "", eris.Errorf("legal: no shapefile under %s", dir)
	}
	return found, nil
}

func fieldIndex(fields []shp.Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		idx[strings.ToLower(name)] = i
	}
	return idx
}

func attrValue(reader *shp.Reader, fieldIdx map[string]int, candidates []string) string {
	for _, c := range candidates {
		if i, ok := fieldIdx[c]; ok {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				return val
			}
		}
	}
	return ""
}

func appendHydroLines(layer *HydroLayer, name string, subtype WaterSubtype, parts []int32, points []shp.Point) {
	for _, line := range splitParts(parts, points) {
		if len(line) < 2 {
			continue
		}
		layer.Features = append(layer.Features, HydroFeature{
			Name:    name,
			Subtype: subtype,
			Line:    line,
		})
	}
}

// splitParts cuts a shapefile point list into its per-part segments.
func splitParts(parts []int32, points []shp.Point) [][]model.Point {
	if len(points) == 0 {
		return nil
	}
	if len(parts) == 0 {
		parts = []int32{0}
	}

	var out [][]model.Point
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end {
			continue
		}
		seg := make([]model.Point, 0, end-int(start))
		for _, p := range points[start:end] {
			seg = append(seg, model.Point{Lng: p.X, Lat: p.Y})
		}
		out = append(out, seg)
	}
	return out
}

var attrFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// classifySubtype maps a layer's type attribute to a water subtype.
// Unrecognized values default to stream (the most conservative setback).
func classifySubtype(attr string) WaterSubtype {
	folded, _, err := transform.String(attrFolder, strings.ToLower(attr))
	if err != nil {
		folded = strings.ToLower(attr)
	}

	switch {
	case strings.Contains(folded, "rio"), strings.Contains(folded, "river"):
		return SubtypeRiver
	case strings.Contains(folded, "humedal"),
		strings.Contains(folded, "cienaga"),
		strings.Contains(folded, "wetland"),
		strings.Contains(folded, "laguna"):
		return SubtypeWetland
	default:
		return SubtypeStream
	}
}
