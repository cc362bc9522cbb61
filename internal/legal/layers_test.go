package legal

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/satreport/internal/fetcher"
)

func TestClassifySubtype(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attr string
		want WaterSubtype
	}{
		{"Río", SubtypeRiver},
		{"rio permanente", SubtypeRiver},
		{"River", SubtypeRiver},
		{"Humedal", SubtypeWetland},
		{"Ciénaga", SubtypeWetland},
		{"Laguna", SubtypeWetland},
		{"Quebrada", SubtypeStream},
		{"Drenaje sencillo", SubtypeStream},
		{"", SubtypeStream},
		{"desconocido", SubtypeStream},
	}

	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, classifySubtype(tt.attr))
		})
	}
}

func TestSetbackM(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 30.0, SubtypeStream.SetbackM(), 0.001)
	assert.InDelta(t, 50.0, SubtypeRiver.SetbackM(), 0.001)
	assert.InDelta(t, 100.0, SubtypeWetland.SetbackM(), 0.001)
}

func TestSplitParts(t *testing.T) {
	t.Parallel()

	points := []shp.Point{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0},
		{X: 5, Y: 5}, {X: 6, Y: 5},
	}

	segs := splitParts([]int32{0, 3}, points)
	require.Len(t, segs, 2)
	assert.Len(t, segs[0], 3)
	assert.Len(t, segs[1], 2)
	assert.InDelta(t, 5.0, segs[1][0].Lng, 0.001)
	assert.InDelta(t, 5.0, segs[1][0].Lat, 0.001)

	// Missing parts index means a single segment.
	segs = splitParts(nil, points)
	require.Len(t, segs, 1)
	assert.Len(t, segs[0], 5)

	assert.Empty(t, splitParts([]int32{0}, nil))
}

func TestAppendHydroLines_SkipsDegenerate(t *testing.T) {
	t.Parallel()

	layer := &HydroLayer{}
	points := []shp.Point{
		{X: -74.0, Y: 4.0}, {X: -74.0, Y: 4.1},
		{X: -73.9, Y: 4.0}, // single-point second part
	}
	appendHydroLines(layer, "Quebrada Honda", SubtypeStream, []int32{0, 2}, points)

	require.Len(t, layer.Features, 1)
	assert.Equal(t, "Quebrada Honda", layer.Features[0].Name)
	assert.Len(t, layer.Features[0].Line, 2)
}

func TestFindShapefile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "capa")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "drenajes.dbf"), []byte("dbf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "drenajes.SHP"), []byte("shp"), 0o644))

	path, err := FindShapefile(dir)
	require.NoError(t, err)
	assert.Contains(t, path, "drenajes.SHP")
}

func TestFindShapefile_Missing(t *testing.T) {
	t.Parallel()

	_, err := FindShapefile(t.TempDir())
	require.Error(t, err)
}

func TestFetchLayerArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"drenajes/drenajes.shp": "fake shapefile data",
		"drenajes/drenajes.dbf": "fake attributes",
	} {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		//nolint:errcheck
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: "test"})
	dir := t.TempDir()

	shpPath, err := FetchLayerArchive(context.Background(), f, srv.URL+"/drenajes.zip", dir)
	require.NoError(t, err)
	assert.Contains(t, shpPath, "drenajes.shp")

	data, err := os.ReadFile(shpPath)
	require.NoError(t, err)
	assert.Equal(t, "fake shapefile data", string(data))
}
