package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

func fptr(v float64) *float64 { return &v }

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateParcel(context.Background(), &model.Parcel{
		ID:              "par-1",
		Name:            "Finca El Mirador",
		CropType:        "Avocado",
		GeometryGeoJSON: `{"type":"Polygon","coordinates":[[[-74.0,4.0],[-73.99,4.0],[-73.99,4.01],[-74.0,4.01],[-74.0,4.0]]]}`,
		AreaHa:          55,
		PerimeterM:      3200,
		Centroid:        model.Point{Lng: -73.995, Lat: 4.005},
		BBox:            model.BBox{MinLng: -74.0, MinLat: 4.0, MaxLng: -73.99, MaxLat: 4.01},
	}))
	return st
}

func TestExportMonthly(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()

	for i, mean := range []float64{0.45, 0.52} {
		mean := mean
		require.NoError(t, st.UpsertMonthly(ctx, &model.MonthlyIndex{
			ParcelID: "par-1", Year: 2025, Month: i + 3,
			NDVI:            model.IndexAggregate{Mean: &mean},
			CloudPctMean:    fptr(18),
			Quality:         model.QualityFair,
			Source:          model.SourceSatellite,
			BestSceneViewID: "S2-9",
			UpdatedAt:       time.Now().UTC(),
		}))
	}

	path := filepath.Join(t.TempDir(), "out", "monthly.xlsx")
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, New(st).ExportMonthly(ctx, "par-1", from, to, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]

	// Title row, header row, two data rows.
	require.Len(t, sheet.Rows, 4)
	assert.Contains(t, sheet.Rows[0].Cells[0].String(), "Finca El Mirador")
	assert.Equal(t, "NDVI medio", sheet.Rows[1].Cells[2].String())
	assert.Equal(t, "2025", sheet.Rows[2].Cells[0].String())

	ndvi, err := sheet.Rows[2].Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.45, ndvi, 0.001)

	// Missing NDMI stays blank.
	assert.Equal(t, "", sheet.Rows[2].Cells[5].String())
	assert.Equal(t, "satellite", sheet.Rows[2].Cells[13].String())
}

func TestExportMonthly_NoData(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "monthly.xlsx")
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := New(st).ExportMonthly(context.Background(), "par-1", from, from, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no monthly data")
}

func TestExportReports_BillingColumns(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	rep := &model.Report{
		ID:             "rep-1",
		ParcelID:       "par-1",
		Title:          "Informe semestral",
		PeriodMonths:   6,
		DateStart:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DateEnd:        time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		ConfigSnapshot: []byte(`{}`),
		PDFPath:        "reports/2025/06/finca.pdf",
		GeneratedAt:    time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC),
		PriceBase:      200,
		DiscountPct:    25,
		AmountPaid:     50,
		DueDate:        &due,
		StatusPay:      model.PayStatusPartial,
	}
	require.NoError(t, st.CreateReport(ctx, rep))

	path := filepath.Join(t.TempDir(), "reports.xlsx")
	require.NoError(t, New(st).ExportReports(ctx, store.ReportFilter{ParcelID: "par-1"}, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 2)

	row := sheet.Rows[1]
	assert.Equal(t, "rep-1", row.Cells[0].String())

	final, err := row.Cells[10].Float()
	require.NoError(t, err)
	assert.InDelta(t, 150.0, final, 0.001)

	outstanding, err := row.Cells[12].Float()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, outstanding, 0.001)

	assert.Equal(t, "2025-07-01", row.Cells[13].String())
	assert.Equal(t, "partial", row.Cells[14].String())
}

func TestExportReports_EmptyFilter(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "reports.xlsx")
	err := New(st).ExportReports(context.Background(), store.ReportFilter{ParcelID: "none"}, path)
	require.Error(t, err)
}
