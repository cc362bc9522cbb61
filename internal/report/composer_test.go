package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/satreport/internal/legal"
	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

var composeNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

// mockNarrative is a test double for the narrative engine.
type mockNarrative struct {
	mock.Mock
}

func (m *mockNarrative) Generate(ctx context.Context, parcel *model.Parcel, months []model.MonthlyIndex, imagePaths []string) model.NarrativeSections {
	args := m.Called(ctx, parcel, months, imagePaths)
	return args.Get(0).(model.NarrativeSections)
}

func (m *mockNarrative) GeneratePerImage(ctx context.Context, imagePath string, index model.IndexName, meanValue float64, contextLabel string, previous *model.MonthlyIndex) (string, error) {
	args := m.Called(ctx, imagePath, index, meanValue, contextLabel, previous)
	return args.String(0), args.Error(1)
}

// mockLegal is a test double for the legal evaluator.
type mockLegal struct {
	mock.Mock
}

func (m *mockLegal) Evaluate(ctx context.Context, parcel *model.Parcel) (*legal.Result, error) {
	args := m.Called(ctx, parcel)
	if res := args.Get(0); res != nil {
		return res.(*legal.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func composeParcel() *model.Parcel {
	return &model.Parcel{
		ID:              "par-1",
		Name:            "Finca La Esperanza",
		OwnerLabel:      "Cooperativa Andina",
		CropType:        "Coffee",
		GeometryGeoJSON: `{"type":"Polygon","coordinates":[[[-74.0,4.0],[-73.99,4.0],[-73.99,4.01],[-74.0,4.01],[-74.0,4.0]]]}`,
		AreaHa:          123.3,
		PerimeterM:      4450,
		Centroid:        model.Point{Lng: -73.995, Lat: 4.005},
		BBox:            model.BBox{MinLng: -74.0, MinLat: 4.0, MaxLng: -73.99, MaxLat: 4.01},
		SyncState:       model.SyncStateSynced,
		ExternalFieldID: "field-77",
		MonitoringStart: composeNow.AddDate(0, -8, 0),
		CreatedAt:       composeNow.AddDate(0, -8, 0),
		UpdatedAt:       composeNow.AddDate(0, -1, 0),
	}
}

func seedMonths(t *testing.T, st store.Store) {
	t.Helper()
	means := []float64{0.40, 0.46, 0.51, 0.55, 0.60, 0.64}
	for i, mean := range means {
		mean := mean
		ndmi := 0.10 + 0.02*float64(i)
		row := &model.MonthlyIndex{
			ParcelID:     "par-1",
			Year:         2025,
			Month:        i + 1,
			NDVI:         model.IndexAggregate{Mean: &mean, Min: fptr(mean - 0.05), Max: fptr(mean + 0.05)},
			NDMI:         model.IndexAggregate{Mean: &ndmi},
			CloudPctMean: fptr(20),
			TempMeanC:    fptr(19),
			PrecipMM:     fptr(120),
			Quality:      model.QualityGood,
			Source:       model.SourceSatellite,
			UpdatedAt:    composeNow.AddDate(0, 0, -10),
		}
		require.NoError(t, st.UpsertMonthly(context.Background(), row))
	}
}

func newTestComposer(t *testing.T, narrative NarrativeGenerator, legalEval LegalEvaluator) (*Composer, store.Store, string) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateParcel(context.Background(), composeParcel()))
	seedMonths(t, st)

	outDir := t.TempDir()
	c := NewComposer(Deps{
		Store:     st,
		Narrative: narrative,
		Legal:     legalEval,
		OutDir:    outDir,
		Now:       func() time.Time { return composeNow },
	})
	return c, st, outDir
}

func TestCompose_DefaultConfigProducesPDFAndRecord(t *testing.T) {
	t.Parallel()

	c, st, outDir := newTestComposer(t, nil, nil)

	rep, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "par-1"})
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.True(t, strings.HasPrefix(rep.PDFPath, filepath.Join(outDir, "2025", "06")))
	assert.True(t, strings.HasSuffix(rep.PDFPath, ".pdf"))
	assert.Contains(t, rep.PDFPath, "finca-la-esperanza_")

	data, err := os.ReadFile(rep.PDFPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	assert.Equal(t, DefaultMonthsBack, rep.PeriodMonths)
	require.Contains(t, rep.IndexPeriodMeans, model.IndexNDVI)
	assert.InDelta(t, 0.526, *rep.IndexPeriodMeans[model.IndexNDVI], 0.01)

	// Without a narrative engine the fallback fills the sections.
	assert.Contains(t, rep.Narrative.ExecutiveSummary, "Finca La Esperanza")
	assert.Empty(t, rep.Narrative.Error)

	// Zero price means courtesy.
	assert.Equal(t, model.PayStatusCourtesy, rep.StatusPay)

	stored, err := st.GetReport(context.Background(), rep.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.PDFPath, stored.PDFPath)
	assert.JSONEq(t, string(rep.ConfigSnapshot), string(stored.ConfigSnapshot))
}

func TestCompose_NarrativeFailureUsesDeterministicFallback(t *testing.T) {
	t.Parallel()

	gen := new(mockNarrative)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.NarrativeSections{Error: "llm unavailable"})

	c, _, _ := newTestComposer(t, gen, nil)

	rep, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "par-1"})
	require.NoError(t, err)

	assert.Equal(t, "llm unavailable", rep.Narrative.Error)
	assert.Contains(t, rep.Narrative.ExecutiveSummary, "NDVI promedio")
	assert.NotEmpty(t, rep.Narrative.Recommendations)

	_, statErr := os.Stat(rep.PDFPath)
	assert.NoError(t, statErr)
	gen.AssertExpectations(t)
}

func TestCompose_NarrativeSuccessIsKept(t *testing.T) {
	t.Parallel()

	sections := model.NarrativeSections{
		ExecutiveSummary: "Resumen escrito por el modelo.",
		TrendAnalysis:    "Tendencia al alza.",
		Recommendations:  "Aplicar riego dirigido.",
		Alerts:           "Sin alertas criticas.",
	}
	gen := new(mockNarrative)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sections)

	c, _, _ := newTestComposer(t, gen, nil)

	rep, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "par-1"})
	require.NoError(t, err)
	assert.Equal(t, sections, rep.Narrative)
}

func TestCompose_InvalidConfigRejected(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestComposer(t, nil, nil)

	cfg := DefaultConfig()
	cfg.DetailLevel = "verbose"
	_, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "par-1", Config: &cfg})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestCompose_NoMonthlyDataFails(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestComposer(t, nil, nil)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := c.Compose(context.Background(), ComposeRequest{
		ParcelID: "par-1", DateStart: &start, DateEnd: &end,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no monthly data")
}

func TestCompose_ExplicitDatesPrecedeMonthsBack(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestComposer(t, nil, nil)

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	rep, err := c.Compose(context.Background(), ComposeRequest{
		ParcelID:   "par-1",
		DateStart:  &start,
		DateEnd:    &end,
		MonthsBack: 12, // ignored when both dates are set
	})
	require.NoError(t, err)

	assert.Equal(t, 3, rep.PeriodMonths)
	assert.Equal(t, start, rep.DateStart)
	assert.Equal(t, end, rep.DateEnd)
	// Only months 2..4 contribute to the period mean.
	assert.InDelta(t, (0.46+0.51+0.55)/3, *rep.IndexPeriodMeans[model.IndexNDVI], 0.001)
}

func TestCompose_LegalSectionEvaluated(t *testing.T) {
	t.Parallel()

	legalRes := &legal.Result{
		TotalAreaHa:      123.3,
		RestrictedAreaHa: 11.2,
		CultivableAreaHa: 112.1,
		Complies:         false,
		Restrictions: []legal.Restriction{
			{
				Kind:           legal.KindWaterSetback,
				Subtype:        legal.SubtypeRiver,
				MinSetbackM:    50,
				Name:           "Rio Claro",
				AffectedAreaHa: 11.2,
				Severity:       legal.SeverityMedium,
			},
		},
	}
	le := new(mockLegal)
	le.On("Evaluate", mock.Anything, mock.MatchedBy(func(p *model.Parcel) bool {
		return p.ID == "par-1"
	})).Return(legalRes, nil)

	c, _, _ := newTestComposer(t, nil, le)

	cfg, err := TemplateConfig("complete_deep")
	require.NoError(t, err)
	rep, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "par-1", Config: &cfg})
	require.NoError(t, err)

	_, statErr := os.Stat(rep.PDFPath)
	assert.NoError(t, statErr)
	le.AssertExpectations(t)
}

func TestCompose_LegalFailureSkipsSection(t *testing.T) {
	t.Parallel()

	le := new(mockLegal)
	le.On("Evaluate", mock.Anything, mock.Anything).Return(nil, errors.New("layer download failed"))

	c, _, _ := newTestComposer(t, nil, le)

	cfg, err := TemplateConfig("complete_deep")
	require.NoError(t, err)
	rep, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "par-1", Config: &cfg})
	require.NoError(t, err)
	require.NotNil(t, rep)
}

func TestCompose_BillingFields(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestComposer(t, nil, nil)

	due := composeNow.AddDate(0, 1, 0)
	rep, err := c.Compose(context.Background(), ComposeRequest{
		ParcelID:    "par-1",
		PriceBase:   100,
		DiscountPct: 10,
		DueDate:     &due,
	})
	require.NoError(t, err)

	assert.Equal(t, model.PayStatusPending, rep.StatusPay)
	assert.InDelta(t, 90.0, rep.PriceFinal(), 0.001)
	assert.InDelta(t, 90.0, rep.Outstanding(), 0.001)
}

func TestCompose_UnknownParcel(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestComposer(t, nil, nil)

	_, err := c.Compose(context.Background(), ComposeRequest{ParcelID: "missing"})
	require.Error(t, err)
}

func TestMonthSpan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{"same month", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC), 1},
		{"three months", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), 3},
		{"across years", time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), 4},
		{"inverted floors at one", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, monthSpan(tt.start, tt.end))
		})
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Finca La Esperanza", "finca-la-esperanza"},
		{"Lote #3 (Norte)", "lote-3-norte"},
		{"   ", "parcela"},
		{"café", "caf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), tt.in)
	}
}
