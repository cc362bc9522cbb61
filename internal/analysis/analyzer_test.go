package analysis

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

func series(vals ...float64) []Sample {
	out := make([]Sample, 0, len(vals))
	for i, v := range vals {
		out = append(out, Sample{Period: "2025-" + string(rune('1'+i)), Value: v})
	}
	return out
}

func TestClassifySlope_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		slope float64
		want  TrendDirection
	}{
		{0.02, TrendRising},
		{0.05, TrendRisingStrong},
		{-0.05, TrendFallingStrong},
		{0.019, TrendFlat},
		{-0.019, TrendFlat},
		{-0.03, TrendFalling},
		{0.03, TrendRising},
		{0, TrendFlat},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifySlope(tt.slope), "slope %v", tt.slope)
	}
}

func TestComputeTrend_SlopeIsMeanOfConsecutiveDiffs(t *testing.T) {
	t.Parallel()

	tr := computeTrend([]float64{0.4, 0.5, 0.7})
	assert.InDelta(t, 0.15, tr.Slope, 1e-9)
	assert.Equal(t, TrendRisingStrong, tr.Direction)
	assert.InDelta(t, 75.0, tr.PctChange, 0.001)
}

func TestComputeTrend_InsufficientData(t *testing.T) {
	t.Parallel()

	tr := computeTrend([]float64{0.4, 0.9})
	assert.Equal(t, TrendFlat, tr.Direction)
	assert.Equal(t, "insufficient_data", tr.Description)
}

func TestComputeTrend_ZeroFirstValue(t *testing.T) {
	t.Parallel()

	tr := computeTrend([]float64{0, 0.1, 0.2})
	assert.Zero(t, tr.PctChange)
}

func TestNDMI_SevereStressScenario(t *testing.T) {
	t.Parallel()

	res := NDMIAnalyzer{}.Analyze(series(-0.25, -0.22, -0.28))

	assert.Equal(t, "critico", res.State.Level)
	// Slope is (0.03 + -0.06)/2 = -0.015: inside the flat band.
	assert.Equal(t, TrendFlat, res.Trend.Direction)
	assert.InDelta(t, -0.015, res.Trend.Slope, 1e-9)

	require.NotEmpty(t, res.Alerts)
	assert.Equal(t, AlertCritical, res.Alerts[0].Kind)
	assert.Contains(t, res.Alerts[0].Title, "hídrico")
	assert.LessOrEqual(t, res.Score, 3.0)
}

func TestNDMI_StateLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mean float64
		want string
	}{
		{-0.3, "critico"},
		{-0.1, "alerta"},
		{0.15, "normal"},
		{0.3, "optimo"},
		{0.45, "alto"},
	}
	for _, tt := range tests {
		res := NDMIAnalyzer{}.Analyze(series(tt.mean, tt.mean, tt.mean))
		assert.Equal(t, tt.want, res.State.Level, "mean %v", tt.mean)
	}
}

func TestNDMI_SaturationInfoAlert(t *testing.T) {
	t.Parallel()

	res := NDMIAnalyzer{}.Analyze(series(0.55, 0.56, 0.57))
	var hasInfo bool
	for _, a := range res.Alerts {
		if a.Kind == AlertInfo {
			hasInfo = true
			assert.Contains(t, a.Title, "saturación")
		}
	}
	assert.True(t, hasInfo)

	// Below the saturation line, no info alert.
	res = NDMIAnalyzer{}.Analyze(series(0.4, 0.41, 0.4))
	for _, a := range res.Alerts {
		assert.NotEqual(t, AlertInfo, a.Kind)
	}
}

func TestNDMI_FallingTrendAddsIndependentAlert(t *testing.T) {
	t.Parallel()

	// Healthy mean but falling hard: exactly one warning, about the trend.
	res := NDMIAnalyzer{}.Analyze(series(0.40, 0.30, 0.20))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, AlertWarning, res.Alerts[0].Kind)
	assert.Contains(t, res.Alerts[0].Title, "descenso")
}

func TestSAVI_StateLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mean float64
		want string
	}{
		{0.2, "bajo"},
		{0.4, "moderado"},
		{0.6, "bueno"},
		{0.7, "excelente"},
	}
	for _, tt := range tests {
		res := SAVIAnalyzer{}.Analyze(series(tt.mean, tt.mean, tt.mean))
		assert.Equal(t, tt.want, res.State.Level, "mean %v", tt.mean)
	}
}

func TestNDVI_GenericThresholds(t *testing.T) {
	t.Parallel()

	a := NewNDVI()
	tests := []struct {
		mean float64
		want string
	}{
		{0.25, "critico"},
		{0.30, "critico"},
		{0.40, "moderado"},
		{0.55, "bueno"},
		{0.75, "optimo"},
	}
	for _, tt := range tests {
		res := a.Analyze(series(tt.mean, tt.mean, tt.mean))
		assert.Equal(t, tt.want, res.State.Level, "mean %v", tt.mean)
	}
}

func TestNDVI_CropOverridesFromStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	require.NoError(t, st.PutCropThresholds(ctx, &model.CropThresholds{
		Crop: "cafe", Phase: "produccion", Critical: 0.45, Moderate: 0.60, Optimal: 0.80,
	}))

	coffee := NDVIForCrop(ctx, st, "cafe", "produccion")
	generic := NDVIForCrop(ctx, st, "cafe", "floracion")

	// 0.55 is healthy for a generic crop but moderate for producing coffee.
	res := coffee.Analyze(series(0.55, 0.55, 0.55))
	assert.Equal(t, "moderado", res.State.Level)

	res = generic.Analyze(series(0.55, 0.55, 0.55))
	assert.Equal(t, "bueno", res.State.Level)
}

func TestAnalyzers_EmptySeries(t *testing.T) {
	t.Parallel()

	for _, a := range []Analyzer{NewNDVI(), NDMIAnalyzer{}, SAVIAnalyzer{}} {
		res := a.Analyze(nil)
		assert.Equal(t, "sin_datos", res.State.Level)
		assert.Equal(t, TrendFlat, res.Trend.Direction)
		assert.Equal(t, "insufficient_data", res.Trend.Description)
		assert.Zero(t, res.Score)
		assert.Empty(t, res.Alerts)
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	st := computeStatistics([]float64{0.2, 0.4, 0.6, 0.8})
	assert.InDelta(t, 0.5, st.Mean, 1e-9)
	assert.InDelta(t, 0.5, st.Median, 1e-9)
	assert.InDelta(t, 0.2, st.Min, 1e-9)
	assert.InDelta(t, 0.8, st.Max, 1e-9)
	assert.InDelta(t, 0.2582, st.Stdev, 0.001)
}

func TestScore_Bounds(t *testing.T) {
	t.Parallel()

	// Optimal state with strong rise must still cap at 10.
	res := NDMIAnalyzer{}.Analyze(series(0.20, 0.28, 0.34))
	assert.LessOrEqual(t, res.Score, 10.0)
	assert.GreaterOrEqual(t, res.Score, 0.0)
}
