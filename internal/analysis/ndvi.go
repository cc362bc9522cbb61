package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

// NDVIAnalyzer classifies vegetation vigor. Thresholds are crop-dependent
// when an override exists for (crop, phase); otherwise generic.
type NDVIAnalyzer struct {
	Thresholds model.CropThresholds
}

// NewNDVI returns an analyzer with generic thresholds.
func NewNDVI() NDVIAnalyzer {
	return NDVIAnalyzer{Thresholds: model.GenericNDVIThresholds()}
}

// NDVIForCrop loads crop/phase threshold overrides through the store,
// falling back to the generic set when none exist.
func NDVIForCrop(ctx context.Context, st store.Store, crop, phase string) NDVIAnalyzer {
	th, err := st.GetCropThresholds(ctx, crop, phase)
	if err != nil {
		zap.L().Warn("analysis: crop threshold lookup failed, using generic",
			zap.String("crop", crop),
			zap.Error(err),
		)
	}
	if th == nil {
		return NewNDVI()
	}
	return NDVIAnalyzer{Thresholds: *th}
}

func (a NDVIAnalyzer) Analyze(series []Sample) Result {
	if len(series) == 0 {
		return noDataResult("NDVI")
	}

	vals := values(series)
	stats := computeStatistics(vals)
	trend := computeTrend(vals)
	state := a.state(stats.Mean)

	res := Result{
		Index:      "NDVI",
		Statistics: stats,
		Trend:      trend,
		State:      state,
		Score:      trendAdjust(ndviBaseScore(state.Level), trend.Direction),
	}
	res.InterpretationTechnical = fmt.Sprintf(
		"NDVI medio %.3f (rango %.3f a %.3f, umbrales crítico %.2f / moderado %.2f / óptimo %.2f). %s. %s",
		stats.Mean, stats.Min, stats.Max,
		a.Thresholds.Critical, a.Thresholds.Moderate, a.Thresholds.Optimal,
		state.Label, trend.Description)
	res.InterpretationSimple = ndviSimple(state.Level)
	res.Alerts = ndviAlerts(state, trend)
	return res
}

func (a NDVIAnalyzer) state(mean float64) State {
	switch {
	case mean <= a.Thresholds.Critical:
		return State{Level: "critico", Label: "Vigor vegetal crítico", Color: "#d32f2f", Icon: "🔴"}
	case mean <= a.Thresholds.Moderate:
		return State{Level: "moderado", Label: "Vigor vegetal moderado", Color: "#f57c00", Icon: "🟠"}
	case mean >= a.Thresholds.Optimal:
		return State{Level: "optimo", Label: "Vigor vegetal óptimo", Color: "#2e7d32", Icon: "🌿"}
	default:
		return State{Level: "bueno", Label: "Vigor vegetal bueno", Color: "#689f38", Icon: "🟢"}
	}
}

func ndviBaseScore(level string) float64 {
	switch level {
	case "critico":
		return 2
	case "moderado":
		return 5
	case "bueno":
		return 7.5
	default: // optimo
		return 9.5
	}
}

func ndviSimple(level string) string {
	switch level {
	case "critico":
		return "Las plantas muestran muy poco vigor. Se recomienda visita de campo urgente."
	case "moderado":
		return "Las plantas crecen pero con menos fuerza de la esperada."
	case "bueno":
		return "El cultivo se ve sano y con buen crecimiento."
	default:
		return "El cultivo está en un estado excelente de desarrollo."
	}
}

func ndviAlerts(state State, trend Trend) []Alert {
	var alerts []Alert

	switch state.Level {
	case "critico":
		alerts = append(alerts, Alert{
			Kind:     AlertCritical,
			Priority: 1,
			Title:    "Vigor vegetal crítico",
			Message:  "El NDVI medio está en el rango crítico para el cultivo.",
			Action:   "Programar inspección de campo inmediata y análisis de suelo.",
		})
	case "moderado":
		alerts = append(alerts, Alert{
			Kind:     AlertWarning,
			Priority: 2,
			Title:    "Vigor vegetal por debajo del esperado",
			Message:  "El NDVI medio está en el rango moderado.",
			Action:   "Revisar plan de fertilización y estado fitosanitario.",
		})
	}

	if falling(trend.Direction) {
		alerts = append(alerts, Alert{
			Kind:     AlertWarning,
			Priority: 2,
			Title:    "Vigor vegetal en descenso",
			Message:  trend.Description,
			Action:   "Comparar con meses anteriores e identificar el factor de deterioro.",
		})
	}
	return alerts
}
