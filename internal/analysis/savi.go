package analysis

import "fmt"

// SAVI vegetation-density thresholds, soil-adjusted.
const (
	saviLow      = 0.3
	saviModerate = 0.5
	saviGood     = 0.65
)

// SAVIAnalyzer classifies vegetation density in areas with exposed soil.
type SAVIAnalyzer struct{}

func (SAVIAnalyzer) Analyze(series []Sample) Result {
	if len(series) == 0 {
		return noDataResult("SAVI")
	}

	vals := values(series)
	stats := computeStatistics(vals)
	trend := computeTrend(vals)
	state := saviState(stats.Mean)

	res := Result{
		Index:      "SAVI",
		Statistics: stats,
		Trend:      trend,
		State:      state,
		Score:      trendAdjust(saviBaseScore(state.Level), trend.Direction),
	}
	res.InterpretationTechnical = fmt.Sprintf(
		"SAVI medio %.3f (rango %.3f a %.3f). %s. %s",
		stats.Mean, stats.Min, stats.Max, state.Label, trend.Description)
	res.InterpretationSimple = saviSimple(state.Level)
	res.Alerts = saviAlerts(state, trend)
	return res
}

func saviState(mean float64) State {
	switch {
	case mean < saviLow:
		return State{Level: "bajo", Label: "Cobertura vegetal baja", Color: "#d32f2f", Icon: "🔴"}
	case mean < saviModerate:
		return State{Level: "moderado", Label: "Cobertura vegetal moderada", Color: "#f57c00", Icon: "🟠"}
	case mean < saviGood:
		return State{Level: "bueno", Label: "Cobertura vegetal buena", Color: "#689f38", Icon: "🟢"}
	default:
		return State{Level: "excelente", Label: "Cobertura vegetal excelente", Color: "#2e7d32", Icon: "🌿"}
	}
}

func saviBaseScore(level string) float64 {
	switch level {
	case "bajo":
		return 3
	case "moderado":
		return 5
	case "bueno":
		return 7.5
	default:
		return 9.5
	}
}

func saviSimple(level string) string {
	switch level {
	case "bajo":
		return "Hay poca vegetación cubriendo el suelo. Revise si hay zonas despobladas."
	case "moderado":
		return "La vegetación cubre parte del terreno pero puede mejorar."
	case "bueno":
		return "La vegetación cubre bien el terreno."
	default:
		return "La vegetación está en su mejor punto de cobertura."
	}
}

func saviAlerts(state State, trend Trend) []Alert {
	var alerts []Alert

	switch state.Level {
	case "bajo":
		alerts = append(alerts, Alert{
			Kind:     AlertCritical,
			Priority: 1,
			Title:    "Cobertura vegetal insuficiente",
			Message:  "El SAVI medio indica suelo mayormente expuesto.",
			Action:   "Inspeccionar en campo: posible replante o control de erosión.",
		})
	case "moderado":
		alerts = append(alerts, Alert{
			Kind:     AlertWarning,
			Priority: 2,
			Title:    "Cobertura vegetal por debajo del objetivo",
			Message:  "La densidad de vegetación aún no alcanza el rango bueno.",
			Action:   "Evaluar fertilización y manejo de malezas.",
		})
	}

	if falling(trend.Direction) {
		alerts = append(alerts, Alert{
			Kind:     AlertWarning,
			Priority: 2,
			Title:    "Cobertura vegetal en descenso",
			Message:  trend.Description,
			Action:   "Verificar plagas, enfermedades o daño mecánico reciente.",
		})
	}
	return alerts
}
