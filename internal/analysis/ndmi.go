package analysis

import "fmt"

// NDMI moisture thresholds. Fixed; not crop-dependent.
const (
	ndmiSevere     = -0.2
	ndmiModerate   = 0.1
	ndmiNormal     = 0.2
	ndmiOptimal    = 0.35
	ndmiSaturation = 0.5
)

// NDMIAnalyzer classifies canopy water content.
type NDMIAnalyzer struct{}

func (NDMIAnalyzer) Analyze(series []Sample) Result {
	if len(series) == 0 {
		return noDataResult("NDMI")
	}

	vals := values(series)
	stats := computeStatistics(vals)
	trend := computeTrend(vals)
	state := ndmiState(stats.Mean)

	res := Result{
		Index:      "NDMI",
		Statistics: stats,
		Trend:      trend,
		State:      state,
		Score:      trendAdjust(ndmiBaseScore(state.Level), trend.Direction),
	}
	res.InterpretationTechnical = fmt.Sprintf(
		"NDMI medio %.3f (rango %.3f a %.3f). %s. %s",
		stats.Mean, stats.Min, stats.Max, state.Label, trend.Description)
	res.InterpretationSimple = ndmiSimple(state.Level)
	res.Alerts = ndmiAlerts(state, trend, stats.Mean)
	return res
}

func ndmiState(mean float64) State {
	switch {
	case mean < ndmiSevere:
		return State{Level: "critico", Label: "Estrés hídrico severo", Color: "#d32f2f", Icon: "🔴"}
	case mean < ndmiModerate:
		return State{Level: "alerta", Label: "Estrés hídrico moderado", Color: "#f57c00", Icon: "🟠"}
	case mean < ndmiNormal:
		return State{Level: "normal", Label: "Humedad normal", Color: "#fbc02d", Icon: "🟡"}
	case mean < ndmiOptimal:
		return State{Level: "optimo", Label: "Humedad óptima", Color: "#388e3c", Icon: "🟢"}
	default:
		return State{Level: "alto", Label: "Humedad alta", Color: "#1976d2", Icon: "🔵"}
	}
}

func ndmiBaseScore(level string) float64 {
	switch level {
	case "critico":
		return 2
	case "alerta":
		return 4
	case "normal":
		return 6
	case "optimo":
		return 9
	default: // alto
		return 7
	}
}

func ndmiSimple(level string) string {
	switch level {
	case "critico":
		return "El cultivo muestra falta de agua severa. Riegue lo antes posible."
	case "alerta":
		return "El cultivo empieza a mostrar falta de agua. Vigile el riego esta semana."
	case "normal":
		return "La humedad del cultivo es normal para la temporada."
	case "optimo":
		return "El cultivo tiene una humedad ideal."
	default:
		return "El cultivo retiene mucha agua. Revise el drenaje del terreno."
	}
}

func ndmiAlerts(state State, trend Trend, mean float64) []Alert {
	var alerts []Alert

	switch state.Level {
	case "critico":
		alerts = append(alerts, Alert{
			Kind:     AlertCritical,
			Priority: 1,
			Title:    "Estrés hídrico severo detectado",
			Message:  "El NDMI medio indica déficit de agua pronunciado en el cultivo.",
			Action:   "Programar riego de emergencia y verificar el sistema de irrigación.",
		})
	case "alerta":
		alerts = append(alerts, Alert{
			Kind:     AlertWarning,
			Priority: 2,
			Title:    "Estrés hídrico moderado",
			Message:  "La humedad del dosel está por debajo del rango normal.",
			Action:   "Aumentar la frecuencia de riego y monitorear la próxima quincena.",
		})
	}

	if falling(trend.Direction) {
		alerts = append(alerts, Alert{
			Kind:     AlertWarning,
			Priority: 2,
			Title:    "Humedad en descenso",
			Message:  trend.Description,
			Action:   "Revisar disponibilidad de agua antes del próximo período seco.",
		})
	}

	if mean >= ndmiSaturation {
		alerts = append(alerts, Alert{
			Kind:     AlertInfo,
			Priority: 3,
			Title:    "Posible saturación de humedad",
			Message:  "Valores de NDMI altos pueden indicar encharcamiento o saturación del suelo.",
			Action:   "Inspeccionar drenaje en las zonas bajas de la parcela.",
		})
	}
	return alerts
}
