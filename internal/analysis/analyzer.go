// Package analysis turns monthly index series into statistics, trends,
// agronomic state classification and alerts.
package analysis

import (
	"fmt"
	"math"
	"sort"
)

// TrendDirection classifies the slope of a series.
type TrendDirection string

const (
	TrendRisingStrong  TrendDirection = "rising_strong"
	TrendRising        TrendDirection = "rising"
	TrendFlat          TrendDirection = "flat"
	TrendFalling       TrendDirection = "falling"
	TrendFallingStrong TrendDirection = "falling_strong"
)

// Alert kinds, ordered by severity.
const (
	AlertCritical = "critical"
	AlertWarning  = "warning"
	AlertInfo     = "info"
)

// Sample is one period of a monthly series.
type Sample struct {
	Period string  `json:"period"` // "2025-10"
	Value  float64 `json:"value"`
}

// Statistics summarizes the series values.
type Statistics struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Stdev  float64 `json:"stdev"`
}

// Trend is the direction and magnitude of change across the series.
type Trend struct {
	Direction   TrendDirection `json:"direction"`
	Slope       float64        `json:"slope"`
	PctChange   float64        `json:"pct_change"`
	Description string         `json:"description"`
}

// State is the classified agronomic condition. Level is a stable Spanish
// identifier; Label, Color and Icon are presentation.
type State struct {
	Level string `json:"level"`
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// Alert is one actionable finding. Lower Priority means more urgent.
type Alert struct {
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Action   string `json:"action"`
}

// Result is the uniform analyzer output.
type Result struct {
	Index                   string     `json:"index"`
	Statistics              Statistics `json:"statistics"`
	Trend                   Trend      `json:"trend"`
	State                   State      `json:"state"`
	InterpretationTechnical string     `json:"interpretation_technical"`
	InterpretationSimple    string     `json:"interpretation_simple"`
	Alerts                  []Alert    `json:"alerts"`
	Score                   float64    `json:"score"`
}

// Analyzer is the uniform operation all three index analyzers expose.
type Analyzer interface {
	Analyze(series []Sample) Result
}

const noDataLevel = "sin_datos"

var noDataState = State{
	Level: noDataLevel,
	Label: "Sin datos",
	Color: "#9e9e9e",
	Icon:  "⚪",
}

func noDataResult(index string) Result {
	return Result{
		Index:                   index,
		Trend:                   Trend{Direction: TrendFlat, Description: "insufficient_data"},
		State:                   noDataState,
		InterpretationTechnical: "No hay datos de " + index + " disponibles para el período analizado.",
		InterpretationSimple:    "No se pudieron obtener datos satelitales para este período.",
		Score:                   0,
	}
}

func computeStatistics(values []float64) Statistics {
	n := float64(len(values))
	var sum float64
	lo, hi := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	stdev := 0.0
	if len(values) > 1 {
		stdev = math.Sqrt(sq / (n - 1))
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return Statistics{Mean: mean, Median: median, Min: lo, Max: hi, Stdev: stdev}
}

// computeTrend uses the mean of consecutive differences as slope. Fewer
// than 3 samples cannot support a direction claim.
func computeTrend(values []float64) Trend {
	if len(values) < 3 {
		return Trend{Direction: TrendFlat, Description: "insufficient_data"}
	}

	var diffSum float64
	for i := 1; i < len(values); i++ {
		diffSum += values[i] - values[i-1]
	}
	slope := diffSum / float64(len(values)-1)

	first, last := values[0], values[len(values)-1]
	pct := 0.0
	if first != 0 {
		pct = (last - first) / math.Abs(first) * 100
	}

	return Trend{
		Direction:   classifySlope(slope),
		Slope:       slope,
		PctChange:   pct,
		Description: trendDescription(classifySlope(slope), pct),
	}
}

func classifySlope(slope float64) TrendDirection {
	switch {
	case slope >= 0.05:
		return TrendRisingStrong
	case slope <= -0.05:
		return TrendFallingStrong
	case math.Abs(slope) < 0.02:
		return TrendFlat
	case slope > 0:
		return TrendRising
	default:
		return TrendFalling
	}
}

func trendDescription(dir TrendDirection, pct float64) string {
	switch dir {
	case TrendRisingStrong:
		return fmt.Sprintf("Mejora fuerte y sostenida (%.1f%%)", pct)
	case TrendRising:
		return fmt.Sprintf("Tendencia al alza (%.1f%%)", pct)
	case TrendFallingStrong:
		return fmt.Sprintf("Deterioro acelerado (%.1f%%)", pct)
	case TrendFalling:
		return fmt.Sprintf("Tendencia a la baja (%.1f%%)", pct)
	default:
		return "Estable durante el período"
	}
}

func falling(dir TrendDirection) bool {
	return dir == TrendFalling || dir == TrendFallingStrong
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

// trendAdjust nudges a base score by trend direction.
func trendAdjust(base float64, dir TrendDirection) float64 {
	switch dir {
	case TrendRisingStrong:
		return clampScore(base + 1)
	case TrendRising:
		return clampScore(base + 0.5)
	case TrendFallingStrong:
		return clampScore(base - 1)
	case TrendFalling:
		return clampScore(base - 0.5)
	default:
		return base
	}
}

func values(series []Sample) []float64 {
	out := make([]float64, 0, len(series))
	for _, s := range series {
		out = append(out, s.Value)
	}
	return out
}
