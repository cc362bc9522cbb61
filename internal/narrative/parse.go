package narrative

import (
	"strings"

	"github.com/agrovista/satreport/internal/model"
)

// Section markers the model is instructed to emit, in order.
const (
	markerSummary         = "### RESUMEN EJECUTIVO"
	markerTrends          = "### ANÁLISIS DE TENDENCIAS"
	markerVisual          = "### ANÁLISIS VISUAL DE IMÁGENES"
	markerRecommendations = "### RECOMENDACIONES"
	markerAlerts          = "### ALERTAS"
)

var allMarkers = []string{
	markerSummary, markerTrends, markerVisual, markerRecommendations, markerAlerts,
}

// parseSections splits a model response into the five labeled sections.
// When no marker is present the whole text lands in the executive summary.
func parseSections(text string) model.NarrativeSections {
	found := false
	for _, m := range allMarkers {
		if strings.Contains(text, m) {
			found = true
			break
		}
	}
	if !found {
		return model.NarrativeSections{ExecutiveSummary: strings.TrimSpace(text)}
	}

	return model.NarrativeSections{
		ExecutiveSummary: extractSection(text, markerSummary),
		TrendAnalysis:    extractSection(text, markerTrends),
		VisualAnalysis:   extractSection(text, markerVisual),
		Recommendations:  extractSection(text, markerRecommendations),
		Alerts:           extractSection(text, markerAlerts),
	}
}

// extractSection returns the text between marker and the next "###" heading.
func extractSection(text, marker string) string {
	start := strings.Index(text, marker)
	if start < 0 {
		return ""
	}
	body := text[start+len(marker):]
	if next := strings.Index(body, "###"); next >= 0 {
		body = body[:next]
	}
	return strings.TrimSpace(body)
}
