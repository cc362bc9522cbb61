package report

import (
	"fmt"
	"strings"

	"github.com/agrovista/satreport/internal/analysis"
	"github.com/agrovista/satreport/internal/model"
)

// fallbackNarrative derives deterministic section text from the analyzer
// results. It is used whenever the narrative engine is disabled or failed,
// so a report can always be rendered.
func fallbackNarrative(parcel *model.Parcel, results map[model.IndexName]analysis.Result, cause string) model.NarrativeSections {
	ndvi, hasNDVI := results[model.IndexNDVI]

	var summary strings.Builder
	fmt.Fprintf(&summary, "Resumen generado automáticamente para la parcela %q (%s, %.2f ha). ",
		parcel.Name, parcel.CropType, parcel.AreaHa)
	if hasNDVI {
		fmt.Fprintf(&summary, "El NDVI promedio del período fue %.3f, estado %s (puntaje %.1f/10). %s",
			ndvi.Statistics.Mean, ndvi.State.Label, ndvi.Score, ndvi.InterpretationSimple)
	} else {
		summary.WriteString("No se obtuvieron datos de NDVI en el período analizado.")
	}

	var trends strings.Builder
	for _, idx := range []model.IndexName{model.IndexNDVI, model.IndexNDMI, model.IndexSAVI} {
		r, ok := results[idx]
		if !ok {
			continue
		}
		fmt.Fprintf(&trends, "%s: %s (pendiente %+.3f, cambio %+.1f%%).\n",
			idx, r.Trend.Description, r.Trend.Slope, r.Trend.PctChange)
	}

	var recs strings.Builder
	for _, idx := range []model.IndexName{model.IndexNDVI, model.IndexNDMI, model.IndexSAVI} {
		r, ok := results[idx]
		if !ok {
			continue
		}
		for _, a := range r.Alerts {
			if a.Action != "" {
				fmt.Fprintf(&recs, "- %s\n", a.Action)
			}
		}
	}
	if recs.Len() == 0 {
		recs.WriteString("Mantener el plan de manejo actual y continuar el monitoreo mensual.")
	}

	var alerts strings.Builder
	for _, idx := range []model.IndexName{model.IndexNDVI, model.IndexNDMI, model.IndexSAVI} {
		r, ok := results[idx]
		if !ok {
			continue
		}
		for _, a := range r.Alerts {
			fmt.Fprintf(&alerts, "- [%s] %s: %s\n", strings.ToUpper(a.Kind), a.Title, a.Message)
		}
	}
	if alerts.Len() == 0 {
		alerts.WriteString("Sin alertas en el período analizado.")
	}

	return model.NarrativeSections{
		ExecutiveSummary: strings.TrimSpace(summary.String()),
		TrendAnalysis:    strings.TrimSpace(trends.String()),
		VisualAnalysis:   "Análisis visual no disponible; se omiten las imágenes satelitales.",
		Recommendations:  strings.TrimSpace(recs.String()),
		Alerts:           strings.TrimSpace(alerts.String()),
		Error:            cause,
	}
}
