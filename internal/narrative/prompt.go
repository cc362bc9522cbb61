package narrative

import (
	"fmt"
	"strings"

	"github.com/agrovista/satreport/internal/model"
)

// visualDeltaThreshold flags a month-to-month index change worth calling
// out in the visual analysis.
const visualDeltaThreshold = 0.05

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

func monthLabel(year, month int) string {
	if month < 1 || month > 12 {
		return fmt.Sprintf("%04d-%02d", year, month)
	}
	return fmt.Sprintf("%s %d", monthNames[month-1], year)
}

// systemPrompt sets the role used for every narrative call of a report run.
func systemPrompt() string {
	return strings.TrimSpace(`
Eres un ingeniero agrónomo experto en teledetección y agricultura de precisión.
Analizas series mensuales de índices de vegetación (NDVI, NDMI, SAVI) derivadas
de imágenes satelitales Sentinel-2, junto con datos climáticos, para asesorar a
productores agrícolas. Escribes en español claro y profesional, con
recomendaciones accionables y sin tecnicismos innecesarios.`)
}

// buildAnalysisPrompt assembles the full-report prompt: parcel context,
// monthly data table, image metadata, visual change list and the five
// required section markers.
func buildAnalysisPrompt(parcel *model.Parcel, months []model.MonthlyIndex) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analiza el comportamiento del cultivo %s en la parcela %q (%.2f ha).\n\n",
		parcel.CropType, parcel.Name, parcel.AreaHa)

	b.WriteString(spatialContext(parcel))
	b.WriteString("\n## Datos mensuales\n\n")
	b.WriteString(monthlyTable(months))

	if meta := imageMetadata(months); meta != "" {
		b.WriteString("\n## Imágenes disponibles\n\n")
		b.WriteString(meta)
	}

	if deltas := visualDeltas(months); deltas != "" {
		b.WriteString("\n## Cambios significativos entre meses (|Δ| > 0.05)\n\n")
		b.WriteString(deltas)
	}

	b.WriteString(`
Estructura tu respuesta EXACTAMENTE con estas cinco secciones, cada una
precedida por su marcador literal:

### RESUMEN EJECUTIVO
### ANÁLISIS DE TENDENCIAS
### ANÁLISIS VISUAL DE IMÁGENES
### RECOMENDACIONES
### ALERTAS
`)

	return b.String()
}

// spatialContext gives the model the parcel position so it can phrase
// directional references (norte/sur/este/oeste) against the images.
func spatialContext(parcel *model.Parcel) string {
	return fmt.Sprintf(
		"Ubicación: centroide (%.5f, %.5f); extensión de (%.5f, %.5f) a (%.5f, %.5f). "+
			"El norte corresponde a la parte superior de las imágenes.\n",
		parcel.Centroid.Lat, parcel.Centroid.Lng,
		parcel.BBox.MinLat, parcel.BBox.MinLng,
		parcel.BBox.MaxLat, parcel.BBox.MaxLng,
	)
}

func monthlyTable(months []model.MonthlyIndex) string {
	var b strings.Builder
	b.WriteString("| Mes | NDVI | NDMI | SAVI | Nubosidad % | Temp °C | Lluvia mm | Calidad |\n")
	b.WriteString("|-----|------|------|------|-------------|---------|-----------|---------|\n")
	for _, m := range months {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			monthLabel(m.Year, m.Month),
			fmtAgg(m.NDVI), fmtAgg(m.NDMI), fmtAgg(m.SAVI),
			fmtPtr(m.CloudPctMean, "%.0f"),
			fmtPtr(m.TempMeanC, "%.1f"),
			fmtPtr(m.PrecipMM, "%.0f"),
			string(m.Quality),
		)
	}
	return b.String()
}

func imageMetadata(months []model.MonthlyIndex) string {
	var b strings.Builder
	for _, m := range months {
		if m.BestSceneViewID == "" {
			continue
		}
		date := ""
		if m.BestSceneDate != nil {
			date = m.BestSceneDate.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "- %s: escena %s, captura %s, Sentinel-2 (10 m/px), nubosidad %s%%\n",
			monthLabel(m.Year, m.Month), m.BestSceneViewID, date,
			fmtPtr(m.BestSceneCloudPct, "%.0f"))
	}
	return b.String()
}

// visualDeltas lists consecutive-month index changes above the threshold.
func visualDeltas(months []model.MonthlyIndex) string {
	var b strings.Builder
	indices := []model.IndexName{model.IndexNDVI, model.IndexNDMI, model.IndexSAVI}

	for i := 1; i < len(months); i++ {
		prev, cur := months[i-1], months[i]
		for _, idx := range indices {
			pa, ca := prev.Aggregate(idx), cur.Aggregate(idx)
			if !pa.Present() || !ca.Present() {
				continue
			}
			delta := *ca.Mean - *pa.Mean
			if delta > visualDeltaThreshold || delta < -visualDeltaThreshold {
				fmt.Fprintf(&b, "- %s: %s pasó de %.3f a %.3f (Δ %+.3f)\n",
					monthLabel(cur.Year, cur.Month), idx, *pa.Mean, *ca.Mean, delta)
			}
		}
	}
	return b.String()
}

// buildPerImagePrompt asks for a short HTML snippet about one index image.
func buildPerImagePrompt(index model.IndexName, meanValue float64, context string, previous *model.MonthlyIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"Analiza esta imagen del índice %s (valor medio %.3f). Contexto: %s.\n",
		index, meanValue, context)

	if previous != nil {
		if agg := previous.Aggregate(index); agg.Present() {
			fmt.Fprintf(&b, "El mes anterior (%s) el valor medio fue %.3f.\n",
				monthLabel(previous.Year, previous.Month), *agg.Mean)
		}
	}

	b.WriteString(`
Describe en 2-3 frases qué zonas de la parcela muestran mejor y peor condición,
usando referencias direccionales (norte, sur, este, oeste). Responde únicamente
con un fragmento HTML usando <p> y, si hace falta, <strong>.`)
	return b.String()
}

// buildGlobalImagesPrompt asks for one HTML block comparing all images.
func buildGlobalImagesPrompt(images []ImageData, parcel *model.Parcel) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"Estas son las imágenes de índices de la parcela %q (%s, %.2f ha), en orden cronológico:\n",
		parcel.Name, parcel.CropType, parcel.AreaHa)
	for _, img := range images {
		fmt.Fprintf(&b, "- %s (%s, media %.3f)\n", img.Label, img.Index, img.Mean)
	}
	b.WriteString(`
Compara la evolución espacial del cultivo a lo largo de la serie: zonas que
mejoran, zonas que se degradan y patrones persistentes. Responde únicamente con
un bloque HTML (<h4>, <p>, <ul>).`)
	return b.String()
}

func fmtAgg(a model.IndexAggregate) string {
	if !a.Present() {
		return "-"
	}
	return fmt.Sprintf("%.3f", *a.Mean)
}

func fmtPtr(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
