package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/analysis"
	"github.com/agrovista/satreport/internal/legal"
	"github.com/agrovista/satreport/internal/model"
)

// document carries everything the PDF renderer needs. Section order is
// fixed: cover, parcel summary, configuration snapshot, narrative,
// per-index blocks, comparison, legal, recommendations, appendix.
type document struct {
	parcel     *model.Parcel
	cfg        Config
	months     []model.MonthlyIndex
	results    map[model.IndexName]analysis.Result
	narrative  model.NarrativeSections
	legal      *legal.Result
	charts     map[model.IndexName][]byte
	comparison []byte
	perImage   map[string]string
	start, end time.Time
	generated  time.Time
}

func (d *document) render(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	orient := "P"
	if d.cfg.Format.Orientation == OrientationLandscape {
		orient = "L"
	}
	pdf := fpdf.New(orient, "mm", d.cfg.Format.PageSize, "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 6, fmt.Sprintf("Pagina %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	d.cover(pdf, tr)
	d.parcelSummary(pdf, tr)
	d.configSnapshot(pdf, tr)
	if d.cfg.HasSection(SectionNarrative) {
		d.narrativeSection(pdf, tr)
	}
	d.indexSections(pdf, tr)
	if d.comparison != nil {
		d.comparisonSection(pdf, tr)
	}
	if d.legal != nil {
		d.legalSection(pdf, tr)
	}
	if d.cfg.HasSection(SectionRecommendations) {
		d.recommendationsSection(pdf, tr)
	}
	if d.cfg.HasSection(SectionAppendix) {
		d.appendixSection(pdf, tr)
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return eris.Wrapf(err, "report: write pdf %s", path)
	}
	return nil
}

func (d *document) cover(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.AddPage()
	pdf.SetY(60)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(30, 70, 32)
	pdf.MultiCell(0, 12, tr("Informe Satelital Agronómico"), "", "C", false)
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, 10, tr(d.parcel.Name), "", "C", false)
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 7, tr(fmt.Sprintf("Período analizado: %s a %s",
		d.start.Format("2006-01"), d.end.Format("2006-01"))), "", "C", false)
	pdf.MultiCell(0, 7, tr(fmt.Sprintf("Cultivo: %s", d.parcel.CropType)), "", "C", false)
	if d.parcel.OwnerLabel != "" {
		pdf.MultiCell(0, 7, tr(fmt.Sprintf("Propietario: %s", d.parcel.OwnerLabel)), "", "C", false)
	}
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(110, 110, 110)
	pdf.MultiCell(0, 6, tr(fmt.Sprintf("Generado el %s", d.generated.Format("2006-01-02 15:04 MST"))), "", "C", false)
}

func (d *document) heading(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 15)
	pdf.SetTextColor(30, 70, 32)
	pdf.MultiCell(0, 9, tr(title), "", "L", false)
	pdf.SetDrawColor(30, 70, 32)
	pdf.Line(pdf.GetX(), pdf.GetY(), pdf.GetX()+60, pdf.GetY())
	pdf.Ln(5)
	pdf.SetTextColor(0, 0, 0)
}

func (d *document) subheading(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.Ln(3)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(50, 50, 50)
	pdf.MultiCell(0, 7, tr(title), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(1)
}

func (d *document) body(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5.5, tr(strings.TrimSpace(text)), "", "L", false)
	pdf.Ln(2)
}

func (d *document) kv(pdf *fpdf.Fpdf, tr func(string) string, key, value string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(55, 6.5, tr(key), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 6.5, tr(value), "", "L", false)
}

func (d *document) parcelSummary(pdf *fpdf.Fpdf, tr func(string) string) {
	d.heading(pdf, tr, "Resumen de la parcela")
	p := d.parcel
	d.kv(pdf, tr, "Nombre", p.Name)
	d.kv(pdf, tr, "Cultivo", p.CropType)
	if p.OwnerLabel != "" {
		d.kv(pdf, tr, "Propietario", p.OwnerLabel)
	}
	d.kv(pdf, tr, "Área", fmt.Sprintf("%.2f ha", p.AreaHa))
	d.kv(pdf, tr, "Perímetro", fmt.Sprintf("%.0f m", p.PerimeterM))
	d.kv(pdf, tr, "Centroide", fmt.Sprintf("%.5f, %.5f", p.Centroid.Lat, p.Centroid.Lng))
	if p.ExternalFieldID != "" {
		d.kv(pdf, tr, "Campo proveedor", p.ExternalFieldID)
	}
	d.kv(pdf, tr, "Meses con datos", fmt.Sprintf("%d", len(d.months)))
}

func (d *document) configSnapshot(pdf *fpdf.Fpdf, tr func(string) string) {
	d.heading(pdf, tr, "Configuración del informe")
	if d.cfg.Template != "" {
		d.kv(pdf, tr, "Plantilla", d.cfg.Template)
	}
	d.kv(pdf, tr, "Nivel de detalle", d.cfg.DetailLevel)
	names := make([]string, len(d.cfg.Indices))
	for i, idx := range d.cfg.Indices {
		names[i] = string(idx)
	}
	d.kv(pdf, tr, "Índices", strings.Join(names, ", "))
	d.kv(pdf, tr, "Secciones", strings.Join(d.cfg.Sections, ", "))
	d.kv(pdf, tr, "Orientación", d.cfg.Format.Orientation)
}

func (d *document) narrativeSection(pdf *fpdf.Fpdf, tr func(string) string) {
	n := d.narrative
	d.heading(pdf, tr, "Resumen ejecutivo")
	if n.Error != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.SetTextColor(150, 90, 0)
		pdf.MultiCell(0, 5.5, tr("Nota: el análisis narrativo automático no estuvo disponible; este texto fue derivado directamente de los indicadores."), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(2)
	}
	d.body(pdf, tr, n.ExecutiveSummary)
	if n.TrendAnalysis != "" {
		d.subheading(pdf, tr, "Análisis de tendencias")
		d.body(pdf, tr, n.TrendAnalysis)
	}
	if n.VisualAnalysis != "" && d.cfg.HasSection(SectionImages) {
		d.subheading(pdf, tr, "Análisis visual de imágenes")
		d.body(pdf, tr, n.VisualAnalysis)
	}
	if n.Alerts != "" {
		d.subheading(pdf, tr, "Alertas")
		d.body(pdf, tr, n.Alerts)
	}
}

func (d *document) indexSections(pdf *fpdf.Fpdf, tr func(string) string) {
	for _, idx := range d.cfg.Indices {
		r, hasResult := d.results[idx]
		d.heading(pdf, tr, fmt.Sprintf("Índice %s", idx))
		if !hasResult {
			d.body(pdf, tr, "Sin datos de este índice en el período analizado.")
			continue
		}

		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 7, tr(fmt.Sprintf("Estado: %s  |  Puntaje: %.1f / 10", r.State.Label, r.Score)), "", "L", false)
		pdf.Ln(1)

		if png, ok := d.charts[idx]; ok {
			d.placeImage(pdf, fmt.Sprintf("chart-%s", idx), png)
		}

		d.body(pdf, tr, fmt.Sprintf("Promedio %.3f (mín %.3f, máx %.3f, desv %.3f). Tendencia: %s.",
			r.Statistics.Mean, r.Statistics.Min, r.Statistics.Max, r.Statistics.Stdev, r.Trend.Description))
		d.body(pdf, tr, r.InterpretationSimple)
		if d.cfg.DetailLevel == DetailComplete {
			d.body(pdf, tr, r.InterpretationTechnical)
		}

		if idx == model.IndexNDVI {
			d.monthlyImages(pdf, tr)
		}
	}
}

// monthlyImages embeds the NDVI scene visualizations, with the per-image
// commentary when the complete detail level generated one.
func (d *document) monthlyImages(pdf *fpdf.Fpdf, tr func(string) string) {
	if !d.cfg.HasSection(SectionImages) {
		return
	}
	for _, m := range d.months {
		path, ok := m.ImagePaths[model.IndexNDVI]
		if !ok || path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		label := fmt.Sprintf("%04d-%02d", m.Year, m.Month)
		d.subheading(pdf, tr, label)
		d.placeImage(pdf, "scene-"+label, data)
		if html, ok := d.perImage[label]; ok {
			d.body(pdf, tr, stripHTML(html))
		}
	}
}

func (d *document) comparisonSection(pdf *fpdf.Fpdf, tr func(string) string) {
	d.heading(pdf, tr, "Comparación de índices")
	d.placeImage(pdf, "comparison", d.comparison)
	d.body(pdf, tr, "Evolución conjunta de los índices seleccionados sobre el período analizado.")
}

func (d *document) legalSection(pdf *fpdf.Fpdf, tr func(string) string) {
	lr := d.legal
	d.heading(pdf, tr, "Restricciones legales")

	verdict := "La parcela CUMPLE con las restricciones evaluadas."
	if !lr.Complies {
		verdict = "La parcela NO CUMPLE: existen áreas afectadas por restricciones."
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.MultiCell(0, 7, tr(verdict), "", "L", false)
	pdf.Ln(2)

	d.kv(pdf, tr, "Área total", fmt.Sprintf("%.2f ha", lr.TotalAreaHa))
	d.kv(pdf, tr, "Área restringida", fmt.Sprintf("%.2f ha", lr.RestrictedAreaHa))
	d.kv(pdf, tr, "Área cultivable", fmt.Sprintf("%.2f ha", lr.CultivableAreaHa))
	pdf.Ln(3)

	if len(lr.Restrictions) > 0 {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(40, 7, tr("Tipo"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 7, tr("Nombre"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 7, tr("Retiro (m)"), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, tr("Área (ha)"), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 7, tr("Severidad"), "1", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, r := range lr.Restrictions {
			kind := string(r.Kind)
			if r.Subtype != "" {
				kind = fmt.Sprintf("%s (%s)", r.Kind, r.Subtype)
			}
			pdf.CellFormat(40, 7, tr(kind), "1", 0, "L", false, 0, "")
			pdf.CellFormat(55, 7, tr(r.Name), "1", 0, "L", false, 0, "")
			setback := "-"
			if r.MinSetbackM > 0 {
				setback = fmt.Sprintf("%.0f", r.MinSetbackM)
			}
			pdf.CellFormat(25, 7, setback, "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 7, fmt.Sprintf("%.2f", r.AffectedAreaHa), "1", 0, "R", false, 0, "")
			pdf.CellFormat(25, 7, tr(string(r.Severity)), "1", 1, "C", false, 0, "")
		}
		pdf.Ln(2)
		for _, r := range lr.Restrictions {
			if r.Note != "" {
				d.body(pdf, tr, fmt.Sprintf("Nota (%s): %s", r.Name, r.Note))
			}
		}
	}
}

func (d *document) recommendationsSection(pdf *fpdf.Fpdf, tr func(string) string) {
	d.heading(pdf, tr, "Recomendaciones")
	recs := d.narrative.Recommendations
	if strings.TrimSpace(recs) == "" {
		recs = fallbackNarrative(d.parcel, d.results, "").Recommendations
	}
	d.body(pdf, tr, recs)
}

func (d *document) appendixSection(pdf *fpdf.Fpdf, tr func(string) string) {
	d.heading(pdf, tr, "Apéndice")

	d.subheading(pdf, tr, "Metodología")
	d.body(pdf, tr, "Los índices de vegetación (NDVI, NDMI, SAVI) se calculan a partir de "+
		"imágenes Sentinel-2 con resolución de 10 m/px, agregadas por mes calendario sobre la "+
		"geometría de la parcela. Para cada mes se reporta la media de las escenas válidas y se "+
		"selecciona la escena con menor nubosidad como imagen representativa. Los datos "+
		"climáticos provienen del histórico meteorológico del proveedor.")

	d.subheading(pdf, tr, "Calidad de los datos")
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(30, 7, tr("Mes"), "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 7, tr("Calidad"), "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 7, tr("Fuente"), "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 7, tr("Nubosidad %"), "1", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, m := range d.months {
		cloud := "-"
		if m.CloudPctMean != nil {
			cloud = fmt.Sprintf("%.1f", *m.CloudPctMean)
		}
		pdf.CellFormat(30, 7, fmt.Sprintf("%04d-%02d", m.Year, m.Month), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, tr(string(m.Quality)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, tr(string(m.Source)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, cloud, "1", 1, "R", false, 0, "")
	}
}

// placeImage registers a PNG blob under a unique name and draws it at the
// cursor, scaled to the content width.
func (d *document) placeImage(pdf *fpdf.Fpdf, name string, png []byte) {
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	w := pageW - left - right
	pdf.ImageOptions(name, left, pdf.GetY(), w, 0, true, opts, 0, "")
	pdf.Ln(3)
}

// stripHTML flattens the per-image commentary HTML to plain text.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
