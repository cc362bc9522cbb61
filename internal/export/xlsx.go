// Package export writes monthly index records and report billing summaries
// to XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/store"
)

// Exporter streams store records into workbooks.
type Exporter struct {
	store store.Store
}

// New wires an exporter over the store.
func New(st store.Store) *Exporter {
	return &Exporter{store: st}
}

var monthlyHeader = []string{
	"Año", "Mes",
	"NDVI medio", "NDVI mín", "NDVI máx",
	"NDMI medio", "SAVI medio",
	"Nubosidad %", "Temp media °C", "Temp mín °C", "Temp máx °C", "Lluvia mm",
	"Calidad", "Fuente", "Mejor escena", "Nubosidad escena %",
}

// ExportMonthly writes the parcel's monthly records in the window to an
// XLSX workbook at path.
func (e *Exporter) ExportMonthly(ctx context.Context, parcelID string, from, to time.Time, path string) error {
	parcel, err := e.store.GetParcel(ctx, parcelID)
	if err != nil {
		return eris.Wrap(err, "export: load parcel")
	}
	months, err := e.store.ListMonthly(ctx, parcelID, from, to)
	if err != nil {
		return eris.Wrap(err, "export: list monthly records")
	}
	if len(months) == 0 {
		return eris.Errorf("export: no monthly data for parcel %s", parcelID)
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Indices mensuales")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	title := sheet.AddRow()
	title.AddCell().SetString(fmt.Sprintf("%s (%s) %s a %s",
		parcel.Name, parcel.CropType, from.Format("2006-01"), to.Format("2006-01")))
	writeHeader(sheet, monthlyHeader)

	for _, m := range months {
		row := sheet.AddRow()
		row.AddCell().SetInt(m.Year)
		row.AddCell().SetInt(m.Month)
		addFloat(row, m.NDVI.Mean)
		addFloat(row, m.NDVI.Min)
		addFloat(row, m.NDVI.Max)
		addFloat(row, m.NDMI.Mean)
		addFloat(row, m.SAVI.Mean)
		addFloat(row, m.CloudPctMean)
		addFloat(row, m.TempMeanC)
		addFloat(row, m.TempMinC)
		addFloat(row, m.TempMaxC)
		addFloat(row, m.PrecipMM)
		row.AddCell().SetString(string(m.Quality))
		row.AddCell().SetString(string(m.Source))
		row.AddCell().SetString(m.BestSceneViewID)
		addFloat(row, m.BestSceneCloudPct)
	}

	if err := save(f, path); err != nil {
		return err
	}
	zap.L().Info("export: monthly workbook written",
		zap.String("parcel_id", parcelID),
		zap.String("path", path),
		zap.Int("rows", len(months)),
	)
	return nil
}

var reportsHeader = []string{
	"ID", "Parcela", "Título", "Meses", "Desde", "Hasta", "Generado", "PDF",
	"Precio base", "Descuento %", "Precio final", "Pagado", "Pendiente",
	"Vence", "Estado",
}

// ExportReports writes a billing summary of the matching reports to an
// XLSX workbook at path.
func (e *Exporter) ExportReports(ctx context.Context, filter store.ReportFilter, path string) error {
	reports, err := e.store.ListReports(ctx, filter)
	if err != nil {
		return eris.Wrap(err, "export: list reports")
	}
	if len(reports) == 0 {
		return eris.New("export: no reports match the filter")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Informes")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	writeHeader(sheet, reportsHeader)

	for i := range reports {
		r := &reports[i]
		row := sheet.AddRow()
		row.AddCell().SetString(r.ID)
		row.AddCell().SetString(r.ParcelID)
		row.AddCell().SetString(r.Title)
		row.AddCell().SetInt(r.PeriodMonths)
		row.AddCell().SetString(r.DateStart.Format("2006-01-02"))
		row.AddCell().SetString(r.DateEnd.Format("2006-01-02"))
		row.AddCell().SetString(r.GeneratedAt.Format("2006-01-02 15:04"))
		row.AddCell().SetString(r.PDFPath)
		row.AddCell().SetFloat(r.PriceBase)
		row.AddCell().SetFloat(r.DiscountPct)
		row.AddCell().SetFloat(r.PriceFinal())
		row.AddCell().SetFloat(r.AmountPaid)
		row.AddCell().SetFloat(r.Outstanding())
		if r.DueDate != nil {
			row.AddCell().SetString(r.DueDate.Format("2006-01-02"))
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(string(r.StatusPay))
	}

	if err := save(f, path); err != nil {
		return err
	}
	zap.L().Info("export: reports workbook written",
		zap.String("path", path),
		zap.Int("rows", len(reports)),
	)
	return nil
}

func writeHeader(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	style := xlsx.NewStyle()
	style.Font.Bold = true
	style.ApplyFont = true
	for _, h := range cells {
		c := row.AddCell()
		c.SetString(h)
		c.SetStyle(style)
	}
}

func addFloat(row *xlsx.Row, v *float64) {
	c := row.AddCell()
	if v == nil {
		c.SetString("")
		return
	}
	c.SetFloat(*v)
}

func save(f *xlsx.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create output directory")
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
