package report

import (
	"bytes"
	"time"

	"github.com/rotisserie/eris"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/agrovista/satreport/internal/model"
)

const (
	chartWidth  = 900
	chartHeight = 360
)

var indexColors = map[model.IndexName]drawing.Color{
	model.IndexNDVI:  chart.ColorGreen,
	model.IndexNDMI:  chart.ColorBlue,
	model.IndexNDRE:  chart.ColorRed,
	model.IndexSAVI:  chart.ColorOrange,
	model.IndexMSAVI: chart.ColorAlternateGray,
}

// colorFor keeps unmapped indices visible instead of rendering a zero
// (transparent) color.
func colorFor(index model.IndexName) drawing.Color {
	if c, ok := indexColors[index]; ok {
		return c
	}
	return chart.ColorBlack
}

// renderIndexChart draws the monthly mean line for one index as a PNG.
// Returns an error when fewer than two months carry the index.
func renderIndexChart(index model.IndexName, months []model.MonthlyIndex) ([]byte, error) {
	xs, ys := seriesFor(index, months)
	if len(xs) < 2 {
		return nil, eris.Errorf("report: not enough %s samples to chart", index)
	}

	graph := chart.Chart{
		Width:  chartWidth,
		Height: chartHeight,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    string(index),
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: colorFor(index),
					StrokeWidth: 2.5,
					DotColor:    colorFor(index),
					DotWidth:    3,
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, eris.Wrapf(err, "report: render %s chart", index)
	}
	return buf.Bytes(), nil
}

// renderComparisonChart overlays every requested index on one chart.
func renderComparisonChart(indices []model.IndexName, months []model.MonthlyIndex) ([]byte, error) {
	var series []chart.Series
	for _, idx := range indices {
		xs, ys := seriesFor(idx, months)
		if len(xs) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{
			Name:    string(idx),
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: colorFor(idx),
				StrokeWidth: 2.5,
			},
		})
	}
	if len(series) == 0 {
		return nil, eris.New("report: no series to compare")
	}

	graph := chart.Chart{
		Width:  chartWidth,
		Height: chartHeight,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, eris.Wrap(err, "report: render comparison chart")
	}
	return buf.Bytes(), nil
}

func seriesFor(index model.IndexName, months []model.MonthlyIndex) ([]time.Time, []float64) {
	var xs []time.Time
	var ys []float64
	for _, m := range months {
		agg := m.Aggregate(index)
		if !agg.Present() {
			continue
		}
		xs = append(xs, time.Date(m.Year, time.Month(m.Month), 15, 0, 0, 0, 0, time.UTC))
		ys = append(ys, *agg.Mean)
	}
	return xs, ys
}
