package acquire

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/model"
)

type yearMonth struct {
	year  int
	month int
}

// WriteMonthly reduces an acquired dataset to monthly aggregate rows and
// upserts them. Scenes group by calendar month; weather reduces alongside.
// Months with weather but no surviving scenes get a weather-only row.
func (o *Orchestrator) WriteMonthly(ctx context.Context, parcelID string, ds *model.Dataset) ([]model.MonthlyIndex, error) {
	sceneGroups := map[yearMonth][]model.Scene{}
	for _, sc := range ds.Scenes {
		ym := yearMonth{sc.Date.Year(), int(sc.Date.Month())}
		sceneGroups[ym] = append(sceneGroups[ym], sc)
	}

	weatherGroups := map[yearMonth][]model.WeatherRecord{}
	for _, w := range ds.Weather {
		ym := yearMonth{w.Date.Year(), int(w.Date.Month())}
		weatherGroups[ym] = append(weatherGroups[ym], w)
	}

	months := map[yearMonth]bool{}
	for ym := range sceneGroups {
		months[ym] = true
	}
	for ym := range weatherGroups {
		months[ym] = true
	}

	ordered := make([]yearMonth, 0, len(months))
	for ym := range months {
		ordered = append(ordered, ym)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].year != ordered[j].year {
			return ordered[i].year < ordered[j].year
		}
		return ordered[i].month < ordered[j].month
	})

	out := make([]model.MonthlyIndex, 0, len(ordered))
	for _, ym := range ordered {
		row := buildMonthlyRow(parcelID, ym, sceneGroups[ym], weatherGroups[ym])
		if !row.HasData() {
			continue
		}
		if err := o.store.UpsertMonthly(ctx, &row); err != nil {
			return nil, eris.Wrapf(err, "acquire: write monthly %d-%02d", ym.year, ym.month)
		}
		out = append(out, row)
	}
	return out, nil
}

func buildMonthlyRow(parcelID string, ym yearMonth, scenes []model.Scene, weather []model.WeatherRecord) model.MonthlyIndex {
	row := model.MonthlyIndex{
		ParcelID: parcelID,
		Year:     ym.year,
		Month:    ym.month,
	}

	if len(scenes) > 0 {
		row.NDVI = aggregateIndex(scenes, model.IndexNDVI)
		row.NDMI = aggregateIndex(scenes, model.IndexNDMI)
		row.SAVI = aggregateIndex(scenes, model.IndexSAVI)

		var cloudSum float64
		for _, sc := range scenes {
			cloudSum += sc.CloudPct
		}
		cloudMean := cloudSum / float64(len(scenes))
		row.CloudPctMean = &cloudMean

		if best, ok := bestScene(scenes); ok {
			d := best.Date
			cloud := best.CloudPct
			row.BestSceneViewID = best.ViewID
			row.BestSceneDate = &d
			row.BestSceneCloudPct = &cloud
		}
		row.Source = model.SourceSatellite
	} else {
		row.Source = model.SourceWeatherOnly
	}

	if len(weather) > 0 {
		reduceWeather(&row, weather)
	}

	row.Quality = model.QualityFor(row.IndexCount())
	return row
}

func aggregateIndex(scenes []model.Scene, idx model.IndexName) model.IndexAggregate {
	var sum float64
	var count int
	var lo, hi float64
	for _, sc := range scenes {
		st, ok := sc.Stats(idx)
		if !ok {
			continue
		}
		if count == 0 {
			lo, hi = st.Min, st.Max
		} else {
			if st.Min < lo {
				lo = st.Min
			}
			if st.Max > hi {
				hi = st.Max
			}
		}
		sum += st.Average
		count++
	}
	if count == 0 {
		return model.IndexAggregate{}
	}
	mean := sum / float64(count)
	return model.IndexAggregate{Mean: &mean, Min: &lo, Max: &hi}
}

// bestScene picks the lowest cloud cover among scenes carrying valid NDVI.
func bestScene(scenes []model.Scene) (model.Scene, bool) {
	var best model.Scene
	found := false
	for _, sc := range scenes {
		if _, ok := sc.Stats(model.IndexNDVI); !ok {
			continue
		}
		if !found || sc.CloudPct < best.CloudPct {
			best = sc
			found = true
		}
	}
	return best, found
}

func reduceWeather(row *model.MonthlyIndex, weather []model.WeatherRecord) {
	var meanSum, precip float64
	lo := weather[0].TemperatureMin
	hi := weather[0].TemperatureMax
	for _, w := range weather {
		meanSum += (w.TemperatureMin + w.TemperatureMax) / 2
		if w.TemperatureMin < lo {
			lo = w.TemperatureMin
		}
		if w.TemperatureMax > hi {
			hi = w.TemperatureMax
		}
		precip += w.RainfallMM
	}
	mean := meanSum / float64(len(weather))
	row.TempMeanC = &mean
	row.TempMinC = &lo
	row.TempMaxC = &hi
	row.PrecipMM = &precip
}

// MonthsBetween counts calendar months inclusive of both endpoints.
func MonthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1
}
