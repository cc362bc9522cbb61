package model

import "time"

// QualityTag is a coarse completeness label for a monthly record.
type QualityTag string

const (
	QualityExcellent QualityTag = "excellent" // all three indices present
	QualityGood      QualityTag = "good"      // two indices
	QualityFair      QualityTag = "fair"      // one index
	QualityPoor      QualityTag = "poor"      // weather-only
)

// SourceTag records where a monthly row's data came from.
type SourceTag string

const (
	SourceSatellite   SourceTag = "satellite"
	SourceWeatherOnly SourceTag = "weather-only"
)

// IndexAggregate holds the monthly mean/min/max for one index. Nil values
// mean no scene in the month carried that index.
type IndexAggregate struct {
	Mean *float64 `json:"mean,omitempty"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// Present reports whether the aggregate carries data.
func (a IndexAggregate) Present() bool { return a.Mean != nil }

// MonthlyIndex is the aggregate of scenes (or weather alone) within one
// calendar month for one parcel. Key (ParcelID, Year, Month) is unique.
type MonthlyIndex struct {
	ParcelID string `json:"parcel_id"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`

	NDVI IndexAggregate `json:"ndvi"`
	NDMI IndexAggregate `json:"ndmi"`
	SAVI IndexAggregate `json:"savi"`

	CloudPctMean *float64 `json:"cloud_pct_mean,omitempty"`

	TempMeanC *float64 `json:"temp_mean_c,omitempty"`
	TempMinC  *float64 `json:"temp_min_c,omitempty"`
	TempMaxC  *float64 `json:"temp_max_c,omitempty"`
	PrecipMM  *float64 `json:"precip_mm,omitempty"`

	// Best scene: lowest cloud cover among scenes with valid NDVI. Only
	// overwritten by a strictly lower cloud candidate.
	BestSceneViewID   string     `json:"best_scene_view_id,omitempty"`
	BestSceneDate     *time.Time `json:"best_scene_date,omitempty"`
	BestSceneCloudPct *float64   `json:"best_scene_cloud_pct,omitempty"`

	// Content paths of downloaded PNG visualizations, keyed by index.
	ImagePaths map[IndexName]string `json:"image_paths,omitempty"`

	Quality QualityTag `json:"quality"`
	Source  SourceTag  `json:"source"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Aggregate returns the aggregate for one of the three stored indices.
func (m *MonthlyIndex) Aggregate(idx IndexName) IndexAggregate {
	switch idx {
	case IndexNDVI:
		return m.NDVI
	case IndexNDMI:
		return m.NDMI
	case IndexSAVI:
		return m.SAVI
	}
	return IndexAggregate{}
}

// IndexCount returns how many of the three indices carry data.
func (m *MonthlyIndex) IndexCount() int {
	n := 0
	for _, a := range []IndexAggregate{m.NDVI, m.NDMI, m.SAVI} {
		if a.Present() {
			n++
		}
	}
	return n
}

// QualityFor maps an index count to the monthly quality tag.
func QualityFor(indexCount int) QualityTag {
	switch {
	case indexCount >= 3:
		return QualityExcellent
	case indexCount == 2:
		return QualityGood
	case indexCount == 1:
		return QualityFair
	default:
		return QualityPoor
	}
}

// HasData reports the row invariant: at least one index mean is non-null or
// the row carries weather-only data.
func (m *MonthlyIndex) HasData() bool {
	if m.IndexCount() > 0 {
		return true
	}
	return m.Source == SourceWeatherOnly && (m.TempMeanC != nil || m.PrecipMM != nil)
}
