package model

import "time"

// IndexName identifies a vegetation or moisture index. Values are stored
// uppercase to match the provider's wire format.
type IndexName string

const (
	IndexNDVI  IndexName = "NDVI"
	IndexNDMI  IndexName = "NDMI"
	IndexSAVI  IndexName = "SAVI"
	IndexNDRE  IndexName = "NDRE"
	IndexMSAVI IndexName = "MSAVI"
)

// IndexStats holds per-scene statistics for a single index.
type IndexStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Std     float64 `json:"std"`
	Median  float64 `json:"median"`
}

// Scene is one satellite acquisition for a field on a given date. The
// provider's response is normalized into this shape at the client boundary;
// raw provider maps never travel past pkg/eosda. Unknown response keys are
// preserved in Extras.
type Scene struct {
	Date     time.Time                `json:"date"`
	CloudPct float64                  `json:"cloud"`
	ViewID   string                   `json:"view_id"`
	Indexes  map[IndexName]IndexStats `json:"indexes"`
	Extras   map[string]any           `json:"extras,omitempty"`
}

// Stats returns the statistics for the given index and whether they exist.
func (s Scene) Stats(idx IndexName) (IndexStats, bool) {
	st, ok := s.Indexes[idx]
	return st, ok
}

// WeatherRecord is one day of weather history for a field.
type WeatherRecord struct {
	Date           time.Time `json:"date"`
	TemperatureMin float64   `json:"temperature_min"`
	TemperatureMax float64   `json:"temperature_max"`
	RainfallMM     float64   `json:"rainfall"`
}

// Dataset is the result of a successful acquisition: every scene the
// provider returned for the window plus the weather history.
type Dataset struct {
	FieldID   string          `json:"field_id"`
	Indices   []IndexName     `json:"indices"`
	Scenes    []Scene         `json:"scenes"`
	Weather   []WeatherRecord `json:"weather"`
	FetchedAt time.Time       `json:"fetched_at"`
	FromCache bool            `json:"from_cache"`
}
