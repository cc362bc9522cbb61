package eosda

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/model"
)

// RegisterFieldRequest describes a parcel to register with the provider.
// Geometry must be a GeoJSON Polygon.
type RegisterFieldRequest struct {
	Name       string
	Group      string
	CropType   string // local name; translated before sending
	Year       int
	SowingDate time.Time
	Geometry   json.RawMessage
}

type yearsDataEntry struct {
	CropType   string `json:"crop_type"`
	Year       int    `json:"year"`
	SowingDate string `json:"sowing_date"`
}

type fieldFeature struct {
	Type       string          `json:"type"`
	Properties fieldProperties `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type fieldProperties struct {
	Name      string           `json:"name"`
	Group     string           `json:"group"`
	YearsData []yearsDataEntry `json:"years_data"`
}

// RegisterFieldResponse is the provider's reply to a registration. The
// identifier arrives under either "id" or "field_id" and may be a number
// or a string; both shapes normalize to FieldID.
type RegisterFieldResponse struct {
	FieldID string
	AreaHa  float64
}

func (r *RegisterFieldResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      json.RawMessage `json:"id"`
		FieldID json.RawMessage `json:"field_id"`
		Area    float64         `json:"area"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "eosda: decode register response")
	}
	id := raw.FieldID
	if len(id) == 0 || string(id) == "null" {
		id = raw.ID
	}
	if len(id) == 0 || string(id) == "null" {
		return eris.New("eosda: register response carries no field identifier")
	}
	r.FieldID = rawToString(id)
	r.AreaHa = raw.Area
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strings.Trim(string(raw), `"`)
}

// StatsTaskRequest describes one asynchronous statistics task. A single
// task covers every requested index for the window.
type StatsTaskRequest struct {
	Indices       []model.IndexName
	DateStart     time.Time
	DateEnd       time.Time
	Geometry      json.RawMessage
	Limit         int
	MaxCloudCover int
	Reference     string
}

type statsTaskBody struct {
	Type   string          `json:"type"`
	Params statsTaskParams `json:"params"`
}

type statsTaskParams struct {
	BMType             []string        `json:"bm_type"`
	DateStart          string          `json:"date_start"`
	DateEnd            string          `json:"date_end"`
	Geometry           json.RawMessage `json:"geometry"`
	Sensors            []string        `json:"sensors"`
	Limit              int             `json:"limit"`
	MaxCloudCoverInAOI int             `json:"max_cloud_cover_in_aoi"`
	ExcludeCoverPixels bool            `json:"exclude_cover_pixels"`
	CloudMaskingLevel  int             `json:"cloud_masking_level"`
	Reference          string          `json:"reference"`
}

func (r StatsTaskRequest) body() statsTaskBody {
	bm := make([]string, 0, len(r.Indices))
	for _, idx := range r.Indices {
		bm = append(bm, strings.ToUpper(string(idx)))
	}
	return statsTaskBody{
		Type: "mt_stats",
		Params: statsTaskParams{
			BMType:             bm,
			DateStart:          r.DateStart.UTC().Format("2006-01-02"),
			DateEnd:            r.DateEnd.UTC().Format("2006-01-02"),
			Geometry:           r.Geometry,
			Sensors:            []string{"S2L2A"},
			Limit:              r.Limit,
			MaxCloudCoverInAOI: r.MaxCloudCover,
			ExcludeCoverPixels: true,
			CloudMaskingLevel:  3,
			Reference:          r.Reference,
		},
	}
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatus is the normalized state of an asynchronous statistics task.
// Result presence is authoritative; Status alone may stay unknown for the
// task's whole lifetime.
type TaskStatus struct {
	TaskID string
	Status string
	Scenes []model.Scene
	Errors []string
}

// Done reports whether the task finished. Result presence is
// authoritative; a terminal status with an empty result is a legitimate
// zero-scene outcome.
func (t *TaskStatus) Done() bool {
	if len(t.Scenes) > 0 {
		return true
	}
	switch strings.ToLower(t.Status) {
	case "finished", "done", "completed":
		return true
	}
	return false
}

// Failed reports whether the task ended without results. A non-empty
// errors array or an explicit failed status both count.
func (t *TaskStatus) Failed() bool {
	if t.Done() {
		return false
	}
	if len(t.Errors) > 0 {
		return true
	}
	s := strings.ToLower(t.Status)
	return s == "failed" || s == "error"
}

type taskResponse struct {
	Status string            `json:"status"`
	Result []json.RawMessage `json:"result"`
	Errors []json.RawMessage `json:"errors"`
}

// sceneKnownKeys are consumed into typed fields; everything else lands in
// Extras untouched.
var sceneKnownKeys = map[string]bool{
	"date":    true,
	"cloud":   true,
	"view_id": true,
}

func decodeScene(raw json.RawMessage) (model.Scene, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.Scene{}, eris.Wrap(err, "eosda: decode scene")
	}

	sc := model.Scene{Indexes: map[model.IndexName]model.IndexStats{}}

	if v, ok := fields["date"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return model.Scene{}, eris.Wrap(err, "eosda: scene date")
		}
		d, err := parseDate(s)
		if err != nil {
			return model.Scene{}, err
		}
		sc.Date = d
	}
	if v, ok := fields["cloud"]; ok {
		if err := json.Unmarshal(v, &sc.CloudPct); err != nil {
			return model.Scene{}, eris.Wrap(err, "eosda: scene cloud")
		}
	}
	if v, ok := fields["view_id"]; ok {
		if err := json.Unmarshal(v, &sc.ViewID); err != nil {
			return model.Scene{}, eris.Wrap(err, "eosda: scene view_id")
		}
	}

	for key, v := range fields {
		if sceneKnownKeys[key] {
			continue
		}
		upper := strings.ToUpper(key)
		if upper == key && looksLikeIndexKey(key) {
			var st model.IndexStats
			if err := json.Unmarshal(v, &st); err == nil {
				sc.Indexes[model.IndexName(upper)] = st
				continue
			}
		}
		if sc.Extras == nil {
			sc.Extras = map[string]any{}
		}
		var anyVal any
		if err := json.Unmarshal(v, &anyVal); err == nil {
			sc.Extras[key] = anyVal
		}
	}
	return sc, nil
}

// looksLikeIndexKey screens uppercase alphabetic keys so status fields
// that happen to be uppercase do not get treated as index statistics.
func looksLikeIndexKey(key string) bool {
	if len(key) < 3 || len(key) > 8 {
		return false
	}
	for _, r := range key {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("eosda: unparseable date %q", s)
}

type weatherRequest struct {
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
}

type weatherRecordRaw struct {
	Date           string  `json:"date"`
	TemperatureMin float64 `json:"temperature_min"`
	TemperatureMax float64 `json:"temperature_max"`
	Rainfall       float64 `json:"rainfall"`
}

func (w weatherRecordRaw) toModel() (model.WeatherRecord, error) {
	d, err := parseDate(w.Date)
	if err != nil {
		return model.WeatherRecord{}, err
	}
	return model.WeatherRecord{
		Date:           d,
		TemperatureMin: w.TemperatureMin,
		TemperatureMax: w.TemperatureMax,
		RainfallMM:     w.Rainfall,
	}, nil
}

type imageRequestBody struct {
	ViewID string `json:"view_id"`
	Index  string `json:"index"`
	Format string `json:"format"`
}

type imageRequestResponse struct {
	RequestID string `json:"request_id"`
}
