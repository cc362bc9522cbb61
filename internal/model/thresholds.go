package model

// CropThresholds are NDVI classification cut points for a crop and
// phenological phase. When no row exists for a crop the generic defaults
// apply.
type CropThresholds struct {
	Crop     string  `json:"crop"`
	Phase    string  `json:"phenological_phase"`
	Critical float64 `json:"critical"` // at or below: critical
	Moderate float64 `json:"moderate"` // at or below: moderate
	Optimal  float64 `json:"optimal"`  // at or above: optimal
}

// GenericNDVIThresholds are the defaults for crops without stored overrides.
func GenericNDVIThresholds() CropThresholds {
	return CropThresholds{
		Crop:     "generic",
		Critical: 0.30,
		Moderate: 0.45,
		Optimal:  0.70,
	}
}
