// Package legal evaluates a parcel against national restriction layers:
// water-course setbacks, protected areas, indigenous reserves and paramos.
// The checker reports per-restriction affected areas and an overall
// compliance verdict, and prepares the inputs for the restriction map
// renderer.
package legal

import "encoding/json"

// RestrictionKind identifies the legal figure a restriction derives from.
type RestrictionKind string

const (
	KindWaterSetback      RestrictionKind = "water_setback"
	KindProtectedArea     RestrictionKind = "protected_area"
	KindIndigenousReserve RestrictionKind = "indigenous_reserve"
	KindParamo            RestrictionKind = "paramo"
)

// WaterSubtype classifies a water course for setback purposes.
type WaterSubtype string

const (
	SubtypeStream  WaterSubtype = "stream"
	SubtypeRiver   WaterSubtype = "river"
	SubtypeWetland WaterSubtype = "wetland"
)

// SetbackM returns the mandatory buffer distance in meters for the subtype.
func (s WaterSubtype) SetbackM() float64 {
	switch s {
	case SubtypeRiver:
		return 50
	case SubtypeWetland:
		return 100
	default:
		return 30
	}
}

// Severity grades how strongly a restriction limits use of the parcel.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Restriction is one legal limitation intersecting the parcel.
type Restriction struct {
	Kind           RestrictionKind `json:"kind"`
	Subtype        WaterSubtype    `json:"subtype,omitempty"`
	MinSetbackM    float64         `json:"min_setback_m,omitempty"`
	Name           string          `json:"name"`
	AffectedAreaHa float64         `json:"affected_area_ha"`
	Severity       Severity        `json:"severity"`

	// Note carries data-quality warnings, e.g. a hydro layer delivered as
	// polygons instead of lines.
	Note string `json:"note,omitempty"`
}

// RestrictionGeometry pairs a restriction with its renderable geometry.
type RestrictionGeometry struct {
	Kind    RestrictionKind `json:"kind"`
	Name    string          `json:"name"`
	GeoJSON json.RawMessage `json:"geojson"`
}

// MapInput is the triple handed to the external map renderer.
type MapInput struct {
	ParcelPolygon         json.RawMessage       `json:"parcel_polygon"`
	RestrictionGeometries []RestrictionGeometry `json:"restriction_geometries"`
	Metadata              map[string]string     `json:"metadata"`
}

// Result is the outcome of a compliance check over one parcel.
type Result struct {
	Restrictions     []Restriction `json:"restrictions"`
	CultivableAreaHa float64       `json:"cultivable_area_ha"`
	RestrictedAreaHa float64       `json:"restricted_area_ha"`
	TotalAreaHa      float64       `json:"total_area_ha"`
	Complies         bool          `json:"complies"`
	MapInput         MapInput      `json:"map_input"`
}
