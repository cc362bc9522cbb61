package model

import (
	"time"
)

// SyncState tracks whether a parcel is bound to a provider-side field.
type SyncState string

const (
	SyncStateUnsynced SyncState = "unsynced"
	SyncStateSynced   SyncState = "synced"
	SyncStateError    SyncState = "error"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// BBox is a geographic bounding box in WGS84.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Parcel is an agricultural parcel with a single simple polygon geometry.
// Derived fields (AreaHa, PerimeterM, Centroid, BBox) are recomputed on
// every geometry change and must never be written independently.
type Parcel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerLabel string `json:"owner_label"`
	OwnerID    string `json:"owner_id"`
	CropType   string `json:"crop_type"`

	// GeoJSON Polygon, exterior ring only, closed, non-self-intersecting.
	GeometryGeoJSON string `json:"geometry_geojson"`

	AreaHa     float64 `json:"area_ha"`
	PerimeterM float64 `json:"perimeter_m"`
	Centroid   Point   `json:"centroid"`
	BBox       BBox    `json:"bbox"`

	// ExternalFieldID is immutable once set; re-registration means a new parcel.
	ExternalFieldID string    `json:"external_field_id,omitempty"`
	SyncState       SyncState `json:"sync_state"`
	LastSyncError   string    `json:"last_sync_error,omitempty"`

	MonitoringStart time.Time `json:"monitoring_start"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Synced reports whether the parcel has a usable provider binding.
func (p *Parcel) Synced() bool {
	return p.ExternalFieldID != "" && p.SyncState == SyncStateSynced
}
