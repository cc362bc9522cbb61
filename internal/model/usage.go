package model

import "time"

// OperationKind classifies what a usage event was for.
type OperationKind string

const (
	OpRegisterField OperationKind = "register_field"
	OpStatistics    OperationKind = "statistics"
	OpWeather       OperationKind = "weather"
	OpImagery       OperationKind = "imagery"
)

// UsageEvent is one append-only entry in the request ledger. Invariant:
// ServedFromCache implies RequestsConsumed == 0.
type UsageEvent struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	ParcelID         string        `json:"parcel_id,omitempty"`
	Operation        OperationKind `json:"operation_kind"`
	Endpoint         string        `json:"endpoint"`
	HTTPMethod       string        `json:"http_method"`
	Success          bool          `json:"success"`
	StatusCode       int           `json:"status_code,omitempty"`
	ResponseMS       int64         `json:"response_ms"`
	RequestsConsumed int           `json:"requests_consumed"`
	ServedFromCache  bool          `json:"served_from_cache"`
	CacheKey         string        `json:"cache_key,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// UsageStats summarizes a user's ledger over a window.
type UsageStats struct {
	RequestsConsumedTotal int     `json:"requests_consumed_total"`
	CacheHits             int     `json:"cache_hits"`
	Successes             int     `json:"successes"`
	Failures              int     `json:"failures"`
	MeanResponseMS        float64 `json:"mean_response_ms"`
}

// CacheEntry is a content-addressed provider response. Expired entries
// must never be served and are deleted lazily on lookup.
type CacheEntry struct {
	Key          string    `json:"key"`
	FieldID      string    `json:"field_id"`
	DateStart    time.Time `json:"date_start"`
	DateEnd      time.Time `json:"date_end"`
	Indices      string    `json:"indices"` // sorted, comma-joined, uppercase
	Payload      []byte    `json:"payload"` // raw provider JSON
	SceneCount   int       `json:"scene_count"`
	MeanCloudPct float64   `json:"mean_cloud_pct"`
	TaskID       string    `json:"task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ValidUntil   time.Time `json:"valid_until"`
	UseCount     int       `json:"use_count"`
	LastUsedAt   time.Time `json:"last_used_at"`
}
