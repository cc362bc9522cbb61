// Package store defines the persistence interface for parcels, monthly
// aggregates, the provider-response cache, the usage ledger, and reports.
// Two drivers exist: sqlite (default) and postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/model"
)

// ErrNotFound is wrapped by both drivers when a lookup by ID misses.
var ErrNotFound = eris.New("not found")

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	ParcelID string `json:"parcel_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Store is the persistence interface for the acquisition and report core.
// All mutation of cache entries goes through PutCacheEntry / GetCacheEntry /
// DeleteExpiredCache; the usage ledger is append-only.
type Store interface {
	// Parcels
	CreateParcel(ctx context.Context, p *model.Parcel) error
	GetParcel(ctx context.Context, id string) (*model.Parcel, error)
	ListParcels(ctx context.Context) ([]model.Parcel, error)
	// SaveParcel rewrites name, crop, geometry, and the derived fields in
	// one statement so readers always observe a consistent set.
	SaveParcel(ctx context.Context, p *model.Parcel) error
	// BindFieldID sets the external field id once; a second bind fails.
	BindFieldID(ctx context.Context, parcelID, fieldID string) error
	SetSyncState(ctx context.Context, parcelID string, state model.SyncState, lastErr string) error
	// DeleteParcel cascades to monthly rows and reports.
	DeleteParcel(ctx context.Context, id string) error

	// Monthly aggregates
	UpsertMonthly(ctx context.Context, row *model.MonthlyIndex) error
	ListMonthly(ctx context.Context, parcelID string, from, to time.Time) ([]model.MonthlyIndex, error)
	SetMonthlyImagePath(ctx context.Context, parcelID string, year, month int, index model.IndexName, path string) error

	// Provider response cache
	GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, e *model.CacheEntry) error
	DeleteExpiredCache(ctx context.Context) (int, error)

	// Usage ledger (append-only)
	RecordUsage(ctx context.Context, ev *model.UsageEvent) error
	// UserStats aggregates consumption since the cutoff. An empty
	// userID aggregates across all users.
	UserStats(ctx context.Context, userID string, since time.Time) (*model.UsageStats, error)

	// Reports
	CreateReport(ctx context.Context, r *model.Report) error
	GetReport(ctx context.Context, id string) (*model.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error)
	UpdateReportPayment(ctx context.Context, id string, priceBase, discountPct, amountPaid float64, due *time.Time, status model.PayStatus) error

	// Narrative cache
	GetNarrative(ctx context.Context, key string) (*model.NarrativeSections, error)
	SetNarrative(ctx context.Context, key string, sections model.NarrativeSections, ttl time.Duration) error

	// NDVI thresholds by crop and phenological phase
	GetCropThresholds(ctx context.Context, crop, phase string) (*model.CropThresholds, error)
	PutCropThresholds(ctx context.Context, t *model.CropThresholds) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
