// Package ledger fronts the provider response cache and the append-only
// usage accounting that backs quota enforcement.
package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

// DefaultTTL is how long a cached provider response stays servable.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultStatsWindow bounds UserStats when the caller gives no window.
const DefaultStatsWindow = 30 * 24 * time.Hour

// Ledger wraps the store's cache and usage tables with TTL policy and
// canonical key derivation.
type Ledger struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Ledger. A non-positive ttl falls back to DefaultTTL.
func New(st store.Store, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		store: st,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the cached dataset for the given request parameters, or
// nil on a miss. Expired entries are treated as misses.
func (l *Ledger) Lookup(ctx context.Context, fieldID string, dateStart, dateEnd time.Time, indices []model.IndexName) (*model.Dataset, string, error) {
	key := CacheKey(fieldID, dateStart, dateEnd, indices)

	entry, err := l.store.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, key, eris.Wrap(err, "ledger: cache lookup")
	}
	if entry == nil {
		return nil, key, nil
	}

	var ds model.Dataset
	if err := json.Unmarshal(entry.Payload, &ds); err != nil {
		zap.L().Warn("ledger: corrupt cache payload, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, key, nil
	}
	ds.FromCache = true

	zap.L().Debug("ledger: cache hit",
		zap.String("key", key),
		zap.String("field_id", fieldID),
		zap.Int("use_count", entry.UseCount),
	)
	return &ds, key, nil
}

// Store caches a freshly fetched dataset under its canonical key with the
// configured validity window.
func (l *Ledger) Store(ctx context.Context, ds *model.Dataset, dateStart, dateEnd time.Time, taskID string) (string, error) {
	key := CacheKey(ds.FieldID, dateStart, dateEnd, ds.Indices)

	payload, err := json.Marshal(ds)
	if err != nil {
		return key, eris.Wrap(err, "ledger: marshal dataset")
	}

	var cloudSum float64
	for _, sc := range ds.Scenes {
		cloudSum += sc.CloudPct
	}
	meanCloud := 0.0
	if len(ds.Scenes) > 0 {
		meanCloud = cloudSum / float64(len(ds.Scenes))
	}

	now := l.now()
	indices := make([]string, 0, len(ds.Indices))
	for _, idx := range ds.Indices {
		indices = append(indices, string(idx))
	}

	entry := &model.CacheEntry{
		Key:          key,
		FieldID:      ds.FieldID,
		DateStart:    dateStart.UTC(),
		DateEnd:      dateEnd.UTC(),
		Indices:      strings.Join(indices, ","),
		Payload:      payload,
		SceneCount:   len(ds.Scenes),
		MeanCloudPct: meanCloud,
		TaskID:       taskID,
		CreatedAt:    now,
		ValidUntil:   now.Add(l.ttl),
		UseCount:     0,
		LastUsedAt:   now,
	}
	if err := l.store.PutCacheEntry(ctx, entry); err != nil {
		return key, eris.Wrap(err, "ledger: cache store")
	}
	return key, nil
}

// RecordHit appends a usage event for a request served from cache. Cache
// hits consume zero provider requests.
func (l *Ledger) RecordHit(ctx context.Context, userID, parcelID, cacheKey string) error {
	return l.store.RecordUsage(ctx, &model.UsageEvent{
		UserID:          userID,
		ParcelID:        parcelID,
		Operation:       model.OpStatistics,
		Endpoint:        "cache",
		HTTPMethod:      "GET",
		Success:         true,
		ServedFromCache: true,
		CacheKey:        cacheKey,
		CreatedAt:       l.now(),
	})
}

// RecordCall appends a usage event for a real provider call.
func (l *Ledger) RecordCall(ctx context.Context, ev *model.UsageEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	return l.store.RecordUsage(ctx, ev)
}

// Stats aggregates a user's consumption over the given window. A zero
// window defaults to the last 30 days.
func (l *Ledger) Stats(ctx context.Context, userID string, window time.Duration) (*model.UsageStats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	return l.store.UserStats(ctx, userID, l.now().Add(-window))
}

// GC removes expired cache entries and reports how many were dropped.
func (l *Ledger) GC(ctx context.Context) (int, error) {
	n, err := l.store.DeleteExpiredCache(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: gc")
	}
	if n > 0 {
		zap.L().Info("ledger: expired cache entries removed", zap.Int("count", n))
	}
	return n, nil
}
