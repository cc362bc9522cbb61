package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, 0), st
}

func testDataset(fieldID string) *model.Dataset {
	d1 := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 5, 18, 0, 0, 0, 0, time.UTC)
	return &model.Dataset{
		FieldID: fieldID,
		Indices: []model.IndexName{model.IndexNDVI, model.IndexNDMI},
		Scenes: []model.Scene{
			{Date: d1, CloudPct: 22.0, ViewID: "S2/51/view1", Indexes: map[model.IndexName]model.IndexStats{
				model.IndexNDVI: {Average: 0.61, Min: 0.40, Max: 0.80},
			}},
			{Date: d2, CloudPct: 8.0, ViewID: "S2/51/view2", Indexes: map[model.IndexName]model.IndexStats{
				model.IndexNDVI: {Average: 0.67, Min: 0.45, Max: 0.82},
			}},
		},
		FetchedAt: time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
	}
}

func TestCacheKey_OrderAndCaseInvariant(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	k1 := CacheKey("field-1", start, end, []model.IndexName{"NDVI", "NDMI", "SAVI"})
	k2 := CacheKey("field-1", start, end, []model.IndexName{"savi", "ndvi", "NDMI"})
	k3 := CacheKey("field-1", start, end, []model.IndexName{"NDMI", "SAVI", "NDVI", "ndvi"})

	assert.Equal(t, k1, k2)
	assert.Equal(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestCacheKey_DistinguishesParameters(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	base := CacheKey("field-1", start, end, []model.IndexName{"NDVI"})

	assert.NotEqual(t, base, CacheKey("field-2", start, end, []model.IndexName{"NDVI"}))
	assert.NotEqual(t, base, CacheKey("field-1", start.AddDate(0, 0, 1), end, []model.IndexName{"NDVI"}))
	assert.NotEqual(t, base, CacheKey("field-1", start, end, []model.IndexName{"NDVI", "NDMI"}))
}

func TestCacheKey_TimePortionIgnored(t *testing.T) {
	t.Parallel()

	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t,
		CacheKey("f", d1, end, []model.IndexName{"NDVI"}),
		CacheKey("f", d2, end, []model.IndexName{"NDVI"}),
	)
}

func TestLedger_StoreThenLookup(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	ds := testDataset("field-7")

	key, err := l.Store(ctx, ds, start, end, "task-1")
	require.NoError(t, err)

	// Lookup with reordered indices resolves to the same entry.
	got, gotKey, err := l.Lookup(ctx, "field-7", start, end,
		[]model.IndexName{model.IndexNDMI, model.IndexNDVI})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key, gotKey)
	assert.True(t, got.FromCache)
	assert.Len(t, got.Scenes, 2)
	assert.Equal(t, "field-7", got.FieldID)
}

func TestLedger_LookupMiss(t *testing.T) {
	l, _ := newTestLedger(t)

	got, key, err := l.Lookup(context.Background(), "field-none",
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		[]model.IndexName{model.IndexNDVI})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotEmpty(t, key)
}

func TestLedger_ExpiredEntryIsMiss(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, err := l.Store(ctx, testDataset("field-7"), start, end, "task-1")
	require.NoError(t, err)

	// Four days in: still valid.
	l.now = func() time.Time { return base.Add(4 * 24 * time.Hour) }
	got, _, err := l.Lookup(ctx, "field-7", start, end,
		[]model.IndexName{model.IndexNDVI, model.IndexNDMI})
	require.NoError(t, err)
	assert.NotNil(t, got)

	// Past seven days: the store's own clock decides expiry, so advance
	// it too before asserting the miss.
	late := base.Add(8 * 24 * time.Hour)
	l.now = func() time.Time { return late }
	st.SetClock(func() time.Time { return late })

	got, _, err = l.Lookup(ctx, "field-7", start, end,
		[]model.IndexName{model.IndexNDVI, model.IndexNDMI})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedger_RecordHitAndStats(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordHit(ctx, "u-1", "p-1", "key-abc"))
	require.NoError(t, l.RecordCall(ctx, &model.UsageEvent{
		UserID:           "u-1",
		ParcelID:         "p-1",
		Operation:        model.OpStatistics,
		Endpoint:         "/api/gdw/api",
		HTTPMethod:       "POST",
		Success:          true,
		StatusCode:       200,
		ResponseMS:       800,
		RequestsConsumed: 1,
	}))
	require.NoError(t, l.RecordCall(ctx, &model.UsageEvent{
		UserID:     "u-1",
		Operation:  model.OpWeather,
		Endpoint:   "/weather",
		HTTPMethod: "GET",
		Success:    false,
		StatusCode: 500,
		ResponseMS: 200,
	}))

	st, err := l.Stats(ctx, "u-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, st.RequestsConsumedTotal)
	assert.Equal(t, 1, st.CacheHits)
	assert.Equal(t, 2, st.Successes)
	assert.Equal(t, 1, st.Failures)
}

func TestLedger_GC(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	_, err := l.Store(ctx, testDataset("field-a"), start, end, "t1")
	require.NoError(t, err)
	_, err = l.Store(ctx, testDataset("field-b"), start, end, "t2")
	require.NoError(t, err)

	late := base.Add(10 * 24 * time.Hour)
	st.SetClock(func() time.Time { return late })

	n, err := l.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
