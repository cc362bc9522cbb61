// Package acquire orchestrates satellite data acquisition: registration,
// cache-first lookup, statistics tasks, weather joins, usage accounting
// and monthly aggregation.
package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/ledger"
	"github.com/agrovista/satreport/internal/metrics"
	"github.com/agrovista/satreport/internal/model"
	"github.com/agrovista/satreport/internal/store"
	"github.com/agrovista/satreport/pkg/eosda"
)

// DefaultSceneLimit bounds how many scenes one statistics task may return.
const DefaultSceneLimit = 60

// batchWindow is the window length past which tasks get the slower,
// longer polling cadence.
const batchWindow = 45 * 24 * time.Hour

// NotSyncedError means the parcel has no provider binding and the
// registration attempt failed. The caller may retry later.
type NotSyncedError struct {
	ParcelID string
	Cause    error
}

func (e *NotSyncedError) Error() string {
	return fmt.Sprintf("acquire: parcel %s not synced: %v", e.ParcelID, e.Cause)
}

func (e *NotSyncedError) Unwrap() error { return e.Cause }

// Request describes one acquisition.
type Request struct {
	Parcel      *model.Parcel
	DateStart   time.Time
	DateEnd     time.Time
	Indices     []model.IndexName
	UserID      string
	MaxCloudPct int

	// bypassCache skips the lookup but still stores the result. Used by
	// the multi-threshold fallback so earlier attempts in the same run
	// cannot shadow later, better ones.
	bypassCache bool
}

// Orchestrator is the provider-facing half of the acquisition engine.
// It is re-entrant; all mutable state lives in the store.
type Orchestrator struct {
	store  store.Store
	client eosda.Client
	ledger *ledger.Ledger
	limit  int
	now    func() time.Time
}

// New creates an Orchestrator.
func New(st store.Store, client eosda.Client, led *ledger.Ledger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		client: client,
		ledger: led,
		limit:  DefaultSceneLimit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquire returns the scenes and weather for the window, serving from
// cache when possible. One provider statistics task covers every
// requested index.
func (o *Orchestrator) Acquire(ctx context.Context, req Request) (*model.Dataset, error) {
	if len(req.Indices) == 0 {
		return nil, eris.New("acquire: no indices requested")
	}
	if req.MaxCloudPct <= 0 {
		req.MaxCloudPct = 100
	}

	fieldID, err := o.resolveFieldID(ctx, req)
	if err != nil {
		return nil, err
	}

	if !req.bypassCache {
		cached, key, err := o.ledger.Lookup(ctx, fieldID, req.DateStart, req.DateEnd, req.Indices)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			metrics.CacheHitsTotal.Inc()
			if err := o.ledger.RecordHit(ctx, req.UserID, req.Parcel.ID, key); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	return o.fetch(ctx, req, fieldID)
}

func (o *Orchestrator) resolveFieldID(ctx context.Context, req Request) (string, error) {
	p := req.Parcel
	if p.ExternalFieldID != "" && p.Synced() {
		return p.ExternalFieldID, nil
	}

	started := o.now()
	resp, err := o.client.RegisterField(ctx, eosda.RegisterFieldRequest{
		Name:       p.Name,
		Group:      p.OwnerLabel,
		CropType:   p.CropType,
		Year:       p.MonitoringStart.Year(),
		SowingDate: p.MonitoringStart,
		Geometry:   json.RawMessage(p.GeometryGeoJSON),
	})
	elapsed := o.now().Sub(started)

	ev := &model.UsageEvent{
		UserID:           req.UserID,
		ParcelID:         p.ID,
		Operation:        model.OpRegisterField,
		Endpoint:         "/field-management",
		HTTPMethod:       "POST",
		ResponseMS:       elapsed.Milliseconds(),
		RequestsConsumed: 1,
	}

	if err != nil {
		ev.Success = false
		ev.ErrorMessage = err.Error()
		if recErr := o.ledger.RecordCall(ctx, ev); recErr != nil {
			zap.L().Warn("acquire: usage record failed", zap.Error(recErr))
		}
		metrics.ProviderRequestsTotal.WithLabelValues("register_field", "error").Inc()
		if stateErr := o.store.SetSyncState(ctx, p.ID, model.SyncStateError, err.Error()); stateErr != nil {
			zap.L().Warn("acquire: sync state update failed", zap.Error(stateErr))
		}
		return "", &NotSyncedError{ParcelID: p.ID, Cause: err}
	}

	ev.Success = true
	ev.StatusCode = 200
	if recErr := o.ledger.RecordCall(ctx, ev); recErr != nil {
		zap.L().Warn("acquire: usage record failed", zap.Error(recErr))
	}
	metrics.ProviderRequestsTotal.WithLabelValues("register_field", "ok").Inc()

	if err := o.store.BindFieldID(ctx, p.ID, resp.FieldID); err != nil {
		return "", eris.Wrap(err, "acquire: bind field id")
	}
	p.ExternalFieldID = resp.FieldID
	p.SyncState = model.SyncStateSynced

	zap.L().Info("acquire: parcel registered",
		zap.String("parcel_id", p.ID),
		zap.String("field_id", resp.FieldID),
	)
	return resp.FieldID, nil
}

// fetch runs the miss path: one statistics task for all indices, weather
// join, cache store and usage accounting. Statistics failure with a
// successful weather fetch degrades to a weather-only dataset; the
// degradation surfaces through the monthly source tag, not an error.
func (o *Orchestrator) fetch(ctx context.Context, req Request, fieldID string) (*model.Dataset, error) {
	started := o.now()

	scenes, statsErr := o.runStatsTask(ctx, req, fieldID)

	weather, weatherErr := o.client.WeatherHistory(ctx, fieldID, req.DateStart, req.DateEnd)
	if weatherErr != nil {
		zap.L().Warn("acquire: weather history failed",
			zap.String("field_id", fieldID),
			zap.Error(weatherErr),
		)
	}

	elapsed := o.now().Sub(started)
	metrics.ProviderRequestLatency.WithLabelValues("statistics").Observe(elapsed.Seconds())

	ev := &model.UsageEvent{
		UserID:     req.UserID,
		ParcelID:   req.Parcel.ID,
		Operation:  model.OpStatistics,
		Endpoint:   "/api/gdw/api",
		HTTPMethod: "POST",
		ResponseMS: elapsed.Milliseconds(),
		// Polling calls are not billed separately by the provider; the
		// whole task counts as one request.
		RequestsConsumed: 1,
	}

	if statsErr != nil {
		if weatherErr != nil || len(weather) == 0 {
			ev.Success = false
			ev.ErrorMessage = statsErr.Error()
			if recErr := o.ledger.RecordCall(ctx, ev); recErr != nil {
				zap.L().Warn("acquire: usage record failed", zap.Error(recErr))
			}
			metrics.ProviderRequestsTotal.WithLabelValues("statistics", "error").Inc()
			return nil, statsErr
		}
		zap.L().Warn("acquire: degrading to weather-only dataset",
			zap.String("parcel_id", req.Parcel.ID),
			zap.Error(statsErr),
		)
		ev.ErrorMessage = statsErr.Error()
		scenes = nil
	}

	ev.Success = true
	ev.StatusCode = 200
	metrics.ProviderRequestsTotal.WithLabelValues("statistics", "ok").Inc()

	ds := &model.Dataset{
		FieldID:   fieldID,
		Indices:   req.Indices,
		Scenes:    scenes,
		Weather:   weather,
		FetchedAt: o.now(),
	}

	if len(ds.Scenes) > 0 {
		key, err := o.ledger.Store(ctx, ds, req.DateStart, req.DateEnd, "")
		if err != nil {
			return nil, err
		}
		ev.CacheKey = key
	}

	if err := o.ledger.RecordCall(ctx, ev); err != nil {
		zap.L().Warn("acquire: usage record failed", zap.Error(err))
	}
	return ds, nil
}

func (o *Orchestrator) runStatsTask(ctx context.Context, req Request, fieldID string) ([]model.Scene, error) {
	taskID, err := o.client.SubmitStatsTask(ctx, eosda.StatsTaskRequest{
		Indices:       req.Indices,
		DateStart:     req.DateStart,
		DateEnd:       req.DateEnd,
		Geometry:      json.RawMessage(req.Parcel.GeometryGeoJSON),
		Limit:         o.limit,
		MaxCloudCover: req.MaxCloudPct,
		Reference:     "acq-" + req.Parcel.ID,
	})
	if err != nil {
		return nil, err
	}

	policy := eosda.ShortPollPolicy()
	if len(req.Indices) > 1 || req.DateEnd.Sub(req.DateStart) > batchWindow {
		policy = eosda.BatchPollPolicy()
	}
	return o.client.WaitForTask(ctx, taskID, policy)
}
