package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/db"
	"github.com/agrovista/satreport/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS parcels (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	owner_label       TEXT NOT NULL DEFAULT '',
	owner_id          TEXT NOT NULL DEFAULT '',
	crop_type         TEXT NOT NULL DEFAULT '',
	geometry          TEXT NOT NULL,
	area_ha           DOUBLE PRECISION NOT NULL,
	perimeter_m       DOUBLE PRECISION NOT NULL,
	centroid_lng      DOUBLE PRECISION NOT NULL,
	centroid_lat      DOUBLE PRECISION NOT NULL,
	bbox_min_lng      DOUBLE PRECISION NOT NULL,
	bbox_min_lat      DOUBLE PRECISION NOT NULL,
	bbox_max_lng      DOUBLE PRECISION NOT NULL,
	bbox_max_lat      DOUBLE PRECISION NOT NULL,
	external_field_id TEXT,
	sync_state        TEXT NOT NULL DEFAULT 'unsynced',
	last_sync_error   TEXT NOT NULL DEFAULT '',
	monitoring_start  TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS monthly_indices (
	parcel_id            TEXT NOT NULL REFERENCES parcels(id) ON DELETE CASCADE,
	year                 INTEGER NOT NULL,
	month                INTEGER NOT NULL,
	ndvi_mean            DOUBLE PRECISION,
	ndvi_min             DOUBLE PRECISION,
	ndvi_max             DOUBLE PRECISION,
	ndmi_mean            DOUBLE PRECISION,
	ndmi_min             DOUBLE PRECISION,
	ndmi_max             DOUBLE PRECISION,
	savi_mean            DOUBLE PRECISION,
	savi_min             DOUBLE PRECISION,
	savi_max             DOUBLE PRECISION,
	cloud_pct_mean       DOUBLE PRECISION,
	temp_mean_c          DOUBLE PRECISION,
	temp_min_c           DOUBLE PRECISION,
	temp_max_c           DOUBLE PRECISION,
	precip_mm            DOUBLE PRECISION,
	best_scene_view_id   TEXT NOT NULL DEFAULT '',
	best_scene_date      TIMESTAMPTZ,
	best_scene_cloud_pct DOUBLE PRECISION,
	image_paths          JSONB,
	quality              TEXT NOT NULL,
	source               TEXT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (parcel_id, year, month)
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key            TEXT PRIMARY KEY,
	field_id       TEXT NOT NULL,
	date_start     TIMESTAMPTZ NOT NULL,
	date_end       TIMESTAMPTZ NOT NULL,
	indices        TEXT NOT NULL,
	payload        BYTEA NOT NULL,
	scene_count    INTEGER NOT NULL DEFAULT 0,
	mean_cloud_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	task_id        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	valid_until    TIMESTAMPTZ NOT NULL,
	use_count      INTEGER NOT NULL DEFAULT 0,
	last_used_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_events (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	parcel_id         TEXT,
	operation         TEXT NOT NULL,
	endpoint          TEXT NOT NULL,
	http_method       TEXT NOT NULL,
	success           BOOLEAN NOT NULL,
	status_code       INTEGER NOT NULL DEFAULT 0,
	response_ms       BIGINT NOT NULL DEFAULT 0,
	requests_consumed INTEGER NOT NULL DEFAULT 0,
	served_from_cache BOOLEAN NOT NULL DEFAULT FALSE,
	cache_key         TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	parcel_id       TEXT NOT NULL REFERENCES parcels(id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	period_months   INTEGER NOT NULL,
	date_start      TIMESTAMPTZ NOT NULL,
	date_end        TIMESTAMPTZ NOT NULL,
	config_snapshot JSONB NOT NULL,
	pdf_path        TEXT NOT NULL,
	generated_at    TIMESTAMPTZ NOT NULL,
	narrative       JSONB NOT NULL,
	index_means     JSONB,
	price_base      DOUBLE PRECISION NOT NULL DEFAULT 0,
	discount_pct    DOUBLE PRECISION NOT NULL DEFAULT 0,
	amount_paid     DOUBLE PRECISION NOT NULL DEFAULT 0,
	due_date        TIMESTAMPTZ,
	status_pay      TEXT NOT NULL DEFAULT 'none'
);

CREATE TABLE IF NOT EXISTS narrative_cache (
	key        TEXT PRIMARY KEY,
	sections   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crop_thresholds (
	crop     TEXT NOT NULL,
	phase    TEXT NOT NULL DEFAULT '',
	critical DOUBLE PRECISION NOT NULL,
	moderate DOUBLE PRECISION NOT NULL,
	optimal  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (crop, phase)
);

CREATE INDEX IF NOT EXISTS idx_parcels_owner ON parcels(owner_id);
CREATE INDEX IF NOT EXISTS idx_monthly_parcel ON monthly_indices(parcel_id);
CREATE INDEX IF NOT EXISTS idx_cache_valid_until ON cache_entries(valid_until);
CREATE INDEX IF NOT EXISTS idx_usage_user_created ON usage_events(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reports_parcel ON reports(parcel_id);
`

// SetClock overrides the store's time source. Used by tests to exercise
// expiry behavior.
func (s *PostgresStore) SetClock(now func() time.Time) { s.now = now }

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- parcels ---

func (s *PostgresStore) CreateParcel(ctx context.Context, p *model.Parcel) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.SyncState == "" {
		p.SyncState = model.SyncStateUnsynced
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO parcels (id, name, owner_label, owner_id, crop_type, geometry,
			area_ha, perimeter_m, centroid_lng, centroid_lat,
			bbox_min_lng, bbox_min_lat, bbox_max_lng, bbox_max_lat,
			external_field_id, sync_state, last_sync_error,
			monitoring_start, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.Name, p.OwnerLabel, p.OwnerID, p.CropType, p.GeometryGeoJSON,
		p.AreaHa, p.PerimeterM, p.Centroid.Lng, p.Centroid.Lat,
		p.BBox.MinLng, p.BBox.MinLat, p.BBox.MaxLng, p.BBox.MaxLat,
		nullString(p.ExternalFieldID), string(p.SyncState), p.LastSyncError,
		p.MonitoringStart, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert parcel")
}

func (s *PostgresStore) GetParcel(ctx context.Context, id string) (*model.Parcel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+parcelColumns+` FROM parcels WHERE id = $1`, id)
	p, err := scanParcelPG(row)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListParcels(ctx context.Context) ([]model.Parcel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+parcelColumns+` FROM parcels ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list parcels")
	}
	defer rows.Close()

	var out []model.Parcel
	for rows.Next() {
		p, err := scanParcelPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list parcels iterate")
}

func (s *PostgresStore) SaveParcel(ctx context.Context, p *model.Parcel) error {
	p.UpdatedAt = s.now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE parcels SET name = $1, owner_label = $2, crop_type = $3, geometry = $4,
			area_ha = $5, perimeter_m = $6, centroid_lng = $7, centroid_lat = $8,
			bbox_min_lng = $9, bbox_min_lat = $10, bbox_max_lng = $11, bbox_max_lat = $12,
			updated_at = $13
		 WHERE id = $14`,
		p.Name, p.OwnerLabel, p.CropType, p.GeometryGeoJSON,
		p.AreaHa, p.PerimeterM, p.Centroid.Lng, p.Centroid.Lat,
		p.BBox.MinLng, p.BBox.MinLat, p.BBox.MaxLng, p.BBox.MaxLat,
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save parcel %s", p.ID)
	}
	return checkTag(tag, "parcel", p.ID)
}

func (s *PostgresStore) BindFieldID(ctx context.Context, parcelID, fieldID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE parcels SET external_field_id = $1, sync_state = $2, last_sync_error = '', updated_at = $3
		 WHERE id = $4 AND external_field_id IS NULL`,
		fieldID, string(model.SyncStateSynced), s.now(), parcelID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: bind field id %s", parcelID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("parcel %s not found or already bound", parcelID)
	}
	return nil
}

func (s *PostgresStore) SetSyncState(ctx context.Context, parcelID string, state model.SyncState, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE parcels SET sync_state = $1, last_sync_error = $2, updated_at = $3 WHERE id = $4`,
		string(state), lastErr, s.now(), parcelID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set sync state %s", parcelID)
	}
	return checkTag(tag, "parcel", parcelID)
}

func (s *PostgresStore) DeleteParcel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM parcels WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete parcel %s", id)
	}
	return checkTag(tag, "parcel", id)
}

// --- monthly aggregates ---

func (s *PostgresStore) UpsertMonthly(ctx context.Context, m *model.MonthlyIndex) error {
	m.UpdatedAt = s.now()

	var imagePaths any
	if len(m.ImagePaths) > 0 {
		b, err := json.Marshal(m.ImagePaths)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal image paths")
		}
		imagePaths = string(b)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO monthly_indices (parcel_id, year, month,
			ndvi_mean, ndvi_min, ndvi_max,
			ndmi_mean, ndmi_min, ndmi_max,
			savi_mean, savi_min, savi_max,
			cloud_pct_mean, temp_mean_c, temp_min_c, temp_max_c, precip_mm,
			best_scene_view_id, best_scene_date, best_scene_cloud_pct,
			image_paths, quality, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		 ON CONFLICT (parcel_id, year, month) DO UPDATE SET
			ndvi_mean = excluded.ndvi_mean, ndvi_min = excluded.ndvi_min, ndvi_max = excluded.ndvi_max,
			ndmi_mean = excluded.ndmi_mean, ndmi_min = excluded.ndmi_min, ndmi_max = excluded.ndmi_max,
			savi_mean = excluded.savi_mean, savi_min = excluded.savi_min, savi_max = excluded.savi_max,
			cloud_pct_mean = excluded.cloud_pct_mean,
			temp_mean_c = excluded.temp_mean_c, temp_min_c = excluded.temp_min_c,
			temp_max_c = excluded.temp_max_c, precip_mm = excluded.precip_mm,
			best_scene_view_id = CASE
				WHEN excluded.best_scene_cloud_pct IS NOT NULL
					AND (monthly_indices.best_scene_cloud_pct IS NULL
						OR excluded.best_scene_cloud_pct < monthly_indices.best_scene_cloud_pct)
				THEN excluded.best_scene_view_id ELSE monthly_indices.best_scene_view_id END,
			best_scene_date = CASE
				WHEN excluded.best_scene_cloud_pct IS NOT NULL
					AND (monthly_indices.best_scene_cloud_pct IS NULL
						OR excluded.best_scene_cloud_pct < monthly_indices.best_scene_cloud_pct)
				THEN excluded.best_scene_date ELSE monthly_indices.best_scene_date END,
			best_scene_cloud_pct = CASE
				WHEN excluded.best_scene_cloud_pct IS NOT NULL
					AND (monthly_indices.best_scene_cloud_pct IS NULL
						OR excluded.best_scene_cloud_pct < monthly_indices.best_scene_cloud_pct)
				THEN excluded.best_scene_cloud_pct ELSE monthly_indices.best_scene_cloud_pct END,
			image_paths = COALESCE(excluded.image_paths, monthly_indices.image_paths),
			quality = excluded.quality, source = excluded.source,
			updated_at = excluded.updated_at`,
		m.ParcelID, m.Year, m.Month,
		nf(m.NDVI.Mean), nf(m.NDVI.Min), nf(m.NDVI.Max),
		nf(m.NDMI.Mean), nf(m.NDMI.Min), nf(m.NDMI.Max),
		nf(m.SAVI.Mean), nf(m.SAVI.Min), nf(m.SAVI.Max),
		nf(m.CloudPctMean), nf(m.TempMeanC), nf(m.TempMinC), nf(m.TempMaxC), nf(m.PrecipMM),
		m.BestSceneViewID, nt(m.BestSceneDate), nf(m.BestSceneCloudPct),
		imagePaths, string(m.Quality), string(m.Source), m.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert monthly %s %d-%02d", m.ParcelID, m.Year, m.Month)
}

// BulkInsertMonthly COPYs fresh monthly rows for a parcel in one round trip.
// Used by migrations and backfills where the rows are known to be new.
func (s *PostgresStore) BulkInsertMonthly(ctx context.Context, rows []model.MonthlyIndex) (int64, error) {
	now := s.now()
	data := make([][]any, 0, len(rows))
	for _, m := range rows {
		var imagePaths any
		if len(m.ImagePaths) > 0 {
			b, err := json.Marshal(m.ImagePaths)
			if err != nil {
				return 0, eris.Wrap(err, "postgres: marshal image paths")
			}
			imagePaths = string(b)
		}
		data = append(data, []any{
			m.ParcelID, m.Year, m.Month,
			nf(m.NDVI.Mean), nf(m.NDVI.Min), nf(m.NDVI.Max),
			nf(m.NDMI.Mean), nf(m.NDMI.Min), nf(m.NDMI.Max),
			nf(m.SAVI.Mean), nf(m.SAVI.Min), nf(m.SAVI.Max),
			nf(m.CloudPctMean), nf(m.TempMeanC), nf(m.TempMinC), nf(m.TempMaxC), nf(m.PrecipMM),
			m.BestSceneViewID, nt(m.BestSceneDate), nf(m.BestSceneCloudPct),
			imagePaths, string(m.Quality), string(m.Source), now,
		})
	}

	return db.CopyFrom(ctx, s.pool, "monthly_indices", []string{
		"parcel_id", "year", "month",
		"ndvi_mean", "ndvi_min", "ndvi_max",
		"ndmi_mean", "ndmi_min", "ndmi_max",
		"savi_mean", "savi_min", "savi_max",
		"cloud_pct_mean", "temp_mean_c", "temp_min_c", "temp_max_c", "precip_mm",
		"best_scene_view_id", "best_scene_date", "best_scene_cloud_pct",
		"image_paths", "quality", "source", "updated_at",
	}, data)
}

func (s *PostgresStore) ListMonthly(ctx context.Context, parcelID string, from, to time.Time) ([]model.MonthlyIndex, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+monthlyColumns+` FROM monthly_indices
		 WHERE parcel_id = $1 AND (year * 100 + month) >= $2 AND (year * 100 + month) <= $3
		 ORDER BY year, month`,
		parcelID, from.Year()*100+int(from.Month()), to.Year()*100+int(to.Month()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list monthly")
	}
	defer rows.Close()

	var out []model.MonthlyIndex
	for rows.Next() {
		m, err := scanMonthlyPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list monthly iterate")
}

func (s *PostgresStore) SetMonthlyImagePath(ctx context.Context, parcelID string, year, month int, index model.IndexName, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE monthly_indices
		 SET image_paths = COALESCE(image_paths, '{}'::jsonb) || jsonb_build_object($1::text, $2::text),
			updated_at = $3
		 WHERE parcel_id = $4 AND year = $5 AND month = $6`,
		string(index), path, s.now(), parcelID, year, month,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set image path")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("monthly row not found: %s %d-%02d", parcelID, year, month)
	}
	return nil
}

// --- provider response cache ---

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, field_id, date_start, date_end, indices, payload,
			scene_count, mean_cloud_pct, task_id, created_at, valid_until, use_count, last_used_at
		 FROM cache_entries WHERE key = $1`, key)

	var e model.CacheEntry
	err := row.Scan(&e.Key, &e.FieldID, &e.DateStart, &e.DateEnd, &e.Indices, &e.Payload,
		&e.SceneCount, &e.MeanCloudPct, &e.TaskID, &e.CreatedAt, &e.ValidUntil, &e.UseCount, &e.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}

	now := s.now()
	if !e.ValidUntil.After(now) {
		_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key)
		return nil, eris.Wrap(err, "postgres: delete expired cache entry")
	}

	e.UseCount++
	e.LastUsedAt = now
	_, err = s.pool.Exec(ctx,
		`UPDATE cache_entries SET use_count = use_count + 1, last_used_at = $1 WHERE key = $2`,
		now, key,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: bump cache use count")
	}
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, field_id, date_start, date_end, indices, payload,
			scene_count, mean_cloud_pct, task_id, created_at, valid_until, use_count, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (key) DO UPDATE SET
			field_id = excluded.field_id, date_start = excluded.date_start,
			date_end = excluded.date_end, indices = excluded.indices,
			payload = excluded.payload, scene_count = excluded.scene_count,
			mean_cloud_pct = excluded.mean_cloud_pct, task_id = excluded.task_id,
			created_at = excluded.created_at, valid_until = excluded.valid_until,
			use_count = 0, last_used_at = excluded.last_used_at`,
		e.Key, e.FieldID, e.DateStart, e.DateEnd, e.Indices, e.Payload,
		e.SceneCount, e.MeanCloudPct, e.TaskID, e.CreatedAt, e.ValidUntil, e.UseCount, e.LastUsedAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE valid_until <= $1`, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

// --- usage ledger ---

func (s *PostgresStore) RecordUsage(ctx context.Context, ev *model.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (id, user_id, parcel_id, operation, endpoint, http_method,
			success, status_code, response_ms, requests_consumed, served_from_cache,
			cache_key, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.UserID, nullString(ev.ParcelID), string(ev.Operation), ev.Endpoint, ev.HTTPMethod,
		ev.Success, ev.StatusCode, ev.ResponseMS, ev.RequestsConsumed, ev.ServedFromCache,
		ev.CacheKey, ev.ErrorMessage, ev.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record usage")
}

func (s *PostgresStore) UserStats(ctx context.Context, userID string, since time.Time) (*model.UsageStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(requests_consumed), 0),
			COUNT(*) FILTER (WHERE served_from_cache),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(AVG(response_ms), 0)
		 FROM usage_events WHERE ($1 = '' OR user_id = $1) AND created_at >= $2`,
		userID, since,
	)
	var st model.UsageStats
	if err := row.Scan(&st.RequestsConsumedTotal, &st.CacheHits, &st.Successes, &st.Failures, &st.MeanResponseMS); err != nil {
		return nil, eris.Wrap(err, "postgres: user stats")
	}
	return &st, nil
}

// --- reports ---

func (s *PostgresStore) CreateReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	narrative, err := json.Marshal(r.Narrative)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal narrative")
	}
	var means any
	if len(r.IndexPeriodMeans) > 0 {
		b, err := json.Marshal(r.IndexPeriodMeans)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal index means")
		}
		means = string(b)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, parcel_id, title, period_months, date_start, date_end,
			config_snapshot, pdf_path, generated_at, narrative, index_means,
			price_base, discount_pct, amount_paid, due_date, status_pay)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.ParcelID, r.Title, r.PeriodMonths, r.DateStart, r.DateEnd,
		string(r.ConfigSnapshot), r.PDFPath, r.GeneratedAt, string(narrative), means,
		r.PriceBase, r.DiscountPct, r.AmountPaid, nt(r.DueDate), string(r.StatusPay),
	)
	return eris.Wrap(err, "postgres: insert report")
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	return scanReportPG(row)
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	var args []any
	arg := 0

	if filter.ParcelID != "" {
		arg++
		query += ` AND parcel_id = $1`
		args = append(args, filter.ParcelID)
	}
	query += ` ORDER BY generated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	arg++
	query += ` LIMIT $` + strconv.Itoa(arg)
	args = append(args, limit)

	if filter.Offset > 0 {
		arg++
		query += ` OFFSET $` + strconv.Itoa(arg)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		r, err := scanReportPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) UpdateReportPayment(ctx context.Context, id string, priceBase, discountPct, amountPaid float64, due *time.Time, status model.PayStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET price_base = $1, discount_pct = $2, amount_paid = $3, due_date = $4, status_pay = $5 WHERE id = $6`,
		priceBase, discountPct, amountPaid, nt(due), string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update report payment %s", id)
	}
	return checkTag(tag, "report", id)
}

// --- narrative cache ---

func (s *PostgresStore) GetNarrative(ctx context.Context, key string) (*model.NarrativeSections, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT sections, expires_at FROM narrative_cache WHERE key = $1`, key)

	var sectionsJSON []byte
	var expiresAt time.Time
	err := row.Scan(&sectionsJSON, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get narrative")
	}
	if !expiresAt.After(s.now()) {
		_, err := s.pool.Exec(ctx, `DELETE FROM narrative_cache WHERE key = $1`, key)
		return nil, eris.Wrap(err, "postgres: delete expired narrative")
	}

	var sections model.NarrativeSections
	if err := json.Unmarshal(sectionsJSON, &sections); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal narrative")
	}
	return &sections, nil
}

func (s *PostgresStore) SetNarrative(ctx context.Context, key string, sections model.NarrativeSections, ttl time.Duration) error {
	b, err := json.Marshal(sections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal narrative")
	}
	now := s.now()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO narrative_cache (key, sections, created_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET sections = excluded.sections,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, string(b), now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set narrative")
}

// --- crop thresholds ---

func (s *PostgresStore) GetCropThresholds(ctx context.Context, crop, phase string) (*model.CropThresholds, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT crop, phase, critical, moderate, optimal FROM crop_thresholds
		 WHERE crop = $1 AND phase = $2`, crop, phase)

	var t model.CropThresholds
	err := row.Scan(&t.Crop, &t.Phase, &t.Critical, &t.Moderate, &t.Optimal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get crop thresholds")
	}
	return &t, nil
}

func (s *PostgresStore) PutCropThresholds(ctx context.Context, t *model.CropThresholds) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crop_thresholds (crop, phase, critical, moderate, optimal)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (crop, phase) DO UPDATE SET
			critical = excluded.critical, moderate = excluded.moderate, optimal = excluded.optimal`,
		t.Crop, t.Phase, t.Critical, t.Moderate, t.Optimal,
	)
	return eris.Wrap(err, "postgres: put crop thresholds")
}

// --- helpers ---

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanParcelPG(row pgx.Row) (*model.Parcel, error) {
	var p model.Parcel
	var extID *string

	err := row.Scan(&p.ID, &p.Name, &p.OwnerLabel, &p.OwnerID, &p.CropType, &p.GeometryGeoJSON,
		&p.AreaHa, &p.PerimeterM, &p.Centroid.Lng, &p.Centroid.Lat,
		&p.BBox.MinLng, &p.BBox.MinLat, &p.BBox.MaxLng, &p.BBox.MaxLat,
		&extID, &p.SyncState, &p.LastSyncError,
		&p.MonitoringStart, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "parcel")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan parcel")
	}
	if extID != nil {
		p.ExternalFieldID = *extID
	}
	return &p, nil
}

func scanMonthlyPG(row pgx.Row) (*model.MonthlyIndex, error) {
	var m model.MonthlyIndex
	var imagePaths []byte
	var quality, source string

	err := row.Scan(&m.ParcelID, &m.Year, &m.Month,
		&m.NDVI.Mean, &m.NDVI.Min, &m.NDVI.Max,
		&m.NDMI.Mean, &m.NDMI.Min, &m.NDMI.Max,
		&m.SAVI.Mean, &m.SAVI.Min, &m.SAVI.Max,
		&m.CloudPctMean, &m.TempMeanC, &m.TempMinC, &m.TempMaxC, &m.PrecipMM,
		&m.BestSceneViewID, &m.BestSceneDate, &m.BestSceneCloudPct,
		&imagePaths, &quality, &source, &m.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan monthly")
	}

	if len(imagePaths) > 0 {
		if err := json.Unmarshal(imagePaths, &m.ImagePaths); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal image paths")
		}
	}
	m.Quality = model.QualityTag(quality)
	m.Source = model.SourceTag(source)
	return &m, nil
}

func scanReportPG(row pgx.Row) (*model.Report, error) {
	var r model.Report
	var snapshot, narrative []byte
	var means []byte
	var status string

	err := row.Scan(&r.ID, &r.ParcelID, &r.Title, &r.PeriodMonths, &r.DateStart, &r.DateEnd,
		&snapshot, &r.PDFPath, &r.GeneratedAt, &narrative, &means,
		&r.PriceBase, &r.DiscountPct, &r.AmountPaid, &r.DueDate, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "report")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan report")
	}

	r.ConfigSnapshot = json.RawMessage(snapshot)
	if err := json.Unmarshal(narrative, &r.Narrative); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal narrative")
	}
	if len(means) > 0 {
		if err := json.Unmarshal(means, &r.IndexPeriodMeans); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal index means")
		}
	}
	r.StatusPay = model.PayStatus(status)
	return &r, nil
}
