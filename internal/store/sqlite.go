package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/agrovista/satreport/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// now is the clock used for expiry comparisons; tests override it.
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parcels (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	owner_label       TEXT NOT NULL DEFAULT '',
	owner_id          TEXT NOT NULL DEFAULT '',
	crop_type         TEXT NOT NULL DEFAULT '',
	geometry          TEXT NOT NULL,
	area_ha           REAL NOT NULL,
	perimeter_m       REAL NOT NULL,
	centroid_lng      REAL NOT NULL,
	centroid_lat      REAL NOT NULL,
	bbox_min_lng      REAL NOT NULL,
	bbox_min_lat      REAL NOT NULL,
	bbox_max_lng      REAL NOT NULL,
	bbox_max_lat      REAL NOT NULL,
	external_field_id TEXT,
	sync_state        TEXT NOT NULL DEFAULT 'unsynced',
	last_sync_error   TEXT NOT NULL DEFAULT '',
	monitoring_start  DATETIME NOT NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS monthly_indices (
	parcel_id            TEXT NOT NULL REFERENCES parcels(id) ON DELETE CASCADE,
	year                 INTEGER NOT NULL,
	month                INTEGER NOT NULL,
	ndvi_mean            REAL,
	ndvi_min             REAL,
	ndvi_max             REAL,
	ndmi_mean            REAL,
	ndmi_min             REAL,
	ndmi_max             REAL,
	savi_mean            REAL,
	savi_min             REAL,
	savi_max             REAL,
	cloud_pct_mean       REAL,
	temp_mean_c          REAL,
	temp_min_c           REAL,
	temp_max_c           REAL,
	precip_mm            REAL,
	best_scene_view_id   TEXT NOT NULL DEFAULT '',
	best_scene_date      DATETIME,
	best_scene_cloud_pct REAL,
	image_paths          TEXT,
	quality              TEXT NOT NULL,
	source               TEXT NOT NULL,
	updated_at           DATETIME NOT NULL,
	PRIMARY KEY (parcel_id, year, month)
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key            TEXT PRIMARY KEY,
	field_id       TEXT NOT NULL,
	date_start     DATETIME NOT NULL,
	date_end       DATETIME NOT NULL,
	indices        TEXT NOT NULL,
	payload        BLOB NOT NULL,
	scene_count    INTEGER NOT NULL DEFAULT 0,
	mean_cloud_pct REAL NOT NULL DEFAULT 0,
	task_id        TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	valid_until    DATETIME NOT NULL,
	use_count      INTEGER NOT NULL DEFAULT 0,
	last_used_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_events (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	parcel_id         TEXT,
	operation         TEXT NOT NULL,
	endpoint          TEXT NOT NULL,
	http_method       TEXT NOT NULL,
	success           INTEGER NOT NULL,
	status_code       INTEGER NOT NULL DEFAULT 0,
	response_ms       INTEGER NOT NULL DEFAULT 0,
	requests_consumed INTEGER NOT NULL DEFAULT 0,
	served_from_cache INTEGER NOT NULL DEFAULT 0,
	cache_key         TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	parcel_id       TEXT NOT NULL REFERENCES parcels(id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	period_months   INTEGER NOT NULL,
	date_start      DATETIME NOT NULL,
	date_end        DATETIME NOT NULL,
	config_snapshot TEXT NOT NULL,
	pdf_path        TEXT NOT NULL,
	generated_at    DATETIME NOT NULL,
	narrative       TEXT NOT NULL,
	index_means     TEXT,
	price_base      REAL NOT NULL DEFAULT 0,
	discount_pct    REAL NOT NULL DEFAULT 0,
	amount_paid     REAL NOT NULL DEFAULT 0,
	due_date        DATETIME,
	status_pay      TEXT NOT NULL DEFAULT 'none'
);

CREATE TABLE IF NOT EXISTS narrative_cache (
	key        TEXT PRIMARY KEY,
	sections   TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crop_thresholds (
	crop     TEXT NOT NULL,
	phase    TEXT NOT NULL DEFAULT '',
	critical REAL NOT NULL,
	moderate REAL NOT NULL,
	optimal  REAL NOT NULL,
	PRIMARY KEY (crop, phase)
);

CREATE INDEX IF NOT EXISTS idx_parcels_owner ON parcels(owner_id);
CREATE INDEX IF NOT EXISTS idx_monthly_parcel ON monthly_indices(parcel_id);
CREATE INDEX IF NOT EXISTS idx_cache_valid_until ON cache_entries(valid_until);
CREATE INDEX IF NOT EXISTS idx_usage_user_created ON usage_events(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reports_parcel ON reports(parcel_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- parcels ---

func (s *SQLiteStore) CreateParcel(ctx context.Context, p *model.Parcel) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.SyncState == "" {
		p.SyncState = model.SyncStateUnsynced
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parcels (id, name, owner_label, owner_id, crop_type, geometry,
			area_ha, perimeter_m, centroid_lng, centroid_lat,
			bbox_min_lng, bbox_min_lat, bbox_max_lng, bbox_max_lat,
			external_field_id, sync_state, last_sync_error,
			monitoring_start, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerLabel, p.OwnerID, p.CropType, p.GeometryGeoJSON,
		p.AreaHa, p.PerimeterM, p.Centroid.Lng, p.Centroid.Lat,
		p.BBox.MinLng, p.BBox.MinLat, p.BBox.MaxLng, p.BBox.MaxLat,
		nullString(p.ExternalFieldID), string(p.SyncState), p.LastSyncError,
		p.MonitoringStart, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert parcel")
}

// SetClock overrides the store's time source. Used by tests to exercise
// expiry behavior.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

const parcelColumns = `id, name, owner_label, owner_id, crop_type, geometry,
	area_ha, perimeter_m, centroid_lng, centroid_lat,
	bbox_min_lng, bbox_min_lat, bbox_max_lng, bbox_max_lat,
	external_field_id, sync_state, last_sync_error,
	monitoring_start, created_at, updated_at`

func (s *SQLiteStore) GetParcel(ctx context.Context, id string) (*model.Parcel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+parcelColumns+` FROM parcels WHERE id = ?`, id)
	return scanParcel(row)
}

func (s *SQLiteStore) ListParcels(ctx context.Context) ([]model.Parcel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+parcelColumns+` FROM parcels ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list parcels")
	}
	defer rows.Close()

	var out []model.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list parcels iterate")
}

func (s *SQLiteStore) SaveParcel(ctx context.Context, p *model.Parcel) error {
	p.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE parcels SET name = ?, owner_label = ?, crop_type = ?, geometry = ?,
			area_ha = ?, perimeter_m = ?, centroid_lng = ?, centroid_lat = ?,
			bbox_min_lng = ?, bbox_min_lat = ?, bbox_max_lng = ?, bbox_max_lat = ?,
			updated_at = ?
		 WHERE id = ?`,
		p.Name, p.OwnerLabel, p.CropType, p.GeometryGeoJSON,
		p.AreaHa, p.PerimeterM, p.Centroid.Lng, p.Centroid.Lat,
		p.BBox.MinLng, p.BBox.MinLat, p.BBox.MaxLng, p.BBox.MaxLat,
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save parcel %s", p.ID)
	}
	return checkRowsAffected(res, "parcel", p.ID)
}

func (s *SQLiteStore) BindFieldID(ctx context.Context, parcelID, fieldID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parcels SET external_field_id = ?, sync_state = ?, last_sync_error = '', updated_at = ?
		 WHERE id = ? AND external_field_id IS NULL`,
		fieldID, string(model.SyncStateSynced), s.now(), parcelID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: bind field id %s", parcelID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("parcel %s not found or already bound", parcelID)
	}
	return nil
}

func (s *SQLiteStore) SetSyncState(ctx context.Context, parcelID string, state model.SyncState, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parcels SET sync_state = ?, last_sync_error = ?, updated_at = ? WHERE id = ?`,
		string(state), lastErr, s.now(), parcelID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set sync state %s", parcelID)
	}
	return checkRowsAffected(res, "parcel", parcelID)
}

func (s *SQLiteStore) DeleteParcel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parcels WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete parcel %s", id)
	}
	return checkRowsAffected(res, "parcel", id)
}

// --- monthly aggregates ---

// UpsertMonthly writes a monthly row, preserving the best-scene fields
// unless the candidate has strictly lower cloud cover, and preserving stored
// image paths when the candidate carries none.
func (s *SQLiteStore) UpsertMonthly(ctx context.Context, m *model.MonthlyIndex) error {
	m.UpdatedAt = s.now()

	var imagePaths any
	if len(m.ImagePaths) > 0 {
		b, err := json.Marshal(m.ImagePaths)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal image paths")
		}
		imagePaths = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monthly_indices (parcel_id, year, month,
			ndvi_mean, ndvi_min, ndvi_max,
			ndmi_mean, ndmi_min, ndmi_max,
			savi_mean, savi_min, savi_max,
			cloud_pct_mean, temp_mean_c, temp_min_c, temp_max_c, precip_mm,
			best_scene_view_id, best_scene_date, best_scene_cloud_pct,
			image_paths, quality, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(parcel_id, year, month) DO UPDATE SET
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
	return eris.Wrapf(err, "sqlite: upsert monthly %s %d-%02d", m.ParcelID, m.Year, m.Month)
}

const monthlyColumns = `parcel_id, year, month,
	ndvi_mean, ndvi_min, ndvi_max,
	ndmi_mean, ndmi_min, ndmi_max,
	savi_mean, savi_min, savi_max,
	cloud_pct_mean, temp_mean_c, temp_min_c, temp_max_c, precip_mm,
	best_scene_view_id, best_scene_date, best_scene_cloud_pct,
	image_paths, quality, source, updated_at`

func (s *SQLiteStore) ListMonthly(ctx context.Context, parcelID string, from, to time.Time) ([]model.MonthlyIndex, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+monthlyColumns+` FROM monthly_indices
		 WHERE parcel_id = ? AND (year * 100 + month) >= ? AND (year * 100 + month) <= ?
		 ORDER BY year, month`,
		parcelID, from.Year()*100+int(from.Month()), to.Year()*100+int(to.Month()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list monthly")
	}
	defer rows.Close()

	var out []model.MonthlyIndex
	for rows.Next() {
		m, err := scanMonthly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list monthly iterate")
}

func (s *SQLiteStore) SetMonthlyImagePath(ctx context.Context, parcelID string, year, month int, index model.IndexName, path string) error {
	var current sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT image_paths FROM monthly_indices WHERE parcel_id = ? AND year = ? AND month = ?`,
		parcelID, year, month,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Errorf("monthly row not found: %s %d-%02d", parcelID, year, month)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read image paths")
	}

	paths := map[model.IndexName]string{}
	if current.Valid && current.String != "" {
		if err := json.Unmarshal([]byte(current.String), &paths); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal image paths")
		}
	}
	paths[index] = path

	b, err := json.Marshal(paths)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal image paths")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE monthly_indices SET image_paths = ?, updated_at = ? WHERE parcel_id = ? AND year = ? AND month = ?`,
		string(b), s.now(), parcelID, year, month,
	)
	return eris.Wrap(err, "sqlite: set image path")
}

// --- provider response cache ---

// GetCacheEntry returns nil for absent or expired keys. Expired entries are
// deleted lazily; a served entry gets its use counter bumped.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, field_id, date_start, date_end, indices, payload,
			scene_count, mean_cloud_pct, task_id, created_at, valid_until, use_count, last_used_at
		 FROM cache_entries WHERE key = ?`, key)

	var e model.CacheEntry
	err := row.Scan(&e.Key, &e.FieldID, &e.DateStart, &e.DateEnd, &e.Indices, &e.Payload,
		&e.SceneCount, &e.MeanCloudPct, &e.TaskID, &e.CreatedAt, &e.ValidUntil, &e.UseCount, &e.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}

	now := s.now()
	if !e.ValidUntil.After(now) {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, eris.Wrap(err, "sqlite: delete expired cache entry")
	}

	e.UseCount++
	e.LastUsedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE cache_entries SET use_count = use_count + 1, last_used_at = ? WHERE key = ?`,
		now, key,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: bump cache use count")
	}
	return &e, nil
}

// PutCacheEntry replaces any existing entry under the same key.
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, field_id, date_start, date_end, indices, payload,
			scene_count, mean_cloud_pct, task_id, created_at, valid_until, use_count, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			field_id = excluded.field_id, date_start = excluded.date_start,
			date_end = excluded.date_end, indices = excluded.indices,
			payload = excluded.payload, scene_count = excluded.scene_count,
			mean_cloud_pct = excluded.mean_cloud_pct, task_id = excluded.task_id,
			created_at = excluded.created_at, valid_until = excluded.valid_until,
			use_count = 0, last_used_at = excluded.last_used_at`,
		e.Key, e.FieldID, e.DateStart, e.DateEnd, e.Indices, e.Payload,
		e.SceneCount, e.MeanCloudPct, e.TaskID, e.CreatedAt, e.ValidUntil, e.UseCount, e.LastUsedAt,
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE valid_until <= ?`, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- usage ledger ---

func (s *SQLiteStore) RecordUsage(ctx context.Context, ev *model.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, user_id, parcel_id, operation, endpoint, http_method,
			success, status_code, response_ms, requests_consumed, served_from_cache,
			cache_key, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, nullString(ev.ParcelID), string(ev.Operation), ev.Endpoint, ev.HTTPMethod,
		boolInt(ev.Success), ev.StatusCode, ev.ResponseMS, ev.RequestsConsumed, boolInt(ev.ServedFromCache),
		ev.CacheKey, ev.ErrorMessage, ev.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record usage")
}

func (s *SQLiteStore) UserStats(ctx context.Context, userID string, since time.Time) (*model.UsageStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(requests_consumed), 0),
			COALESCE(SUM(served_from_cache), 0),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(1 - success), 0),
			COALESCE(AVG(response_ms), 0)
		 FROM usage_events WHERE (? = '' OR user_id = ?) AND created_at >= ?`,
		userID, userID, since,
	)
	var st model.UsageStats
	if err := row.Scan(&st.RequestsConsumedTotal, &st.CacheHits, &st.Successes, &st.Failures, &st.MeanResponseMS); err != nil {
		return nil, eris.Wrap(err, "sqlite: user stats")
	}
	return &st, nil
}

// --- reports ---

func (s *SQLiteStore) CreateReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	narrative, err := json.Marshal(r.Narrative)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal narrative")
	}
	var means any
	if len(r.IndexPeriodMeans) > 0 {
		b, err := json.Marshal(r.IndexPeriodMeans)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal index means")
		}
		means = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, parcel_id, title, period_months, date_start, date_end,
			config_snapshot, pdf_path, generated_at, narrative, index_means,
			price_base, discount_pct, amount_paid, due_date, status_pay)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParcelID, r.Title, r.PeriodMonths, r.DateStart, r.DateEnd,
		string(r.ConfigSnapshot), r.PDFPath, r.GeneratedAt, string(narrative), means,
		r.PriceBase, r.DiscountPct, r.AmountPaid, nt(r.DueDate), string(r.StatusPay),
	)
	return eris.Wrap(err, "sqlite: insert report")
}

const reportColumns = `id, parcel_id, title, period_months, date_start, date_end,
	config_snapshot, pdf_path, generated_at, narrative, index_means,
	price_base, discount_pct, amount_paid, due_date, status_pay`

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	var args []any

	if filter.ParcelID != "" {
		query += ` AND parcel_id = ?`
		args = append(args, filter.ParcelID)
	}
	query += ` ORDER BY generated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) UpdateReportPayment(ctx context.Context, id string, priceBase, discountPct, amountPaid float64, due *time.Time, status model.PayStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET price_base = ?, discount_pct = ?, amount_paid = ?, due_date = ?, status_pay = ? WHERE id = ?`,
		priceBase, discountPct, amountPaid, nt(due), string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report payment %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

// --- narrative cache ---

func (s *SQLiteStore) GetNarrative(ctx context.Context, key string) (*model.NarrativeSections, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sections, expires_at FROM narrative_cache WHERE key = ?`, key)

	var sectionsJSON string
	var expiresAt time.Time
	err := row.Scan(&sectionsJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get narrative")
	}
	if !expiresAt.After(s.now()) {
		_, err := s.db.ExecContext(ctx, `DELETE FROM narrative_cache WHERE key = ?`, key)
		return nil, eris.Wrap(err, "sqlite: delete expired narrative")
	}

	var sections model.NarrativeSections
	if err := json.Unmarshal([]byte(sectionsJSON), &sections); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal narrative")
	}
	return &sections, nil
}

func (s *SQLiteStore) SetNarrative(ctx context.Context, key string, sections model.NarrativeSections, ttl time.Duration) error {
	b, err := json.Marshal(sections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal narrative")
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO narrative_cache (key, sections, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET sections = excluded.sections,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, string(b), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set narrative")
}

// --- crop thresholds ---

func (s *SQLiteStore) GetCropThresholds(ctx context.Context, crop, phase string) (*model.CropThresholds, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT crop, phase, critical, moderate, optimal FROM crop_thresholds
		 WHERE crop = ? AND phase = ?`, crop, phase)

	var t model.CropThresholds
	err := row.Scan(&t.Crop, &t.Phase, &t.Critical, &t.Moderate, &t.Optimal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get crop thresholds")
	}
	return &t, nil
}

func (s *SQLiteStore) PutCropThresholds(ctx context.Context, t *model.CropThresholds) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crop_thresholds (crop, phase, critical, moderate, optimal)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (crop, phase) DO UPDATE SET
			critical = excluded.critical, moderate = excluded.moderate, optimal = excluded.optimal`,
		t.Crop, t.Phase, t.Critical, t.Moderate, t.Optimal,
	)
	return eris.Wrap(err, "sqlite: put crop thresholds")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nf(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nt(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanParcel(row scannable) (*model.Parcel, error) {
	var p model.Parcel
	var extID sql.NullString

	err := row.Scan(&p.ID, &p.Name, &p.OwnerLabel, &p.OwnerID, &p.CropType, &p.GeometryGeoJSON,
		&p.AreaHa, &p.PerimeterM, &p.Centroid.Lng, &p.Centroid.Lat,
		&p.BBox.MinLng, &p.BBox.MinLat, &p.BBox.MaxLng, &p.BBox.MaxLat,
		&extID, &p.SyncState, &p.LastSyncError,
		&p.MonitoringStart, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "parcel")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan parcel")
	}
	if extID.Valid {
		p.ExternalFieldID = extID.String
	}
	return &p, nil
}

func scanMonthly(row scannable) (*model.MonthlyIndex, error) {
	var m model.MonthlyIndex
	var ndviMean, ndviMin, ndviMax sql.NullFloat64
	var ndmiMean, ndmiMin, ndmiMax sql.NullFloat64
	var saviMean, saviMin, saviMax sql.NullFloat64
	var cloud, tMean, tMin, tMax, precip, bestCloud sql.NullFloat64
	var bestDate sql.NullTime
	var imagePaths sql.NullString
	var quality, source string

	err := row.Scan(&m.ParcelID, &m.Year, &m.Month,
		&ndviMean, &ndviMin, &ndviMax,
		&ndmiMean, &ndmiMin, &ndmiMax,
		&saviMean, &saviMin, &saviMax,
		&cloud, &tMean, &tMin, &tMax, &precip,
		&m.BestSceneViewID, &bestDate, &bestCloud,
		&imagePaths, &quality, &source, &m.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan monthly")
	}

	m.NDVI = model.IndexAggregate{Mean: fp(ndviMean), Min: fp(ndviMin), Max: fp(ndviMax)}
	m.NDMI = model.IndexAggregate{Mean: fp(ndmiMean), Min: fp(ndmiMin), Max: fp(ndmiMax)}
	m.SAVI = model.IndexAggregate{Mean: fp(saviMean), Min: fp(saviMin), Max: fp(saviMax)}
	m.CloudPctMean = fp(cloud)
	m.TempMeanC = fp(tMean)
	m.TempMinC = fp(tMin)
	m.TempMaxC = fp(tMax)
	m.PrecipMM = fp(precip)
	m.BestSceneCloudPct = fp(bestCloud)
	if bestDate.Valid {
		d := bestDate.Time
		m.BestSceneDate = &d
	}
	if imagePaths.Valid && imagePaths.String != "" {
		if err := json.Unmarshal([]byte(imagePaths.String), &m.ImagePaths); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal image paths")
		}
	}
	m.Quality = model.QualityTag(quality)
	m.Source = model.SourceTag(source)
	return &m, nil
}

func scanReport(row scannable) (*model.Report, error) {
	var r model.Report
	var snapshot, narrative string
	var means sql.NullString
	var due sql.NullTime
	var status string

	err := row.Scan(&r.ID, &r.ParcelID, &r.Title, &r.PeriodMonths, &r.DateStart, &r.DateEnd,
		&snapshot, &r.PDFPath, &r.GeneratedAt, &narrative, &means,
		&r.PriceBase, &r.DiscountPct, &r.AmountPaid, &due, &status)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "report")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan report")
	}

	r.ConfigSnapshot = json.RawMessage(snapshot)
	if err := json.Unmarshal([]byte(narrative), &r.Narrative); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal narrative")
	}
	if means.Valid && means.String != "" {
		if err := json.Unmarshal([]byte(means.String), &r.IndexPeriodMeans); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal index means")
		}
	}
	if due.Valid {
		d := due.Time
		r.DueDate = &d
	}
	r.StatusPay = model.PayStatus(status)
	return &r, nil
}

func fp(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
