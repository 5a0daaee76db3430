package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS events (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'competitive'
);

CREATE TABLE IF NOT EXISTS event_stages (
	id          TEXT PRIMARY KEY,
	event_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	stage_order INTEGER NOT NULL DEFAULT 0,
	date        DATETIME
);

CREATE TABLE IF NOT EXISTS stage_results (
	id                       TEXT PRIMARY KEY,
	stage_id                 TEXT NOT NULL REFERENCES event_stages(id),
	user_id                  TEXT NOT NULL,
	elapsed_time_seconds     INTEGER NOT NULL DEFAULT 0,
	official_time_seconds    INTEGER,
	mountain_points          INTEGER NOT NULL DEFAULT 0,
	official_mountain_points INTEGER,
	status                   TEXT NOT NULL DEFAULT 'pending',
	strava_activity_id       TEXT,
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (stage_id, user_id)
);

CREATE TABLE IF NOT EXISTS stage_segments (
	id                TEXT PRIMARY KEY,
	stage_id          TEXT NOT NULL REFERENCES event_stages(id),
	name              TEXT NOT NULL,
	strava_segment_id TEXT NOT NULL DEFAULT '',
	distance_meters   REAL,
	avg_grade_percent REAL,
	category          TEXT NOT NULL DEFAULT 'cat4',
	points_scale      TEXT NOT NULL DEFAULT '[]',
	segment_order     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS segment_results (
	id                   TEXT PRIMARY KEY,
	segment_id           TEXT NOT NULL REFERENCES stage_segments(id),
	stage_id             TEXT NOT NULL,
	user_id              TEXT NOT NULL,
	elapsed_time_seconds INTEGER NOT NULL,
	position             INTEGER,
	points_earned        INTEGER,
	status               TEXT NOT NULL DEFAULT 'pending',
	strava_effort_id     TEXT,
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS event_participants (
	event_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	full_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS publish_runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	stage_id   TEXT NOT NULL,
	segment_id TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS finalize_retry_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	stage_id       TEXT NOT NULL,
	payload        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_stages_event ON event_stages(event_id, stage_order);
CREATE INDEX IF NOT EXISTS idx_stage_results_stage ON stage_results(stage_id);
CREATE INDEX IF NOT EXISTS idx_stage_segments_stage ON stage_segments(stage_id, segment_order);
CREATE INDEX IF NOT EXISTS idx_segment_results_segment ON segment_results(segment_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_segment_results_user ON segment_results(segment_id, user_id);
CREATE INDEX IF NOT EXISTS idx_publish_runs_stage ON publish_runs(stage_id, created_at);
CREATE INDEX IF NOT EXISTS idx_finalize_retry_next ON finalize_retry_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var e model.Event
	err := s.db.QueryRowContext(ctx, `SELECT id, name, mode FROM events WHERE id = ?`, eventID).
		Scan(&e.ID, &e.Name, &e.Mode)
	if err != nil {
		return nil, sqliteNotFound(err, "event", eventID)
	}
	return &e, nil
}

func (s *SQLiteStore) GetStage(ctx context.Context, stageID string) (*model.Stage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, name, stage_order, date FROM event_stages WHERE id = ?`, stageID)
	st, err := scanStage(row)
	if err != nil {
		return nil, sqliteNotFound(err, "stage", stageID)
	}
	return st, nil
}

func (s *SQLiteStore) ListStages(ctx context.Context, eventID string) ([]model.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, name, stage_order, date FROM event_stages WHERE event_id = ? ORDER BY stage_order, id`,
		eventID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stages")
	}
	defer rows.Close()

	var stages []model.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		stages = append(stages, *st)
	}
	return stages, eris.Wrap(rows.Err(), "sqlite: list stages iterate")
}

func (s *SQLiteStore) ListStageResults(ctx context.Context, stageIDs ...string) ([]model.StageResult, error) {
	if len(stageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stageResultColumns+` FROM stage_results WHERE stage_id IN (`+placeholders(len(stageIDs))+`)
		 ORDER BY elapsed_time_seconds, user_id`,
		anySlice(stageIDs)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage results")
	}
	return scanStageResults(rows)
}

func (s *SQLiteStore) ListSegments(ctx context.Context, stageID string) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM stage_segments WHERE stage_id = ? ORDER BY segment_order, id`, stageID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list segments")
	}
	return scanSegments(rows)
}

func (s *SQLiteStore) ListEventSegments(ctx context.Context, eventID string) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.stage_id, s.name, s.strava_segment_id, s.distance_meters, s.avg_grade_percent,
		        s.category, s.points_scale, s.segment_order
		 FROM stage_segments s JOIN event_stages st ON st.id = s.stage_id
		 WHERE st.event_id = ?
		 ORDER BY st.stage_order, s.segment_order, s.id`, eventID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list event segments")
	}
	return scanSegments(rows)
}

func (s *SQLiteStore) ListSegmentResults(ctx context.Context, segmentIDs ...string) ([]model.SegmentResult, error) {
	if len(segmentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentResultColumns+` FROM segment_results WHERE segment_id IN (`+placeholders(len(segmentIDs))+`)
		 ORDER BY elapsed_time_seconds, user_id, id`,
		anySlice(segmentIDs)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list segment results")
	}
	defer rows.Close()

	var results []model.SegmentResult
	for rows.Next() {
		var r model.SegmentResult
		var pos, pts sql.NullInt64
		var effort sql.NullString
		if err := rows.Scan(&r.ID, &r.SegmentID, &r.StageID, &r.UserID, &r.ElapsedTimeSeconds,
			&pos, &pts, &r.Status, &effort); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan segment result")
		}
		r.Position, r.PointsEarned, r.StravaEffortID = intPtr(pos), intPtr(pts), strPtr(effort)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: segment results iterate")
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM event_participants WHERE event_id = ? ORDER BY user_id`, eventID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list participants")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan participant")
		}
		users = append(users, id)
	}
	return users, eris.Wrap(rows.Err(), "sqlite: participants iterate")
}

func (s *SQLiteStore) GetProfiles(ctx context.Context, userIDs ...string) (map[string]model.Profile, error) {
	profiles := make(map[string]model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name, email, avatar_url FROM profiles WHERE id IN (`+placeholders(len(userIDs))+`)`,
		anySlice(userIDs)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profiles")
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.AvatarURL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile")
		}
		profiles[p.ID] = p
	}
	return profiles, eris.Wrap(rows.Err(), "sqlite: profiles iterate")
}

func (s *SQLiteStore) ApplyStagePublish(ctx context.Context, stageID string, rows []StagePublishRow) ([]model.StageResult, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: apply stage publish: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	users := make([]string, len(rows))
	for i, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stage_results
			 (id, stage_id, user_id, elapsed_time_seconds, mountain_points,
			  official_time_seconds, official_mountain_points, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (stage_id, user_id) DO UPDATE SET
			   official_time_seconds = excluded.official_time_seconds,
			   official_mountain_points = excluded.official_mountain_points,
			   status = excluded.status,
			   updated_at = excluded.updated_at`,
			r.ID, stageID, r.UserID, r.ElapsedTimeSeconds, r.MountainPoints,
			r.OfficialTimeSeconds, r.OfficialMountainPoints, string(r.Status), now, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert stage result %s/%s", stageID, r.UserID)
		}
		users[i] = r.UserID
	}

	q, err := tx.QueryContext(ctx,
		`SELECT `+stageResultColumns+` FROM stage_results WHERE stage_id = ? AND user_id IN (`+placeholders(len(users))+`)
		 ORDER BY elapsed_time_seconds, user_id`,
		append([]any{stageID}, anySlice(users)...)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: apply stage publish: read back")
	}
	stored, err := scanStageResults(q)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: apply stage publish: commit")
	}
	return stored, nil
}

func (s *SQLiteStore) ApplySegmentPublish(ctx context.Context, rows []SegmentPublishRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: apply segment publish: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range rows {
		res, err := tx.ExecContext(ctx,
			`UPDATE segment_results SET position = ?, points_earned = ?, status = ?, updated_at = ? WHERE id = ?`,
			r.Position, r.PointsEarned, string(r.Status), now, r.ID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: update segment result %s", r.ID)
		}
		if err := checkRowsAffected(res, "segment result", r.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: apply segment publish: commit")
	}
	return len(rows), nil
}

// Publish journal

func (s *SQLiteStore) CreatePublishRun(ctx context.Context, run *model.PublishRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_runs (`+publishRunColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.StageID, run.SegmentID, string(run.Status), run.RowCount, run.Error, now, now,
	)
	return eris.Wrap(err, "sqlite: insert publish run")
}

func (s *SQLiteStore) UpdatePublishRun(ctx context.Context, runID string, status model.PublishRunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publish_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update publish run %s", runID)
	}
	return checkRowsAffected(res, "publish run", runID)
}

func (s *SQLiteStore) GetPublishRun(ctx context.Context, runID string) (*model.PublishRun, error) {
	var r model.PublishRun
	err := s.db.QueryRowContext(ctx,
		`SELECT `+publishRunColumns+` FROM publish_runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Kind, &r.StageID, &r.SegmentID, &r.Status, &r.RowCount, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, sqliteNotFound(err, "publish run", runID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListPublishRuns(ctx context.Context, filter RunFilter) ([]model.PublishRun, error) {
	query := `SELECT ` + publishRunColumns + ` FROM publish_runs WHERE 1=1`
	var args []any

	if filter.StageID != "" {
		query += ` AND stage_id = ?`
		args = append(args, filter.StageID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list publish runs")
	}
	defer rows.Close()

	var runs []model.PublishRun
	for rows.Next() {
		var r model.PublishRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.StageID, &r.SegmentID, &r.Status, &r.RowCount,
			&r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan publish run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list publish runs iterate")
}

// Finalize retry queue

func (s *SQLiteStore) EnqueueFinalizeRetry(ctx context.Context, e resilience.FinalizeRetry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO finalize_retry_queue (`+retryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   payload = excluded.payload, error = excluded.error, error_type = excluded.error_type,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		e.ID, e.RunID, e.StageID, string(e.Payload), e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.NextRetryAt.UTC(), e.CreatedAt.UTC(), e.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue finalize retry")
}

func (s *SQLiteStore) DueFinalizeRetries(ctx context.Context, limit int) ([]resilience.FinalizeRetry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+retryColumns+` FROM finalize_retry_queue
		 WHERE next_retry_at <= ? AND retry_count < max_retries
		 ORDER BY next_retry_at ASC LIMIT ?`,
		time.Now().UTC(), defaultLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due finalize retries")
	}
	return scanSQLiteRetries(rows)
}

func (s *SQLiteStore) StageFinalizeRetries(ctx context.Context, stageID string) ([]resilience.FinalizeRetry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+retryColumns+` FROM finalize_retry_queue
		 WHERE stage_id = ? ORDER BY created_at ASC, id ASC`, stageID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: finalize retries of stage %s", stageID)
	}
	return scanSQLiteRetries(rows)
}

func scanSQLiteRetries(rows *sql.Rows) ([]resilience.FinalizeRetry, error) {
	defer rows.Close()

	var entries []resilience.FinalizeRetry
	for rows.Next() {
		var e resilience.FinalizeRetry
		var payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.StageID, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan finalize retry")
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: finalize retries iterate")
}

func (s *SQLiteStore) IncrementFinalizeRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE finalize_retry_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment finalize retry %s", id)
	}
	return checkRowsAffected(res, "finalize retry", id)
}

func (s *SQLiteStore) RemoveFinalizeRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM finalize_retry_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove finalize retry")
}

func (s *SQLiteStore) CountFinalizeRetries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM finalize_retry_queue WHERE retry_count < max_retries`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count finalize retries")
}

// Load inserts or replaces every fixture row in one transaction.
func (s *SQLiteStore) Load(ctx context.Context, f Fixture) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: load: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range fixtureTables(f) {
		stmt := `INSERT OR REPLACE INTO ` + t.cfg.Table + ` (` + strings.Join(t.cfg.Columns, ", ") +
			`) VALUES (` + placeholders(len(t.cfg.Columns)) + `)`
		for _, row := range t.rows {
			for i, v := range row {
				row[i] = sqliteValue(v)
			}
			if _, err := tx.ExecContext(ctx, stmt, row...); err != nil {
				return eris.Wrapf(err, "sqlite: load %s", t.cfg.Table)
			}
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: load: commit")
}

// helpers

func sqliteNotFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", what, id)
	}
	return eris.Wrapf(err, "sqlite: get %s %s", what, id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStage(row scannable) (*model.Stage, error) {
	var st model.Stage
	var date sql.NullTime
	if err := row.Scan(&st.ID, &st.EventID, &st.Name, &st.StageOrder, &date); err != nil {
		return nil, err
	}
	if date.Valid {
		st.Date = date.Time
	}
	return &st, nil
}

func scanStageResults(rows *sql.Rows) ([]model.StageResult, error) {
	defer rows.Close()

	var results []model.StageResult
	for rows.Next() {
		var r model.StageResult
		var official, officialPts sql.NullInt64
		var activity sql.NullString
		if err := rows.Scan(&r.ID, &r.StageID, &r.UserID, &r.ElapsedTimeSeconds, &official,
			&r.MountainPoints, &officialPts, &r.Status, &activity); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage result")
		}
		r.OfficialTimeSeconds, r.OfficialMountainPoints, r.StravaActivityID = intPtr(official), intPtr(officialPts), strPtr(activity)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: stage results iterate")
}

func scanSegments(rows *sql.Rows) ([]model.Segment, error) {
	defer rows.Close()

	var segments []model.Segment
	for rows.Next() {
		var seg model.Segment
		var dist, grade sql.NullFloat64
		var scale string
		if err := rows.Scan(&seg.ID, &seg.StageID, &seg.Name, &seg.StravaSegmentID, &dist, &grade,
			&seg.Category, &scale, &seg.SegmentOrder); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan segment")
		}
		seg.DistanceMeters, seg.AvgGradePercent = floatPtr(dist), floatPtr(grade)
		if err := decodeScale([]byte(scale), &seg); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, eris.Wrap(rows.Err(), "sqlite: segments iterate")
}

// sqliteValue dereferences optional fixture columns and stores JSON as text.
func sqliteValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case *int:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
