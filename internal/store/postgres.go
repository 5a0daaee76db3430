package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/keo-sports/stage-engine/internal/db"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/resilience"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

const (
	stageResultColumns   = `id, stage_id, user_id, elapsed_time_seconds, official_time_seconds, mountain_points, official_mountain_points, status, strava_activity_id`
	segmentColumns       = `id, stage_id, name, strava_segment_id, distance_meters, avg_grade_percent, category, points_scale, segment_order`
	segmentResultColumns = `id, segment_id, stage_id, user_id, elapsed_time_seconds, position, points_earned, status, strava_effort_id`
	publishRunColumns    = `id, kind, stage_id, segment_id, status, row_count, error, created_at, updated_at`
	retryColumns         = `id, run_id, stage_id, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at`
)

// preparedStatements are prepared on each new connection for the reads
// issued on every standings request.
var preparedStatements = map[string]string{
	"list_stages":        `SELECT id, event_id, name, stage_order, date FROM event_stages WHERE event_id = $1 ORDER BY stage_order, id`,
	"list_stage_results": `SELECT ` + stageResultColumns + ` FROM stage_results WHERE stage_id = ANY($1) ORDER BY elapsed_time_seconds, user_id`,
	"list_participants":  `SELECT user_id FROM event_participants WHERE event_id = $1 ORDER BY user_id`,
}

// NewPostgres connects to Postgres and returns a store on the pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	cfg := db.PoolConfig{Prepare: preparedStatements}
	if poolCfg != nil {
		cfg.MaxConns = poolCfg.MaxConns
		cfg.MinConns = poolCfg.MinConns
	}
	pool, err := db.Connect(ctx, connString, &cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	date        DATE
);

CREATE TABLE IF NOT EXISTS stage_results (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	stage_id                 TEXT NOT NULL REFERENCES event_stages(id),
	user_id                  TEXT NOT NULL,
	elapsed_time_seconds     INTEGER NOT NULL DEFAULT 0,
	official_time_seconds    INTEGER,
	mountain_points          INTEGER NOT NULL DEFAULT 0,
	official_mountain_points INTEGER,
	status                   TEXT NOT NULL DEFAULT 'pending',
	strava_activity_id       TEXT,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (stage_id, user_id)
);

CREATE TABLE IF NOT EXISTS stage_segments (
	id                TEXT PRIMARY KEY,
	stage_id          TEXT NOT NULL REFERENCES event_stages(id),
	name              TEXT NOT NULL,
	strava_segment_id TEXT NOT NULL DEFAULT '',
	distance_meters   DOUBLE PRECISION,
	avg_grade_percent DOUBLE PRECISION,
	category          TEXT NOT NULL DEFAULT 'cat4',
	points_scale      JSONB NOT NULL DEFAULT '[]',
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
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS finalize_retry_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	stage_id       TEXT NOT NULL,
	payload        JSONB NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_event_stages_event ON event_stages(event_id, stage_order);
CREATE INDEX IF NOT EXISTS idx_stage_results_stage ON stage_results(stage_id);
CREATE INDEX IF NOT EXISTS idx_stage_segments_stage ON stage_segments(stage_id, segment_order);
CREATE INDEX IF NOT EXISTS idx_segment_results_segment ON segment_results(segment_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_segment_results_user ON segment_results(segment_id, user_id);
CREATE INDEX IF NOT EXISTS idx_publish_runs_stage ON publish_runs(stage_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_finalize_retry_next ON finalize_retry_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", what, id)
	}
	return eris.Wrapf(err, "postgres: get %s %s", what, id)
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var e model.Event
	err := s.pool.QueryRow(ctx, `SELECT id, name, mode FROM events WHERE id = $1`, eventID).
		Scan(&e.ID, &e.Name, &e.Mode)
	if err != nil {
		return nil, notFound(err, "event", eventID)
	}
	return &e, nil
}

func (s *PostgresStore) GetStage(ctx context.Context, stageID string) (*model.Stage, error) {
	var st model.Stage
	var date *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id, name, stage_order, date FROM event_stages WHERE id = $1`, stageID,
	).Scan(&st.ID, &st.EventID, &st.Name, &st.StageOrder, &date)
	if err != nil {
		return nil, notFound(err, "stage", stageID)
	}
	if date != nil {
		st.Date = *date
	}
	return &st, nil
}

func (s *PostgresStore) ListStages(ctx context.Context, eventID string) ([]model.Stage, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["list_stages"], eventID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stages")
	}
	defer rows.Close()

	var stages []model.Stage
	for rows.Next() {
		var st model.Stage
		var date *time.Time
		if err := rows.Scan(&st.ID, &st.EventID, &st.Name, &st.StageOrder, &date); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		if date != nil {
			st.Date = *date
		}
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "postgres: list stages iterate")
}

func (s *PostgresStore) ListStageResults(ctx context.Context, stageIDs ...string) ([]model.StageResult, error) {
	if len(stageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, preparedStatements["list_stage_results"], stageIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage results")
	}
	return collectStageResults(rows)
}

func collectStageResults(rows pgx.Rows) ([]model.StageResult, error) {
	defer rows.Close()

	var results []model.StageResult
	for rows.Next() {
		var r model.StageResult
		if err := rows.Scan(&r.ID, &r.StageID, &r.UserID, &r.ElapsedTimeSeconds,
			&r.OfficialTimeSeconds, &r.MountainPoints, &r.OfficialMountainPoints,
			&r.Status, &r.StravaActivityID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: stage results iterate")
}

func (s *PostgresStore) ListSegments(ctx context.Context, stageID string) ([]model.Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+segmentColumns+` FROM stage_segments WHERE stage_id = $1 ORDER BY segment_order, id`, stageID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list segments")
	}
	return collectSegments(rows)
}

func (s *PostgresStore) ListEventSegments(ctx context.Context, eventID string) ([]model.Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.stage_id, s.name, s.strava_segment_id, s.distance_meters, s.avg_grade_percent,
		        s.category, s.points_scale, s.segment_order
		 FROM stage_segments s JOIN event_stages st ON st.id = s.stage_id
		 WHERE st.event_id = $1
		 ORDER BY st.stage_order, s.segment_order, s.id`, eventID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list event segments")
	}
	return collectSegments(rows)
}

func collectSegments(rows pgx.Rows) ([]model.Segment, error) {
	defer rows.Close()

	var segments []model.Segment
	for rows.Next() {
		var seg model.Segment
		var scale []byte
		if err := rows.Scan(&seg.ID, &seg.StageID, &seg.Name, &seg.StravaSegmentID,
			&seg.DistanceMeters, &seg.AvgGradePercent, &seg.Category, &scale, &seg.SegmentOrder); err != nil {
			return nil, eris.Wrap(err, "postgres: scan segment")
		}
		if err := decodeScale(scale, &seg); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, eris.Wrap(rows.Err(), "postgres: segments iterate")
}

func decodeScale(raw []byte, seg *model.Segment) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &seg.PointsScale); err != nil {
		return eris.Wrapf(err, "store: decode points_scale of segment %s", seg.ID)
	}
	return nil
}

func encodeScale(scale []int) []byte {
	if scale == nil {
		scale = []int{}
	}
	b, _ := json.Marshal(scale)
	return b
}

func (s *PostgresStore) ListSegmentResults(ctx context.Context, segmentIDs ...string) ([]model.SegmentResult, error) {
	if len(segmentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+segmentResultColumns+` FROM segment_results WHERE segment_id = ANY($1)
		 ORDER BY elapsed_time_seconds, user_id, id`, segmentIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list segment results")
	}
	defer rows.Close()

	var results []model.SegmentResult
	for rows.Next() {
		var r model.SegmentResult
		if err := rows.Scan(&r.ID, &r.SegmentID, &r.StageID, &r.UserID, &r.ElapsedTimeSeconds,
			&r.Position, &r.PointsEarned, &r.Status, &r.StravaEffortID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan segment result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: segment results iterate")
}

func (s *PostgresStore) ListParticipants(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["list_participants"], eventID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list participants")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan participant")
		}
		users = append(users, id)
	}
	return users, eris.Wrap(rows.Err(), "postgres: participants iterate")
}

func (s *PostgresStore) GetProfiles(ctx context.Context, userIDs ...string) (map[string]model.Profile, error) {
	profiles := make(map[string]model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, full_name, email, avatar_url FROM profiles WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get profiles")
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.AvatarURL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		profiles[p.ID] = p
	}
	return profiles, eris.Wrap(rows.Err(), "postgres: profiles iterate")
}

// stageUpsert updates only the reviewer-owned columns of existing rows;
// synced elapsed time and activity id stay untouched.
var stageUpsert = db.UpsertConfig{
	Table: "stage_results",
	Columns: []string{"id", "stage_id", "user_id", "elapsed_time_seconds", "mountain_points",
		"official_time_seconds", "official_mountain_points", "status", "updated_at"},
	ConflictKeys: []string{"stage_id", "user_id"},
	UpdateCols:   []string{"official_time_seconds", "official_mountain_points", "status", "updated_at"},
}

// ApplyStagePublish upserts rows on (stage_id, user_id) in one transaction
// and returns the rows as stored.
func (s *PostgresStore) ApplyStagePublish(ctx context.Context, stageID string, rows []StagePublishRow) ([]model.StageResult, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	data := make([][]any, len(rows))
	users := make([]string, len(rows))
	for i, r := range rows {
		data[i] = []any{r.ID, stageID, r.UserID, r.ElapsedTimeSeconds, r.MountainPoints,
			r.OfficialTimeSeconds, r.OfficialMountainPoints, string(r.Status), now}
		users[i] = r.UserID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: apply stage publish: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.UpsertTx(ctx, tx, stageUpsert, data); err != nil {
		return nil, eris.Wrapf(err, "postgres: apply stage publish %s", stageID)
	}

	q, err := tx.Query(ctx,
		`SELECT `+stageResultColumns+` FROM stage_results WHERE stage_id = $1 AND user_id = ANY($2)
		 ORDER BY elapsed_time_seconds, user_id`, stageID, users)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: apply stage publish: read back")
	}
	stored, err := collectStageResults(q)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: apply stage publish: commit")
	}
	return stored, nil
}

// ApplySegmentPublish writes positions, points and status in one
// transaction. A missing row aborts the whole write.
func (s *PostgresStore) ApplySegmentPublish(ctx context.Context, rows []SegmentPublishRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: apply segment publish: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range rows {
		tag, err := tx.Exec(ctx,
			`UPDATE segment_results SET position = $1, points_earned = $2, status = $3, updated_at = $4 WHERE id = $5`,
			r.Position, r.PointsEarned, string(r.Status), now, r.ID)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: update segment result %s", r.ID)
		}
		if tag.RowsAffected() == 0 {
			return 0, eris.Wrapf(ErrNotFound, "segment result %s", r.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: apply segment publish: commit")
	}
	return len(rows), nil
}

// Publish journal

func (s *PostgresStore) CreatePublishRun(ctx context.Context, run *model.PublishRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO publish_runs (`+publishRunColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, string(run.Kind), run.StageID, run.SegmentID, string(run.Status), run.RowCount, run.Error, now, now,
	)
	return eris.Wrap(err, "postgres: insert publish run")
}

func (s *PostgresStore) UpdatePublishRun(ctx context.Context, runID string, status model.PublishRunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE publish_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update publish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "publish run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetPublishRun(ctx context.Context, runID string) (*model.PublishRun, error) {
	var r model.PublishRun
	err := s.pool.QueryRow(ctx,
		`SELECT `+publishRunColumns+` FROM publish_runs WHERE id = $1`, runID,
	).Scan(&r.ID, &r.Kind, &r.StageID, &r.SegmentID, &r.Status, &r.RowCount, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "publish run", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListPublishRuns(ctx context.Context, filter RunFilter) ([]model.PublishRun, error) {
	query := `SELECT ` + publishRunColumns + ` FROM publish_runs WHERE true`
	args := []any{}

	if filter.StageID != "" {
		args = append(args, filter.StageID)
		query += fmt.Sprintf(` AND stage_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, defaultLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list publish runs")
	}
	defer rows.Close()

	var runs []model.PublishRun
	for rows.Next() {
		var r model.PublishRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.StageID, &r.SegmentID, &r.Status, &r.RowCount,
			&r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan publish run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list publish runs iterate")
}

// Finalize retry queue

func (s *PostgresStore) EnqueueFinalizeRetry(ctx context.Context, e resilience.FinalizeRetry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO finalize_retry_queue (`+retryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   payload = $4, error = $5, error_type = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		e.ID, e.RunID, e.StageID, []byte(e.Payload), e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.NextRetryAt, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue finalize retry")
}

func (s *PostgresStore) DueFinalizeRetries(ctx context.Context, limit int) ([]resilience.FinalizeRetry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+retryColumns+` FROM finalize_retry_queue
		 WHERE next_retry_at <= now() AND retry_count < max_retries
		 ORDER BY next_retry_at ASC LIMIT $1`, defaultLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due finalize retries")
	}
	return scanPostgresRetries(rows)
}

func (s *PostgresStore) StageFinalizeRetries(ctx context.Context, stageID string) ([]resilience.FinalizeRetry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+retryColumns+` FROM finalize_retry_queue
		 WHERE stage_id = $1 ORDER BY created_at ASC, id ASC`, stageID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: finalize retries of stage %s", stageID)
	}
	return scanPostgresRetries(rows)
}

func scanPostgresRetries(rows pgx.Rows) ([]resilience.FinalizeRetry, error) {
	defer rows.Close()

	var entries []resilience.FinalizeRetry
	for rows.Next() {
		var e resilience.FinalizeRetry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.StageID, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan finalize retry")
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: finalize retries iterate")
}

func (s *PostgresStore) IncrementFinalizeRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE finalize_retry_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment finalize retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "finalize retry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveFinalizeRetry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM finalize_retry_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove finalize retry")
}

func (s *PostgresStore) CountFinalizeRetries(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM finalize_retry_queue WHERE retry_count < max_retries`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count finalize retries")
}

// Load upserts a fixture table by table in one transaction.
func (s *PostgresStore) Load(ctx context.Context, f Fixture) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: load: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, t := range fixtureTables(f) {
		if _, err := db.UpsertTx(ctx, tx, t.cfg, t.rows); err != nil {
			return eris.Wrapf(err, "postgres: load %s", t.cfg.Table)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: load: commit")
}

type fixtureTable struct {
	cfg  db.UpsertConfig
	rows [][]any
}

// fixtureTables flattens a fixture into upserts in foreign-key order,
// skipping empty tables.
func fixtureTables(f Fixture) []fixtureTable {
	var tables []fixtureTable
	add := func(table string, cols, keys []string, rows [][]any) {
		if len(rows) > 0 {
			tables = append(tables, fixtureTable{
				cfg:  db.UpsertConfig{Table: table, Columns: cols, ConflictKeys: keys},
				rows: rows,
			})
		}
	}

	var rows [][]any
	for _, e := range f.Events {
		mode := e.Mode
		if mode == "" {
			mode = model.EventModeCompetitive
		}
		rows = append(rows, []any{e.ID, e.Name, string(mode)})
	}
	add("events", []string{"id", "name", "mode"}, []string{"id"}, rows)

	rows = nil
	for _, st := range f.Stages {
		var date *time.Time
		if !st.Date.IsZero() {
			d := st.Date
			date = &d
		}
		rows = append(rows, []any{st.ID, st.EventID, st.Name, st.StageOrder, date})
	}
	add("event_stages", []string{"id", "event_id", "name", "stage_order", "date"}, []string{"id"}, rows)

	rows = nil
	for _, seg := range f.Segments {
		category := seg.Category
		if category == "" {
			category = model.CategoryCat4
		}
		rows = append(rows, []any{seg.ID, seg.StageID, seg.Name, seg.StravaSegmentID, seg.DistanceMeters,
			seg.AvgGradePercent, string(category), encodeScale(seg.PointsScale), seg.SegmentOrder})
	}
	add("stage_segments", []string{"id", "stage_id", "name", "strava_segment_id", "distance_meters",
		"avg_grade_percent", "category", "points_scale", "segment_order"}, []string{"id"}, rows)

	rows = nil
	for _, r := range f.StageResults {
		rows = append(rows, []any{resultID(r.ID), r.StageID, r.UserID, r.ElapsedTimeSeconds, r.OfficialTimeSeconds,
			r.MountainPoints, r.OfficialMountainPoints, string(statusOrPending(r.Status)), r.StravaActivityID})
	}
	add("stage_results", []string{"id", "stage_id", "user_id", "elapsed_time_seconds", "official_time_seconds",
		"mountain_points", "official_mountain_points", "status", "strava_activity_id"}, []string{"stage_id", "user_id"}, rows)

	rows = nil
	for _, r := range latestEfforts(f.SegmentResults) {
		rows = append(rows, []any{resultID(r.ID), r.SegmentID, r.StageID, r.UserID, r.ElapsedTimeSeconds,
			r.Position, r.PointsEarned, string(statusOrPending(r.Status)), r.StravaEffortID})
	}
	add("segment_results", []string{"id", "segment_id", "stage_id", "user_id", "elapsed_time_seconds",
		"position", "points_earned", "status", "strava_effort_id"}, []string{"segment_id", "user_id"}, rows)

	rows = nil
	for _, p := range f.Participants {
		rows = append(rows, []any{p.EventID, p.UserID})
	}
	add("event_participants", []string{"event_id", "user_id"}, []string{"event_id", "user_id"}, rows)

	rows = nil
	for _, p := range f.Profiles {
		rows = append(rows, []any{p.ID, p.FullName, p.Email, p.AvatarURL})
	}
	add("profiles", []string{"id", "full_name", "email", "avatar_url"}, []string{"id"}, rows)

	return tables
}

// latestEfforts keeps one effort per (segment, user), the last one listed,
// in first-seen order.
func latestEfforts(results []model.SegmentResult) []model.SegmentResult {
	type key struct{ segment, user string }
	idx := make(map[key]int, len(results))
	out := make([]model.SegmentResult, 0, len(results))
	for _, r := range results {
		k := key{r.SegmentID, r.UserID}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

func resultID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func statusOrPending(s model.ResultStatus) model.ResultStatus {
	if s == "" {
		return model.ResultStatusPending
	}
	return s
}
