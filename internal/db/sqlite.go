package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS decisions (
    id              TEXT PRIMARY KEY,
    prompt          TEXT NOT NULL,
    final_allowed   BOOLEAN NOT NULL,
    overridden      BOOLEAN NOT NULL DEFAULT 0,
    reason          TEXT NOT NULL,
    anomaly_score   REAL,
    is_anomalous    BOOLEAN,
    threshold       REAL,
    judge_allowed   BOOLEAN,
    judge_rationale TEXT,
    judge_latency_ms INTEGER,
    plot_x          REAL,
    plot_y          REAL,
    model_version   TEXT NOT NULL DEFAULT '',
    evaluated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_evaluated_at ON decisions(evaluated_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_reason       ON decisions(reason);
CREATE INDEX IF NOT EXISTS idx_decisions_allowed      ON decisions(final_allowed);
`,
	},
	// Migration 2: persisted detector model artifacts with a single-active
	// invariant.
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS model_artifacts (
    version       TEXT PRIMARY KEY,
    dim           INTEGER NOT NULL,
    contamination REAL NOT NULL,
    threshold     REAL NOT NULL,
    corpus_size   INTEGER NOT NULL,
    seed          INTEGER NOT NULL,
    artifact      BLOB NOT NULL,
    active        BOOLEAN NOT NULL DEFAULT 0,
    fitted_at     DATETIME NOT NULL,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_model_artifacts_active ON model_artifacts(active);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Decisions ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveDecision(ctx context.Context, d *models.Decision) error {
	var (
		anomalyScore, threshold sql.NullFloat64
		isAnomalous             sql.NullBool
		judgeAllowed            sql.NullBool
		judgeRationale          sql.NullString
		judgeLatencyMs          sql.NullInt64
		plotX, plotY            sql.NullFloat64
	)
	if av := d.AnomalyVerdict; av != nil {
		anomalyScore = sql.NullFloat64{Float64: av.Score, Valid: true}
		threshold = sql.NullFloat64{Float64: av.Threshold, Valid: true}
		isAnomalous = sql.NullBool{Bool: av.IsAnomalous, Valid: true}
	}
	if jv := d.JudgeVerdict; jv != nil {
		judgeAllowed = sql.NullBool{Bool: jv.Allowed, Valid: true}
		judgeRationale = sql.NullString{String: jv.Rationale, Valid: true}
		judgeLatencyMs = sql.NullInt64{Int64: jv.LatencyMs, Valid: true}
	}
	if len(d.PlotCoords) == 2 {
		plotX = sql.NullFloat64{Float64: d.PlotCoords[0], Valid: true}
		plotY = sql.NullFloat64{Float64: d.PlotCoords[1], Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO decisions(id, prompt, final_allowed, overridden, reason,
            anomaly_score, is_anomalous, threshold,
            judge_allowed, judge_rationale, judge_latency_ms,
            plot_x, plot_y, model_version, evaluated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		d.ID, d.Prompt, d.FinalAllowed, d.Overridden, string(d.Reason),
		anomalyScore, isAnomalous, threshold,
		judgeAllowed, judgeRationale, judgeLatencyMs,
		plotX, plotY, d.ModelVersion, d.EvaluatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx, decisionSelect+` WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return d, nil
}

func (s *sqliteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]*models.Decision, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Reason != "" {
		conds = append(conds, "reason = ?")
		args = append(args, string(filter.Reason))
	}
	if filter.Allowed != nil {
		conds = append(conds, "final_allowed = ?")
		args = append(args, *filter.Allowed)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "evaluated_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := decisionSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY evaluated_at DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountDecisions(ctx context.Context) (map[models.ReasonCode]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM decisions GROUP BY reason`)
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ReasonCode]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[models.ReasonCode(reason)] = n
	}
	return counts, rows.Err()
}

const decisionSelect = `
    SELECT id, prompt, final_allowed, overridden, reason,
           anomaly_score, is_anomalous, threshold,
           judge_allowed, judge_rationale, judge_latency_ms,
           plot_x, plot_y, model_version, evaluated_at
    FROM decisions`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	var (
		d                       models.Decision
		reason                  string
		anomalyScore, threshold sql.NullFloat64
		isAnomalous             sql.NullBool
		judgeAllowed            sql.NullBool
		judgeRationale          sql.NullString
		judgeLatencyMs          sql.NullInt64
		plotX, plotY            sql.NullFloat64
		evaluatedAt             time.Time
	)
	err := row.Scan(&d.ID, &d.Prompt, &d.FinalAllowed, &d.Overridden, &reason,
		&anomalyScore, &isAnomalous, &threshold,
		&judgeAllowed, &judgeRationale, &judgeLatencyMs,
		&plotX, &plotY, &d.ModelVersion, &evaluatedAt)
	if err != nil {
		return nil, err
	}

	d.Reason = models.ReasonCode(reason)
	d.EvaluatedAt = evaluatedAt.UTC()
	if anomalyScore.Valid {
		d.AnomalyVerdict = &models.AnomalyVerdict{
			Score:       anomalyScore.Float64,
			IsAnomalous: isAnomalous.Bool,
			Threshold:   threshold.Float64,
		}
	}
	if judgeAllowed.Valid {
		d.JudgeVerdict = &models.JudgeVerdict{
			Allowed:   judgeAllowed.Bool,
			Rationale: judgeRationale.String,
			LatencyMs: judgeLatencyMs.Int64,
		}
	}
	if plotX.Valid && plotY.Valid {
		d.PlotCoords = []float64{plotX.Float64, plotY.Float64}
	}
	return &d, nil
}

// ─── Model artifacts ──────────────────────────────────────────────────────────

func (s *sqliteStore) SaveModelArtifact(ctx context.Context, info models.ModelInfo, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE model_artifacts SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate previous artifacts: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO model_artifacts(version, dim, contamination, threshold, corpus_size, seed, artifact, active, fitted_at)
        VALUES(?,?,?,?,?,?,?,1,?)
    `, info.Version, info.Dim, info.Contamination, info.Threshold, info.CorpusSize, info.Seed, data, info.FittedAt.UTC())
	if err != nil {
		return fmt.Errorf("save model artifact %s: %w", info.Version, err)
	}

	return tx.Commit()
}

func (s *sqliteStore) LoadModelArtifact(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT artifact FROM model_artifacts WHERE active = 1 ORDER BY created_at DESC LIMIT 1`,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, models.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load model artifact: %w", err)
	}
	return data, nil
}

func (s *sqliteStore) DeactivateModelArtifacts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE model_artifacts SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate model artifacts: %w", err)
	}
	return nil
}
