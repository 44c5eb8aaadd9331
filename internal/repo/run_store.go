package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/miradorstack/mirador-changepoint/internal/models"
	"github.com/miradorstack/mirador-changepoint/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS detection_runs (
	run_id            TEXT PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL,
	observations      INTEGER NOT NULL,
	num_change_points INTEGER NOT NULL,
	transform         TEXT NOT NULL DEFAULT 'none',
	converged         BOOLEAN NOT NULL,
	max_rhat          DOUBLE PRECISION NOT NULL,
	min_ess           DOUBLE PRECISION NOT NULL,
	duration_ns       BIGINT NOT NULL,
	config            JSONB NOT NULL,
	diagnostics       JSONB NOT NULL,
	chains            JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS regimes (
	run_id       TEXT NOT NULL REFERENCES detection_runs(run_id) ON DELETE CASCADE,
	regime       INTEGER NOT NULL,
	start_index  INTEGER NOT NULL,
	end_index    INTEGER NOT NULL,
	start_date   TIMESTAMPTZ NOT NULL,
	end_date     TIMESTAMPTZ NOT NULL,
	observations INTEGER NOT NULL,
	mean_price   DOUBLE PRECISION NOT NULL,
	volatility   DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, regime)
);
CREATE TABLE IF NOT EXISTS change_points (
	run_id      TEXT NOT NULL REFERENCES detection_runs(run_id) ON DELETE CASCADE,
	ordinal     INTEGER NOT NULL,
	position    DOUBLE PRECISION NOT NULL,
	idx         INTEGER NOT NULL,
	date        TIMESTAMPTZ NOT NULL,
	lower_index INTEGER NOT NULL,
	upper_index INTEGER NOT NULL,
	lower_date  TIMESTAMPTZ NOT NULL,
	upper_date  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, ordinal)
);
CREATE INDEX IF NOT EXISTS detection_runs_created_at_idx ON detection_runs (created_at DESC);`

// PostgresRunStore persists detection results so their diagnostics can be inspected later.
type PostgresRunStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresRunStore wraps an open pool. timeout bounds every store operation.
func NewPostgresRunStore(db *sqlx.DB, timeout time.Duration) *PostgresRunStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresRunStore{db: db, timeout: timeout}
}

type runRow struct {
	RunID           string    `db:"run_id"`
	CreatedAt       time.Time `db:"created_at"`
	Observations    int       `db:"observations"`
	NumChangePoints int       `db:"num_change_points"`
	Transform       string    `db:"transform"`
	Converged       bool      `db:"converged"`
	MaxRHat         float64   `db:"max_rhat"`
	MinESS          float64   `db:"min_ess"`
	DurationNS      int64     `db:"duration_ns"`
	Config          []byte    `db:"config"`
	Diagnostics     []byte    `db:"diagnostics"`
	Chains          []byte    `db:"chains"`
}

type regimeRow struct {
	Regime       int       `db:"regime"`
	StartIndex   int       `db:"start_index"`
	EndIndex     int       `db:"end_index"`
	StartDate    time.Time `db:"start_date"`
	EndDate      time.Time `db:"end_date"`
	Observations int       `db:"observations"`
	MeanPrice    float64   `db:"mean_price"`
	Volatility   float64   `db:"volatility"`
}

type changePointRow struct {
	Ordinal    int       `db:"ordinal"`
	Position   float64   `db:"position"`
	Index      int       `db:"idx"`
	Date       time.Time `db:"date"`
	LowerIndex int       `db:"lower_index"`
	UpperIndex int       `db:"upper_index"`
	LowerDate  time.Time `db:"lower_date"`
	UpperDate  time.Time `db:"upper_date"`
}

// EnsureSchema creates the run tables when they do not exist.
func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return utils.NewKindError(utils.KindUnavailable, "store.EnsureSchema", "create tables", err)
	}
	return nil
}

// SaveRun writes a run, its regimes and its change points in one transaction.
func (s *PostgresRunStore) SaveRun(ctx context.Context, result models.DetectionResult) error {
	if result.RunID == "" {
		return utils.NewKindError(utils.KindInvalid, "store.SaveRun", "run id is required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	configJSON, err := json.Marshal(result.Config)
	if err != nil {
		return utils.NewAppError("store.SaveRun", "marshal config", err)
	}
	diagnosticsJSON, err := json.Marshal(result.Diagnostics)
	if err != nil {
		return utils.NewAppError("store.SaveRun", "marshal diagnostics", err)
	}
	chainsJSON, err := json.Marshal(result.Chains)
	if err != nil {
		return utils.NewAppError("store.SaveRun", "marshal chains", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewKindError(utils.KindUnavailable, "store.SaveRun", "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO detection_runs (run_id, created_at, observations, num_change_points, transform,
			converged, max_rhat, min_ess, duration_ns, config, diagnostics, chains)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		result.RunID, result.CreatedAt, result.Observations, result.NumChangePoints, transformName(result.Transform),
		result.Diagnostics.Converged, result.Diagnostics.MaxRHat, result.Diagnostics.MinESS,
		result.Duration.Nanoseconds(), configJSON, diagnosticsJSON, chainsJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return utils.NewKindError(utils.KindInvalid, "store.SaveRun", "duplicate run "+result.RunID, err)
		}
		return utils.NewAppError("store.SaveRun", "insert run", err)
	}

	regimeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO regimes (run_id, regime, start_index, end_index, start_date, end_date,
			observations, mean_price, volatility)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return utils.NewAppError("store.SaveRun", "prepare regimes", err)
	}
	defer regimeStmt.Close()
	for _, r := range result.Table.Records {
		if _, err := regimeStmt.ExecContext(ctx, result.RunID, r.Regime, r.StartIndex, r.EndIndex,
			r.StartDate, r.EndDate, r.Observations, r.MeanPrice, r.Volatility); err != nil {
			return utils.NewAppError("store.SaveRun", fmt.Sprintf("insert regime %d", r.Regime), err)
		}
	}

	cpStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO change_points (run_id, ordinal, position, idx, date, lower_index, upper_index,
			lower_date, upper_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return utils.NewAppError("store.SaveRun", "prepare change points", err)
	}
	defer cpStmt.Close()
	for _, cp := range result.Table.ChangePoints {
		if _, err := cpStmt.ExecContext(ctx, result.RunID, cp.Ordinal, cp.Position, cp.Index, cp.Date,
			cp.LowerIndex, cp.UpperIndex, cp.LowerDate, cp.UpperDate); err != nil {
			return utils.NewAppError("store.SaveRun", fmt.Sprintf("insert change point %d", cp.Ordinal), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError("store.SaveRun", "commit", err)
	}
	return nil
}

// GetRun loads a stored run. A missing run yields an AppError of KindNotFound.
func (s *PostgresRunStore) GetRun(ctx context.Context, runID string) (models.DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT run_id, created_at, observations, num_change_points, transform, converged, max_rhat,
			min_ess, duration_ns, config, diagnostics, chains
		FROM detection_runs
		WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DetectionResult{}, utils.NewKindError(utils.KindNotFound, "store.GetRun", "run "+runID+" not found", err)
	}
	if err != nil {
		return models.DetectionResult{}, utils.NewAppError("store.GetRun", "select run", err)
	}

	result := models.DetectionResult{
		RunID:           row.RunID,
		CreatedAt:       row.CreatedAt.UTC(),
		Observations:    row.Observations,
		NumChangePoints: row.NumChangePoints,
		Transform:       row.Transform,
		Duration:        time.Duration(row.DurationNS),
	}
	if err := json.Unmarshal(row.Config, &result.Config); err != nil {
		return models.DetectionResult{}, utils.NewAppError("store.GetRun", "decode config", err)
	}
	if err := json.Unmarshal(row.Diagnostics, &result.Diagnostics); err != nil {
		return models.DetectionResult{}, utils.NewAppError("store.GetRun", "decode diagnostics", err)
	}
	if err := json.Unmarshal(row.Chains, &result.Chains); err != nil {
		return models.DetectionResult{}, utils.NewAppError("store.GetRun", "decode chains", err)
	}

	var regimes []regimeRow
	if err := s.db.SelectContext(ctx, &regimes, `
		SELECT regime, start_index, end_index, start_date, end_date, observations, mean_price, volatility
		FROM regimes
		WHERE run_id = $1
		ORDER BY regime`, runID); err != nil {
		return models.DetectionResult{}, utils.NewAppError("store.GetRun", "select regimes", err)
	}
	for _, r := range regimes {
		result.Table.Records = append(result.Table.Records, models.RegimeRecord{
			Regime:       r.Regime,
			StartIndex:   r.StartIndex,
			EndIndex:     r.EndIndex,
			StartDate:    r.StartDate.UTC(),
			EndDate:      r.EndDate.UTC(),
			Observations: r.Observations,
			MeanPrice:    r.MeanPrice,
			Volatility:   r.Volatility,
		})
	}

	var cps []changePointRow
	if err := s.db.SelectContext(ctx, &cps, `
		SELECT ordinal, position, idx, date, lower_index, upper_index, lower_date, upper_date
		FROM change_points
		WHERE run_id = $1
		ORDER BY ordinal`, runID); err != nil {
		return models.DetectionResult{}, utils.NewAppError("store.GetRun", "select change points", err)
	}
	for _, cp := range cps {
		result.Table.ChangePoints = append(result.Table.ChangePoints, models.ChangePointEstimate{
			Ordinal:    cp.Ordinal,
			Position:   cp.Position,
			Index:      cp.Index,
			Date:       cp.Date.UTC(),
			LowerIndex: cp.LowerIndex,
			UpperIndex: cp.UpperIndex,
			LowerDate:  cp.LowerDate.UTC(),
			UpperDate:  cp.UpperDate.UTC(),
		})
	}
	return result, nil
}

func transformName(t string) string {
	if t == "" {
		return "none"
	}
	return t
}

// Ping reports whether the database is reachable.
func (s *PostgresRunStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}
