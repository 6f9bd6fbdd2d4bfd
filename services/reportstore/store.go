// Package reportstore persists run summaries in Postgres.
package reportstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"quant-backtest/services/engine"
	"quant-backtest/services/report"
)

var ErrNotFound = errors.New("reportstore: run not found")

// Metrics is a name -> value map stored as JSONB.
type Metrics map[string]float64

func (m Metrics) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metrics) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		*m = Metrics{}
		return nil
	default:
		return fmt.Errorf("metrics: unsupported type %T", src)
	}
	return json.Unmarshal(b, m)
}

// RunRecord is one instrument's result within a job.
type RunRecord struct {
	ID            string         `db:"id" json:"id"`
	JobID         string         `db:"job_id" json:"job_id"`
	Instrument    string         `db:"instrument" json:"instrument"`
	Mode          string         `db:"mode" json:"mode"`
	ConfigHash    string         `db:"config_hash" json:"config_hash"`
	EngineVersion string         `db:"engine_version" json:"engine_version"`
	Strategies    pq.StringArray `db:"strategies" json:"strategies"`
	Trades        int            `db:"trades" json:"trades"`
	FinalEquity   float64        `db:"final_equity" json:"final_equity"`
	Metrics       Metrics        `db:"metrics" json:"metrics"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// NewRunRecord summarizes a report under its job manifest.
func NewRunRecord(m engine.RunManifest, instrument string, r *engine.Report) RunRecord {
	s := report.NewSummary(instrument, r, m.Config.InitialEquity)
	return RunRecord{
		ID:            m.JobID + ":" + instrument,
		JobID:         m.JobID,
		Instrument:    instrument,
		Mode:          string(m.Mode),
		ConfigHash:    m.ConfigHash,
		EngineVersion: m.EngineVersion,
		Strategies:    pq.StringArray(s.Strategies),
		Trades:        s.Trades,
		FinalEquity:   s.FinalEquity,
		Metrics:       Metrics(s.Metrics),
		CreatedAt:     m.CreatedAt,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	mode TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	engine_version TEXT NOT NULL,
	strategies TEXT[] NOT NULL DEFAULT '{}',
	trades INTEGER NOT NULL,
	final_equity DOUBLE PRECISION NOT NULL,
	metrics JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS backtest_runs_instrument_idx ON backtest_runs (instrument, created_at DESC);
CREATE INDEX IF NOT EXISTS backtest_runs_job_idx ON backtest_runs (job_id);`

const upsertRun = `
INSERT INTO backtest_runs (id, job_id, instrument, mode, config_hash, engine_version, strategies, trades, final_equity, metrics, created_at)
VALUES (:id, :job_id, :instrument, :mode, :config_hash, :engine_version, :strategies, :trades, :final_equity, :metrics, :created_at)
ON CONFLICT (id) DO UPDATE SET
	trades = EXCLUDED.trades,
	final_equity = EXCLUDED.final_equity,
	metrics = EXCLUDED.metrics,
	strategies = EXCLUDED.strategies`

const selectRun = `SELECT id, job_id, instrument, mode, config_hash, engine_version, strategies, trades, final_equity, metrics, created_at FROM backtest_runs`

type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Open connects with the postgres driver.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStore(db, logger), nil
}

func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, log: logger}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, upsertRun, rec); err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	s.log.Debug("run saved", zap.String("id", rec.ID), zap.Int("trades", rec.Trades))
	return nil
}

// SaveReport stores the summary of one instrument's report.
func (s *Store) SaveReport(ctx context.Context, m engine.RunManifest, instrument string, r *engine.Report) error {
	return s.SaveRun(ctx, NewRunRecord(m, instrument, r))
}

func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(selectRun+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListJob returns every instrument record of a job.
func (s *Store) ListJob(ctx context.Context, jobID string) ([]RunRecord, error) {
	recs := []RunRecord{}
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(selectRun+` WHERE job_id = ? ORDER BY instrument`), jobID); err != nil {
		return nil, fmt.Errorf("list job %s: %w", jobID, err)
	}
	return recs, nil
}

// ListRuns returns the newest runs, optionally for one instrument.
func (s *Store) ListRuns(ctx context.Context, instrument string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := listQuery(instrument, limit)
	recs := []RunRecord{}
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}

func listQuery(instrument string, limit int) (string, []any) {
	if instrument == "" {
		return selectRun + ` ORDER BY created_at DESC LIMIT ?`, []any{limit}
	}
	return selectRun + ` WHERE instrument = ? ORDER BY created_at DESC LIMIT ?`, []any{instrument, limit}
}
