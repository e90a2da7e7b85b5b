// Package sqlite keeps a local archive of backtest runs and usage snapshots
// so results survive across CLI sessions without hitting the platform again.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/hzfeng/StratPilot/models"
)

type Store struct {
	db *sql.DB
}

// RunRecord is one archived backtest run. Result columns are empty until the
// run completes.
type RunRecord struct {
	TaskID       string
	StrategyID   string
	Symbol       string
	StartDate    string
	EndDate      string
	Status       string
	TotalReturn  string
	SharpeRatio  float64
	MaxDrawdown  string
	TradeCount   int
	WinRate      float64
	ErrorMessage string
	ReportMD     string
	CreatedAt    string
	UpdatedAt    string
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    task_id TEXT PRIMARY KEY,
    strategy_id TEXT,
    symbol TEXT,
    start_date TEXT,
    end_date TEXT,
    status TEXT NOT NULL,
    total_return TEXT NOT NULL DEFAULT '',
    sharpe_ratio REAL NOT NULL DEFAULT 0,
    max_drawdown TEXT NOT NULL DEFAULT '',
    trade_count INTEGER NOT NULL DEFAULT 0,
    win_rate REAL NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    report_md TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_symbol_created ON runs(symbol, created_at);

CREATE TABLE IF NOT EXISTS usage_snapshots (
    taken_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    window_days INTEGER NOT NULL,
    total_requests INTEGER NOT NULL,
    total_cost_usd TEXT NOT NULL,
    daily_cost_usd TEXT NOT NULL,
    monthly_cost_usd TEXT NOT NULL
);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// RecordLaunch archives a newly submitted run with its request parameters.
func (s *Store) RecordLaunch(ctx context.Context, taskID string, cfg models.BacktestConfig) error {
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("task id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (task_id, strategy_id, symbol, start_date, end_date, status)
VALUES (?, ?, ?, ?, ?, 'running')
ON CONFLICT(task_id) DO UPDATE SET
    strategy_id=excluded.strategy_id,
    symbol=excluded.symbol,
    start_date=excluded.start_date,
    end_date=excluded.end_date,
    status=excluded.status,
    updated_at=CURRENT_TIMESTAMP
`, taskID, cfg.StrategyID, cfg.Symbol, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}

// SaveRun stores the terminal state of a run. A nil results pointer records
// status and error message only.
func (s *Store) SaveRun(ctx context.Context, task models.BacktestTask, results *models.BacktestResults) error {
	if strings.TrimSpace(task.TaskID) == "" {
		return fmt.Errorf("task id is required")
	}

	var (
		totalReturn, maxDrawdown, reportMD string
		sharpe, winRate                    float64
		trades                             int
	)
	if results != nil {
		totalReturn = results.TotalReturn
		maxDrawdown = results.MaxDrawdown
		reportMD = results.ReportMD
		sharpe = results.SharpeRatio
		winRate = results.WinRate
		trades = results.TradeCount
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (task_id, status, total_return, sharpe_ratio, max_drawdown,
                  trade_count, win_rate, error_message, report_md)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
    status=excluded.status,
    total_return=excluded.total_return,
    sharpe_ratio=excluded.sharpe_ratio,
    max_drawdown=excluded.max_drawdown,
    trade_count=excluded.trade_count,
    win_rate=excluded.win_rate,
    error_message=excluded.error_message,
    report_md=excluded.report_md,
    updated_at=CURRENT_TIMESTAMP
`, task.TaskID, task.Status, totalReturn, sharpe, maxDrawdown, trades, winRate, task.ErrorMessage, reportMD)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, strategy_id, symbol, start_date, end_date, status,
       total_return, sharpe_ratio, max_drawdown, trade_count, win_rate,
       error_message, report_md, created_at, updated_at
FROM runs
ORDER BY rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.TaskID, &rec.StrategyID, &rec.Symbol, &rec.StartDate, &rec.EndDate,
			&rec.Status, &rec.TotalReturn, &rec.SharpeRatio, &rec.MaxDrawdown, &rec.TradeCount,
			&rec.WinRate, &rec.ErrorMessage, &rec.ReportMD, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

func (s *Store) GetRun(ctx context.Context, taskID string) (*RunRecord, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, strategy_id, symbol, start_date, end_date, status,
       total_return, sharpe_ratio, max_drawdown, trade_count, win_rate,
       error_message, report_md, created_at, updated_at
FROM runs
WHERE task_id = ?
LIMIT 1
`, taskID)

	var rec RunRecord
	if err := row.Scan(&rec.TaskID, &rec.StrategyID, &rec.Symbol, &rec.StartDate, &rec.EndDate,
		&rec.Status, &rec.TotalReturn, &rec.SharpeRatio, &rec.MaxDrawdown, &rec.TradeCount,
		&rec.WinRate, &rec.ErrorMessage, &rec.ReportMD, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &rec, nil
}

// RecordUsage appends a usage snapshot. Costs are stored as text to keep the
// decimals exact.
func (s *Store) RecordUsage(ctx context.Context, usage models.UsageQuota, windowDays int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_snapshots (window_days, total_requests, total_cost_usd, daily_cost_usd, monthly_cost_usd)
VALUES (?, ?, ?, ?, ?)
`, windowDays, usage.TotalRequests, usage.TotalCostUSD.String(), usage.DailyCostUSD.String(), usage.MonthlyCostUSD.String())
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// LatestUsage returns the most recent snapshot, or nil when none exists.
func (s *Store) LatestUsage(ctx context.Context) (*models.UsageQuota, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT total_requests, total_cost_usd, daily_cost_usd, monthly_cost_usd
FROM usage_snapshots
ORDER BY rowid DESC
LIMIT 1
`)

	var (
		requests              int
		total, daily, monthly string
	)
	if err := row.Scan(&requests, &total, &daily, &monthly); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest usage: %w", err)
	}

	usage := models.UsageQuota{TotalRequests: requests}
	for _, col := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{total, &usage.TotalCostUSD},
		{daily, &usage.DailyCostUSD},
		{monthly, &usage.MonthlyCostUSD},
	} {
		parsed, err := decimal.NewFromString(col.raw)
		if err != nil {
			return nil, fmt.Errorf("latest usage cost: %w", err)
		}
		*col.dest = parsed
	}
	return &usage, nil
}
