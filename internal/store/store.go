// Package store persists every durable record of the simulator in a
// single sqlite database: agents, portfolios, orders, transactions,
// quotes, prompt templates, LLM providers, call logs, decision logs and
// scheduled tasks. All timestamps are stored as RFC3339Nano TEXT and
// money columns as decimal TEXT; nothing in here does float math.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the sqlite handle. Safe for concurrent use; sqlite is
// kept on a single connection so writers never trip SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS agents (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  initial_cash TEXT NOT NULL,
  provider_id TEXT NOT NULL DEFAULT '',
  model_name TEXT NOT NULL DEFAULT '',
  template_id TEXT,
  schedule_type TEXT NOT NULL DEFAULT 'manual',
  status TEXT NOT NULL DEFAULT 'active',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS portfolios (
  agent_id TEXT PRIMARY KEY REFERENCES agents(id) ON DELETE CASCADE,
  cash TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS positions (
  agent_id TEXT NOT NULL REFERENCES portfolios(agent_id) ON DELETE CASCADE,
  stock_code TEXT NOT NULL,
  shares INTEGER NOT NULL,
  avg_cost TEXT NOT NULL,
  buy_date TEXT NOT NULL,
  PRIMARY KEY (agent_id, stock_code)
);`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  llm_log_id INTEGER,
  side TEXT NOT NULL,
  stock_code TEXT,
  quantity INTEGER,
  price TEXT,
  status TEXT NOT NULL,
  reject_reason TEXT,
  reason TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_agent_created ON orders(agent_id, created_at);`,
		`
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  agent_id TEXT NOT NULL,
  stock_code TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  price TEXT NOT NULL,
  commission TEXT NOT NULL,
  stamp_tax TEXT NOT NULL,
  transfer_fee TEXT NOT NULL,
  executed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_agent_executed ON transactions(agent_id, executed_at);`,
		`
CREATE TABLE IF NOT EXISTS stock_quotes (
  stock_code TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  trade_date TEXT NOT NULL,
  open TEXT NOT NULL DEFAULT '0',
  high TEXT NOT NULL DEFAULT '0',
  low TEXT NOT NULL DEFAULT '0',
  close TEXT NOT NULL DEFAULT '0',
  prev_close TEXT NOT NULL DEFAULT '0',
  volume INTEGER NOT NULL DEFAULT 0,
  amount TEXT NOT NULL DEFAULT '0',
  PRIMARY KEY (stock_code, trade_date)
);`,
		`
CREATE TABLE IF NOT EXISTS prompt_templates (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS llm_providers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  protocol TEXT NOT NULL,
  base_url TEXT NOT NULL DEFAULT '',
  api_key TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS llm_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider_id TEXT NOT NULL,
  model_name TEXT NOT NULL DEFAULT '',
  agent_id TEXT,
  request_body TEXT NOT NULL DEFAULT '',
  response_body TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  error_message TEXT NOT NULL DEFAULT '',
  tokens_in INTEGER NOT NULL DEFAULT 0,
  tokens_out INTEGER NOT NULL DEFAULT 0,
  request_time TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_llm_logs_provider_time ON llm_logs(provider_id, request_time);`,
		`
CREATE TABLE IF NOT EXISTS decision_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  agent_id TEXT NOT NULL,
  prompt_content TEXT NOT NULL DEFAULT '',
  llm_response TEXT NOT NULL DEFAULT '',
  decisions TEXT NOT NULL DEFAULT '[]',
  order_ids TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL,
  error_message TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_agent_created ON decision_logs(agent_id, created_at);`,
		`
CREATE TABLE IF NOT EXISTS system_tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  cron_expression TEXT NOT NULL,
  task_type TEXT NOT NULL,
  target_agent_ids TEXT NOT NULL DEFAULT '["all"]',
  trading_day_only INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'active',
  config TEXT NOT NULL DEFAULT '{}',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS task_run_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id TEXT REFERENCES system_tasks(id) ON DELETE SET NULL,
  task_name TEXT NOT NULL DEFAULT '',
  trigger_source TEXT NOT NULL DEFAULT 'cron',
  started_at TEXT NOT NULL,
  completed_at TEXT,
  status TEXT NOT NULL,
  skip_reason TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  agent_results TEXT NOT NULL DEFAULT '[]'
);`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_task_started ON task_run_logs(task_id, started_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
  agent_id TEXT NOT NULL,
  snapshot_date TEXT NOT NULL,
  cash TEXT NOT NULL,
  market_value TEXT NOT NULL,
  total_assets TEXT NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (agent_id, snapshot_date)
);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ── Scan Helpers ──

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := fmtTime(*t)
	return &v
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64ToPtr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// notFound maps sql.ErrNoRows onto the package sentinel.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}
