/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine using SQLite: the
  rubrique catalog and formula tokens, employees and attendance, pay lines,
  hour records and installments with their tranches.

INTERFACES IMPLEMENTED:
  payroll.Store:     catalog, formulas, employees, attendance, pay lines
  overtime.Store:    daily and weekly hour records
  installment.Store: installments and their settlement tranches

APPEND-ONLY ENFORCEMENT:
  - formula_tokens: rows are appended at the end or removed from the end
  - tranches: no UPDATE statement exists; one row per (installment, period)
    is enforced by idx_unique_tranche_period

REPLACEMENT:
  ReplaceLines deletes and inserts a key's pay lines in one transaction, and
  idx_unique_pay_line keeps at most one line per (employee, rubrique,
  motif, period).

ENCODING:
  Periods are stored as "2006-01" and dates as "2006-01-02", so string
  comparison orders them. Amounts and hours are decimal strings.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In-memory databases are limited to a
  single connection, since every new connection would open an empty one.

USAGE:
  store, err := sqlite.New("./data/paie.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - payroll/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/moustaphacheikh/paie/installment"
	"github.com/moustaphacheikh/paie/overtime"
	"github.com/moustaphacheikh/paie/payroll"
	"github.com/shopspring/decimal"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ payroll.Store     = (*Store)(nil)
	_ overtime.Store    = (*Store)(nil)
	_ installment.Store = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable, for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS rubriques (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		sense INTEGER NOT NULL,
		deduction_du INTEGER NOT NULL DEFAULT 0,
		flags_json TEXT NOT NULL DEFAULT '{}',
		base_auto INTEGER NOT NULL DEFAULT 0,
		quantity_auto INTEGER NOT NULL DEFAULT 0,
		mandatory INTEGER NOT NULL DEFAULT 0,
		fixed INTEGER NOT NULL DEFAULT 0,
		direct_amount INTEGER NOT NULL DEFAULT 0,
		motifs_json TEXT NOT NULL DEFAULT '[]',
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS motifs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		kind INTEGER NOT NULL DEFAULT 0
	);

	-- General parameters: a single row
	CREATE TABLE IF NOT EXISTS parameters (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		params_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Formula tokens, ordered by position within (rubrique, slot)
	CREATE TABLE IF NOT EXISTS formula_tokens (
		rubrique_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		position INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		op TEXT NOT NULL DEFAULT '',
		function_code INTEGER NOT NULL DEFAULT 0,
		constant TEXT NOT NULL DEFAULT '0',
		ref TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (rubrique_id, slot, position)
	);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		hire_date TEXT,
		seniority_date TEXT,
		exit_date TEXT,
		weekly_hours TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1,
		on_leave INTEGER NOT NULL DEFAULT 0,
		last_leave_departure TEXT,
		children INTEGER NOT NULL DEFAULT 0,
		payment_mode TEXT NOT NULL DEFAULT '',
		bank TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		overtime_mode INTEGER NOT NULL DEFAULT 0,
		auto_meal INTEGER NOT NULL DEFAULT 0,
		week_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS worked_days (
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		days TEXT NOT NULL,
		PRIMARY KEY (employee_id, period)
	);

	-- Pay lines: at most one current line per (employee, rubrique, motif, period)
	CREATE TABLE IF NOT EXISTS pay_lines (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		rubrique_id TEXT NOT NULL,
		motif_id TEXT NOT NULL,
		period TEXT NOT NULL,
		base TEXT NOT NULL,
		quantity TEXT NOT NULL,
		amount TEXT NOT NULL,
		sense INTEGER NOT NULL,
		deduction_du INTEGER NOT NULL DEFAULT 0,
		flags_json TEXT NOT NULL DEFAULT '{}',
		fixed INTEGER NOT NULL DEFAULT 0,
		manual INTEGER NOT NULL DEFAULT 0,
		computed_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_pay_line
		ON pay_lines(employee_id, rubrique_id, motif_id, period);
	CREATE INDEX IF NOT EXISTS idx_pay_lines_motif_period
		ON pay_lines(motif_id, period);
	CREATE INDEX IF NOT EXISTS idx_pay_lines_employee_period
		ON pay_lines(employee_id, period);

	-- Hour records
	CREATE TABLE IF NOT EXISTS daily_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		day TEXT NOT NULL,
		day_hours TEXT NOT NULL,
		night_hours TEXT NOT NULL,
		holiday_150 INTEGER NOT NULL DEFAULT 0,
		holiday_200 INTEGER NOT NULL DEFAULT 0,
		external_site INTEGER NOT NULL DEFAULT 0,
		meal INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_daily_record
		ON daily_records(employee_id, day);

	CREATE TABLE IF NOT EXISTS weekly_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		week_start TEXT NOT NULL,
		day_hours TEXT NOT NULL,
		night_hours TEXT NOT NULL,
		hs115 TEXT NOT NULL,
		hs140 TEXT NOT NULL,
		hs150 TEXT NOT NULL,
		hs200 TEXT NOT NULL,
		meals INTEGER NOT NULL DEFAULT 0,
		remoteness INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_weekly_record
		ON weekly_records(employee_id, week_start);

	-- Installments and their append-only tranches
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		rubrique_id TEXT NOT NULL,
		agreed_on TEXT NOT NULL,
		capital TEXT NOT NULL,
		amount TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		note TEXT NOT NULL DEFAULT '',
		solde INTEGER NOT NULL DEFAULT 0,
		solde_in TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_employee
		ON installments(employee_id);

	CREATE TABLE IF NOT EXISTS tranches (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL REFERENCES installments(id) ON DELETE CASCADE,
		period TEXT NOT NULL,
		amount TEXT NOT NULL,
		settled_at TEXT NOT NULL
	);

	-- One settlement per installment and period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_tranche_period
		ON tranches(installment_id, period);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"tranches", "installments", "weekly_records", "daily_records", "pay_lines",
		"worked_days", "employees", "formula_tokens", "parameters", "motifs", "rubriques",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const dateLayout = time.DateOnly

func formatDate(t time.Time) string { return t.Format(dateLayout) }

func nullDate(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func nullDateValue(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(t), Valid: true}
}

// decoder turns stored text columns back into values. It keeps the first
// malformed column in err; an empty column decodes to the zero value.
type decoder struct {
	err error
}

func (d *decoder) fail(what, s string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("malformed %s %q: %w", what, s, err)
	}
}

func (d *decoder) date(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		d.fail("date", s, err)
	}
	return t
}

func (d *decoder) datePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := d.date(ns.String)
	return &t
}

func (d *decoder) timestamp(layout, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		d.fail("timestamp", s, err)
	}
	return t
}

func (d *decoder) period(s string) payroll.Period {
	if s == "" {
		return payroll.Period{}
	}
	p, err := payroll.ParsePeriod(s)
	if err != nil {
		d.fail("period", s, err)
	}
	return p
}

func (d *decoder) decimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.fail("decimal", s, err)
	}
	return v
}

func (d *decoder) json(s string, v any) {
	if s == "" {
		return
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		d.fail("json", s, err)
	}
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, payroll.ErrNotFound)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
