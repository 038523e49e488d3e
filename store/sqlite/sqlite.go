/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the pipeline (generic.Store,
  payments.Repository, payments.RunLog, payments.MaxWeeklyBenefitStore)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store / generic.TxStore:  State log persistence
  payments.TxRepository:            Payments, claimants, bank accounts, batches
  payments.RunLog:                  Batch run log
  payments.MaxWeeklyBenefitStore:   Effective-dated cap table

APPEND-ONLY ENFORCEMENT:
  The state log tables are append-only:
  - No UPDATE statements on *_state_log
  - No DELETE statements on *_state_log
  - Corrections are new entries

KEY TABLES:
  payment_state_log:       Processing + writeback flows of payments
  bank_account_state_log:  Prenote flow of bank accounts
  payments:                One row per disbursement attempt
  payment_details:         Pay period lines of a payment
  bank_accounts:           EFT destinations with prenote state
  employees, claims:       Claimant reference data
  batches:                 Committed extract file sets (fingerprint unique)
  batch_runs:              Run log, written outside batch transactions
  maximum_weekly_benefit_amounts: Effective-dated cap table

TRANSACTIONS:
  WithinTx hands fn a Store bound to one *sql.Tx. Every read and write made
  through it goes through that transaction, so a batch sees its own writes
  and rolls back as a unit. The pool holds a single connection: SQLite
  allows one writer, and ":memory:" databases are per-connection.

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order is chronological. Ties in
  the state log are broken by the autoincrement seq column.

USAGE:
  store, err := sqlite.New("./data/payments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  service := payments.NewService(store, payments.Options{})

SEE ALSO:
  - generic/store.go: State log interface
  - payments/repository.go: Repository interface
  - generic/store/memory.go: In-memory state log for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx // set on transaction-bound stores
}

var (
	_ generic.TxStore                = (*Store)(nil)
	_ payments.TxRepository          = (*Store)(nil)
	_ payments.RunLog                = (*Store)(nil)
	_ payments.MaxWeeklyBenefitStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
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

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- State logs (append-only), one per entity kind
	CREATE TABLE IF NOT EXISTS payment_state_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_id TEXT NOT NULL,
		flow_id TEXT NOT NULL,
		state_id TEXT NOT NULL,
		outcome_json TEXT,
		previous_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_state_log_entity_flow
		ON payment_state_log(entity_id, flow_id, created_at DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_payment_state_log_flow_state
		ON payment_state_log(flow_id, state_id);

	CREATE TABLE IF NOT EXISTS bank_account_state_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_id TEXT NOT NULL,
		flow_id TEXT NOT NULL,
		state_id TEXT NOT NULL,
		outcome_json TEXT,
		previous_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bank_account_state_log_entity_flow
		ON bank_account_state_log(entity_id, flow_id, created_at DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_bank_account_state_log_flow_state
		ON bank_account_state_log(flow_id, state_id);

	-- Claimants
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		tax_identifier TEXT NOT NULL UNIQUE,
		first_name TEXT,
		last_name TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		absence_case_id TEXT NOT NULL UNIQUE,
		employee_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Extract batches
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		c TEXT NOT NULL,
		i TEXT NOT NULL,
		employee_id TEXT,
		claim_id TEXT,
		absence_case_id TEXT,
		leave_request_id TEXT,
		absence_reason TEXT,
		amount TEXT NOT NULL,
		period_start TEXT,
		period_end TEXT,
		payment_date TEXT,
		payment_method TEXT,
		bank_account_id TEXT,
		transaction_type TEXT NOT NULL,
		is_adhoc INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (batch_id, c, i)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_composite_key
		ON payments(c, i);
	CREATE INDEX IF NOT EXISTS idx_payments_employee
		ON payments(employee_id) WHERE employee_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payment_details (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_details_payment
		ON payment_details(payment_id);

	-- Bank accounts
	CREATE TABLE IF NOT EXISTS bank_accounts (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		routing_number TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_type TEXT NOT NULL,
		prenote_state TEXT NOT NULL,
		prenote_sent_at TEXT,
		prenote_approved_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (employee_id, routing_number, account_number, account_type)
	);

	-- Batch run log
	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		batch_timestamp TEXT,
		fingerprint TEXT,
		status TEXT NOT NULL,
		report_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_started
		ON batch_runs(started_at DESC);

	-- Effective-dated maximum weekly benefit
	CREATE TABLE IF NOT EXISTS maximum_weekly_benefit_amounts (
		effective_date TEXT PRIMARY KEY,
		amount TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithinTx executes fn within a database transaction. Nested calls reuse
// the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(payments.Repository) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

// WithTx executes fn within a database transaction (generic.TxStore).
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTx(ctx context.Context, fn func(*Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.Time.Format(dateLayout), Valid: true}
}

func parseDate(s sql.NullString) generic.TimePoint {
	if !s.Valid {
		return generic.TimePoint{}
	}
	tp, _ := generic.ParseDate(s.String)
	return tp
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
