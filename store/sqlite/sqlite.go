/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements indicator.Store and indicator.UserStatusStore using SQLite.
  This is the default single-node deployment backend; store/postgres
  carries the same semantics for hosted deployments.

KEY TABLES:
  indicators: One row per indicator occurrence. base_id links generated
              occurrences back to the record they were expanded from.
  users:      Account status lookups for the active-user gate.

DATE STORAGE:
  Calendar dates are stored as TEXT in YYYY-MM-DD form, the same literal
  the rest of the system round-trips. NULL means unset. Decimal values
  are stored as TEXT to avoid float drift.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/indicators.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - indicator/store.go: Interface definitions
  - indicator/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/curatio/indicator-engine/indicator"
)

// Store implements indicator.Store and indicator.UserStatusStore using
// SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indicators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		base_id INTEGER NOT NULL DEFAULT 0,
		project_id INTEGER NOT NULL DEFAULT 0,
		category_id INTEGER NOT NULL DEFAULT 0,
		subcategory_id INTEGER NOT NULL DEFAULT 0,
		type_id INTEGER NOT NULL DEFAULT 0,
		unit_type_id INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		observation TEXT NOT NULL DEFAULT '',
		initial_due_date TEXT,
		current_due_date TEXT,
		reference_period TEXT,
		recurrence_unit TEXT NOT NULL DEFAULT 'none',
		recurrence_interval INTEGER NOT NULL DEFAULT 0,
		presented_value TEXT,
		calculated_value TEXT,
		mandatory BOOLEAN NOT NULL DEFAULT FALSE,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		has_document BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- For listing by grouping columns
	CREATE INDEX IF NOT EXISTS idx_indicators_project
		ON indicators(project_id);
	CREATE INDEX IF NOT EXISTS idx_indicators_category
		ON indicators(category_id, subcategory_id);

	-- Hot path: expansion finds the latest occurrence of a base record
	CREATE INDEX IF NOT EXISTS idx_indicators_base_due
		ON indicators(base_id, current_due_date DESC);

	-- Auto-fill scans for unset reference periods
	CREATE INDEX IF NOT EXISTS idx_indicators_empty_reference
		ON indicators(reference_period) WHERE reference_period IS NULL;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SQL <-> DOMAIN MAPPING
// =============================================================================

const recordColumns = `id, base_id, project_id, category_id, subcategory_id,
	type_id, unit_type_id, name, description, observation,
	initial_due_date, current_due_date, reference_period,
	recurrence_unit, recurrence_interval,
	presented_value, calculated_value,
	mandatory, visible, has_document`

func nullDate(d indicator.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanRecord(row interface{ Scan(...any) error }) (*indicator.Record, error) {
	var (
		rec                 indicator.Record
		initial, due, ref   sql.NullString
		unit                string
		presented, computed sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.BaseID, &rec.ProjectID, &rec.CategoryID, &rec.SubcategoryID,
		&rec.TypeID, &rec.UnitTypeID, &rec.Name, &rec.Description, &rec.Observation,
		&initial, &due, &ref,
		&unit, &rec.Recurrence.Interval,
		&presented, &computed,
		&rec.Mandatory, &rec.Visible, &rec.HasDocument,
	)
	if err != nil {
		return nil, err
	}

	if rec.InitialDueDate, err = parseNullDate(initial); err != nil {
		return nil, fmt.Errorf("initial_due_date: %w", err)
	}
	if rec.CurrentDueDate, err = parseNullDate(due); err != nil {
		return nil, fmt.Errorf("current_due_date: %w", err)
	}
	if rec.ReferencePeriod, err = parseNullDate(ref); err != nil {
		return nil, fmt.Errorf("reference_period: %w", err)
	}
	if rec.Recurrence.Unit, err = indicator.ParseRecurrenceUnit(unit); err != nil {
		return nil, err
	}
	if rec.PresentedValue, err = parseNullDecimal(presented); err != nil {
		return nil, fmt.Errorf("presented_value: %w", err)
	}
	if rec.CalculatedValue, err = parseNullDecimal(computed); err != nil {
		return nil, fmt.Errorf("calculated_value: %w", err)
	}
	return &rec, nil
}

func parseNullDate(s sql.NullString) (indicator.Date, error) {
	if !s.Valid || s.String == "" {
		return indicator.Date{}, nil
	}
	return indicator.ParseDate(s.String)
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// =============================================================================
// INDICATOR STORE (indicator.Store interface)
// =============================================================================

// Get returns the record with the given id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*indicator.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM indicators WHERE id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &indicator.StoreError{Op: "get", Cause: err}
	}
	return rec, nil
}

// List returns records matching the filter, ordered by due date then id.
func (s *Store) List(ctx context.Context, f indicator.Filter) ([]indicator.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM indicators WHERE 1=1`
	var args []any
	if f.ProjectID != 0 {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.CategoryID != 0 {
		query += ` AND category_id = ?`
		args = append(args, f.CategoryID)
	}
	if f.SubcategoryID != 0 {
		query += ` AND subcategory_id = ?`
		args = append(args, f.SubcategoryID)
	}
	if f.TypeID != 0 {
		query += ` AND type_id = ?`
		args = append(args, f.TypeID)
	}
	if f.VisibleOnly {
		query += ` AND visible = TRUE`
	}
	if f.EmptyReferencePeriod {
		query += ` AND (reference_period IS NULL OR reference_period = '')`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &indicator.StoreError{Op: "list", Cause: err}
	}
	defer rows.Close()

	var out []indicator.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &indicator.StoreError{Op: "list", Cause: err}
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &indicator.StoreError{Op: "list", Cause: err}
	}
	return out, nil
}

// LastOccurrence returns the occurrence of baseID with the latest due
// date, or nil if none exist.
func (s *Store) LastOccurrence(ctx context.Context, baseID int64) (*indicator.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM indicators
		WHERE base_id = ? AND current_due_date IS NOT NULL
		ORDER BY current_due_date DESC, id DESC LIMIT 1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, baseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &indicator.StoreError{Op: "last_occurrence", Cause: err}
	}
	return rec, nil
}

// Insert persists one record and returns it with its assigned id.
func (s *Store) Insert(ctx context.Context, rec indicator.Record) (indicator.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.insertTx(ctx, s.db, rec)
	if err != nil {
		return indicator.Record{}, &indicator.StoreError{Op: "insert", Cause: err}
	}
	return out, nil
}

// InsertMany persists records atomically; either the whole batch lands
// or none of it does.
func (s *Store) InsertMany(ctx context.Context, recs []indicator.Record) ([]indicator.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &indicator.StoreError{Op: "insert_many", Cause: err}
	}
	defer tx.Rollback()

	out := make([]indicator.Record, 0, len(recs))
	for _, rec := range recs {
		inserted, err := s.insertTx(ctx, tx, rec)
		if err != nil {
			return nil, &indicator.StoreError{Op: "insert_many", Cause: err}
		}
		out = append(out, inserted)
	}
	if err := tx.Commit(); err != nil {
		return nil, &indicator.StoreError{Op: "insert_many", Cause: err}
	}
	return out, nil
}

func (s *Store) insertTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, rec indicator.Record) (indicator.Record, error) {
	query := `
		INSERT INTO indicators
		(base_id, project_id, category_id, subcategory_id, type_id, unit_type_id,
		 name, description, observation,
		 initial_due_date, current_due_date, reference_period,
		 recurrence_unit, recurrence_interval,
		 presented_value, calculated_value,
		 mandatory, visible, has_document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.ExecContext(ctx, query,
		rec.BaseID, rec.ProjectID, rec.CategoryID, rec.SubcategoryID,
		rec.TypeID, rec.UnitTypeID,
		rec.Name, rec.Description, rec.Observation,
		nullDate(rec.InitialDueDate), nullDate(rec.CurrentDueDate), nullDate(rec.ReferencePeriod),
		rec.Recurrence.Unit.String(), rec.Recurrence.Interval,
		nullDecimalArg(rec.PresentedValue), nullDecimalArg(rec.CalculatedValue),
		rec.Mandatory, rec.Visible, rec.HasDocument,
	)
	if err != nil {
		return indicator.Record{}, err
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return indicator.Record{}, err
	}
	return rec, nil
}

// UpdateFields overwrites every editable column of the record, nulls
// included. Re-applying the same patch is a no-op.
func (s *Store) UpdateFields(ctx context.Context, id int64, patch indicator.FieldPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE indicators SET
			observation = ?,
			current_due_date = ?,
			reference_period = ?,
			presented_value = ?,
			mandatory = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		patch.Observation,
		nullDate(patch.CurrentDueDate),
		nullDate(patch.ReferencePeriod),
		nullDecimalArg(patch.PresentedValue),
		patch.Mandatory,
		id,
	)
	if err != nil {
		return &indicator.StoreError{Op: "update", Cause: err}
	}
	return requireRow(res, "update")
}

// SetReferencePeriod writes only the reference period column.
func (s *Store) SetReferencePeriod(ctx context.Context, id int64, ref indicator.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE indicators SET reference_period = ? WHERE id = ?`,
		nullDate(ref), id,
	)
	if err != nil {
		return &indicator.StoreError{Op: "set_reference_period", Cause: err}
	}
	return requireRow(res, "set_reference_period")
}

// SetVisible toggles the visibility flag.
func (s *Store) SetVisible(ctx context.Context, id int64, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE indicators SET visible = ? WHERE id = ?`,
		visible, id,
	)
	if err != nil {
		return &indicator.StoreError{Op: "set_visible", Cause: err}
	}
	return requireRow(res, "set_visible")
}

// SetDocumentFlag marks whether the record has an attached document.
func (s *Store) SetDocumentFlag(ctx context.Context, id int64, has bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE indicators SET has_document = ? WHERE id = ?`,
		has, id,
	)
	if err != nil {
		return &indicator.StoreError{Op: "set_document_flag", Cause: err}
	}
	return requireRow(res, "set_document_flag")
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &indicator.StoreError{Op: op, Cause: err}
	}
	if n == 0 {
		return indicator.ErrRecordNotFound
	}
	return nil
}

// =============================================================================
// USER STATUS STORE (indicator.UserStatusStore interface)
// =============================================================================

// IsUserActive reports the account status; unknown users default to
// active so a missing row never locks anyone out.
func (s *Store) IsUserActive(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT active FROM users WHERE id = ?`, userID,
	).Scan(&active)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, &indicator.StoreError{Op: "is_user_active", Cause: err}
	}
	return active, nil
}

// SetUserActive upserts the account status row.
func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, active) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET active = excluded.active
	`, userID, active)
	if err != nil {
		return &indicator.StoreError{Op: "set_user_active", Cause: err}
	}
	return nil
}
