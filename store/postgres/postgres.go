/*
Package postgres provides a PostgreSQL-backed implementation of the
storage interfaces.

PURPOSE:
  Implements indicator.Store and indicator.UserStatusStore on pgxpool
  for hosted deployments. Semantics mirror store/sqlite exactly; only
  the SQL dialect and concurrency model differ - the database handles
  concurrency, so there is no process-level mutex here.

USAGE:
  st, err := postgres.Open(ctx, postgres.Config{URL: dsn})
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - store/sqlite: the single-node backend with the same semantics
  - indicator/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/curatio/indicator-engine/indicator"
)

// Config configures the pgx pool.
type Config struct {
	URL      string
	MaxConns int32
}

// Store implements indicator.Store and indicator.UserStatusStore on a
// pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, applies the schema, and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	st := &Store{pool: pool}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return st, nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indicators (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		base_id BIGINT NOT NULL DEFAULT 0,
		project_id BIGINT NOT NULL DEFAULT 0,
		category_id BIGINT NOT NULL DEFAULT 0,
		subcategory_id BIGINT NOT NULL DEFAULT 0,
		type_id BIGINT NOT NULL DEFAULT 0,
		unit_type_id BIGINT NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		observation TEXT NOT NULL DEFAULT '',
		initial_due_date DATE,
		current_due_date DATE,
		reference_period DATE,
		recurrence_unit TEXT NOT NULL DEFAULT 'none',
		recurrence_interval INT NOT NULL DEFAULT 0,
		presented_value NUMERIC,
		calculated_value NUMERIC,
		mandatory BOOLEAN NOT NULL DEFAULT FALSE,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		has_document BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_indicators_project
		ON indicators(project_id);
	CREATE INDEX IF NOT EXISTS idx_indicators_category
		ON indicators(category_id, subcategory_id);
	CREATE INDEX IF NOT EXISTS idx_indicators_base_due
		ON indicators(base_id, current_due_date DESC);
	CREATE INDEX IF NOT EXISTS idx_indicators_empty_reference
		ON indicators(id) WHERE reference_period IS NULL;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// SQL <-> DOMAIN MAPPING
// =============================================================================

const recordColumns = `id, base_id, project_id, category_id, subcategory_id,
	type_id, unit_type_id, name, description, observation,
	to_char(initial_due_date, 'YYYY-MM-DD'),
	to_char(current_due_date, 'YYYY-MM-DD'),
	to_char(reference_period, 'YYYY-MM-DD'),
	recurrence_unit, recurrence_interval,
	presented_value::text, calculated_value::text,
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

func scanRecord(row pgx.Row) (*indicator.Record, error) {
	var (
		rec                 indicator.Record
		initial, due, ref   *string
		unit                string
		presented, computed *string
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

	if rec.InitialDueDate, err = parseDatePtr(initial); err != nil {
		return nil, fmt.Errorf("initial_due_date: %w", err)
	}
	if rec.CurrentDueDate, err = parseDatePtr(due); err != nil {
		return nil, fmt.Errorf("current_due_date: %w", err)
	}
	if rec.ReferencePeriod, err = parseDatePtr(ref); err != nil {
		return nil, fmt.Errorf("reference_period: %w", err)
	}
	if rec.Recurrence.Unit, err = indicator.ParseRecurrenceUnit(unit); err != nil {
		return nil, err
	}
	if rec.PresentedValue, err = parseDecimalPtr(presented); err != nil {
		return nil, fmt.Errorf("presented_value: %w", err)
	}
	if rec.CalculatedValue, err = parseDecimalPtr(computed); err != nil {
		return nil, fmt.Errorf("calculated_value: %w", err)
	}
	return &rec, nil
}

func parseDatePtr(s *string) (indicator.Date, error) {
	if s == nil || *s == "" {
		return indicator.Date{}, nil
	}
	return indicator.ParseDate(*s)
}

func parseDecimalPtr(s *string) (decimal.NullDecimal, error) {
	if s == nil || *s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
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
	query := `SELECT ` + recordColumns + ` FROM indicators WHERE id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &indicator.StoreError{Op: "get", Cause: err}
	}
	return rec, nil
}

// List returns records matching the filter, ordered by due date then id.
func (s *Store) List(ctx context.Context, f indicator.Filter) ([]indicator.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM indicators WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ProjectID != 0 {
		query += ` AND project_id = ` + arg(f.ProjectID)
	}
	if f.CategoryID != 0 {
		query += ` AND category_id = ` + arg(f.CategoryID)
	}
	if f.SubcategoryID != 0 {
		query += ` AND subcategory_id = ` + arg(f.SubcategoryID)
	}
	if f.TypeID != 0 {
		query += ` AND type_id = ` + arg(f.TypeID)
	}
	if f.VisibleOnly {
		query += ` AND visible`
	}
	if f.EmptyReferencePeriod {
		query += ` AND reference_period IS NULL`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
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
	query := `SELECT ` + recordColumns + ` FROM indicators
		WHERE base_id = $1 AND current_due_date IS NOT NULL
		ORDER BY current_due_date DESC, id DESC LIMIT 1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, baseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &indicator.StoreError{Op: "last_occurrence", Cause: err}
	}
	return rec, nil
}

const insertQuery = `
	INSERT INTO indicators
	(base_id, project_id, category_id, subcategory_id, type_id, unit_type_id,
	 name, description, observation,
	 initial_due_date, current_due_date, reference_period,
	 recurrence_unit, recurrence_interval,
	 presented_value, calculated_value,
	 mandatory, visible, has_document)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
	        $10::date, $11::date, $12::date,
	        $13, $14, $15::numeric, $16::numeric, $17, $18, $19)
	RETURNING id
`

func insertArgs(rec indicator.Record) []any {
	return []any{
		rec.BaseID, rec.ProjectID, rec.CategoryID, rec.SubcategoryID,
		rec.TypeID, rec.UnitTypeID,
		rec.Name, rec.Description, rec.Observation,
		nullDate(rec.InitialDueDate), nullDate(rec.CurrentDueDate), nullDate(rec.ReferencePeriod),
		rec.Recurrence.Unit.String(), rec.Recurrence.Interval,
		nullDecimalArg(rec.PresentedValue), nullDecimalArg(rec.CalculatedValue),
		rec.Mandatory, rec.Visible, rec.HasDocument,
	}
}

// Insert persists one record and returns it with its assigned id.
func (s *Store) Insert(ctx context.Context, rec indicator.Record) (indicator.Record, error) {
	err := s.pool.QueryRow(ctx, insertQuery, insertArgs(rec)...).Scan(&rec.ID)
	if err != nil {
		return indicator.Record{}, &indicator.StoreError{Op: "insert", Cause: err}
	}
	return rec, nil
}

// InsertMany persists records atomically; either the whole batch lands
// or none of it does.
func (s *Store) InsertMany(ctx context.Context, recs []indicator.Record) ([]indicator.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &indicator.StoreError{Op: "insert_many", Cause: err}
	}
	defer tx.Rollback(ctx)

	out := make([]indicator.Record, 0, len(recs))
	for _, rec := range recs {
		if err := tx.QueryRow(ctx, insertQuery, insertArgs(rec)...).Scan(&rec.ID); err != nil {
			return nil, &indicator.StoreError{Op: "insert_many", Cause: err}
		}
		out = append(out, rec)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &indicator.StoreError{Op: "insert_many", Cause: err}
	}
	return out, nil
}

// UpdateFields overwrites every editable column of the record, nulls
// included. Re-applying the same patch is a no-op.
func (s *Store) UpdateFields(ctx context.Context, id int64, patch indicator.FieldPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE indicators SET
			observation = $1,
			current_due_date = $2::date,
			reference_period = $3::date,
			presented_value = $4::numeric,
			mandatory = $5
		WHERE id = $6
	`,
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
	if tag.RowsAffected() == 0 {
		return indicator.ErrRecordNotFound
	}
	return nil
}

// SetReferencePeriod writes only the reference period column.
func (s *Store) SetReferencePeriod(ctx context.Context, id int64, ref indicator.Date) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE indicators SET reference_period = $1::date WHERE id = $2`,
		nullDate(ref), id,
	)
	if err != nil {
		return &indicator.StoreError{Op: "set_reference_period", Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return indicator.ErrRecordNotFound
	}
	return nil
}

// SetVisible toggles the visibility flag.
func (s *Store) SetVisible(ctx context.Context, id int64, visible bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE indicators SET visible = $1 WHERE id = $2`, visible, id)
	if err != nil {
		return &indicator.StoreError{Op: "set_visible", Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return indicator.ErrRecordNotFound
	}
	return nil
}

// SetDocumentFlag marks whether the record has an attached document.
func (s *Store) SetDocumentFlag(ctx context.Context, id int64, has bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE indicators SET has_document = $1 WHERE id = $2`, has, id)
	if err != nil {
		return &indicator.StoreError{Op: "set_document_flag", Cause: err}
	}
	if tag.RowsAffected() == 0 {
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
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT active FROM users WHERE id = $1`, userID,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, &indicator.StoreError{Op: "is_user_active", Cause: err}
	}
	return active, nil
}

// SetUserActive upserts the account status row.
func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, active) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active
	`, userID, active)
	if err != nil {
		return &indicator.StoreError{Op: "set_user_active", Cause: err}
	}
	return nil
}
