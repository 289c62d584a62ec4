/*
Package bulk implements the spreadsheet-based mass-update workflow for
indicator records.

PURPOSE:
  Mass edits go through a three-phase, human-in-the-loop loop:

    export  - snapshot the filtered records into a workbook
    parse   - re-read the edited workbook, validating every row
    apply   - write the validated patches back to the store

  Validation is fail-closed: one bad row blocks the whole batch, because
  an unreviewed bad file must never be partially committed. Apply is
  fail-open: once a batch passed review, a single row's store failure
  does not discard the rest. The asymmetry is deliberate; do not unify
  the two policies.

STATE MACHINE:
  Exporting -> AwaitingUpload -> Validating -> ReadyToApply -> Applying -> Done
  Validating loops back to AwaitingUpload when the file has errors, and
  every non-terminal state can move to Cancelled on user abort.

SEE ALSO:
  - workbook.go: the xlsx encoding this workflow round-trips through
  - autofill.go: the standalone reference-period backfill
*/
package bulk

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/curatio/indicator-engine/indicator"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

type State int

const (
	StateExporting State = iota
	StateAwaitingUpload
	StateValidating
	StateReadyToApply
	StateApplying
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateExporting:
		return "exporting"
	case StateAwaitingUpload:
		return "awaiting_upload"
	case StateValidating:
		return "validating"
	case StateReadyToApply:
		return "ready_to_apply"
	case StateApplying:
		return "applying"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateExporting:      {StateAwaitingUpload, StateCancelled},
	StateAwaitingUpload: {StateValidating, StateCancelled},
	StateValidating:     {StateReadyToApply, StateAwaitingUpload, StateCancelled},
	StateReadyToApply:   {StateApplying, StateCancelled},
	StateApplying:       {StateDone, StateCancelled},
}

// =============================================================================
// NAME RESOLUTION
// =============================================================================

// NameResolver turns the opaque foreign identifiers of a record into the
// display names that read-only export columns show. Membership and naming
// live outside this core, so the caller supplies the mapping.
type NameResolver interface {
	ProjectName(id int64) string
	CategoryName(id int64) string
	TypeName(id int64) string
	UnitTypeName(id int64) string
}

// MapResolver resolves names from in-memory maps, falling back to the
// numeric id when a name is unknown.
type MapResolver struct {
	Projects   map[int64]string
	Categories map[int64]string
	Types      map[int64]string
	UnitTypes  map[int64]string
}

func lookup(m map[int64]string, id int64) string {
	if name, ok := m[id]; ok {
		return name
	}
	return strconv.FormatInt(id, 10)
}

func (r MapResolver) ProjectName(id int64) string  { return lookup(r.Projects, id) }
func (r MapResolver) CategoryName(id int64) string { return lookup(r.Categories, id) }
func (r MapResolver) TypeName(id int64) string     { return lookup(r.Types, id) }
func (r MapResolver) UnitTypeName(id int64) string { return lookup(r.UnitTypes, id) }

// =============================================================================
// RECONCILER
// =============================================================================

// Patch is one validated row ready to apply: the record id plus the full
// editable field set.
type Patch struct {
	ID     int64
	Fields indicator.FieldPatch
}

// Reconciler drives one bulk-update run. A run is single-use: construct,
// export, parse until clean, apply, discard. Runs share nothing, so two
// concurrent runs only interact through the store (last write wins there;
// that limitation belongs to the store, not this component).
type Reconciler struct {
	store    indicator.Store
	resolver NameResolver
	notify   indicator.Notifier
	log      zerolog.Logger

	mu       sync.Mutex
	state    State
	exported map[int64]struct{}
	patches  []Patch
}

// New creates a reconciler in the Exporting state.
func New(store indicator.Store, resolver NameResolver, notify indicator.Notifier, log zerolog.Logger) *Reconciler {
	if notify == nil {
		notify = indicator.NopNotifier{}
	}
	return &Reconciler{
		store:    store,
		resolver: resolver,
		notify:   notify,
		log:      log,
		state:    StateExporting,
	}
}

// State returns the current workflow state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel aborts the run. Terminal states stay terminal.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDone || r.state == StateCancelled {
		return
	}
	r.state = StateCancelled
}

func (r *Reconciler) transition(to State) error {
	for _, next := range transitions[r.state] {
		if next == to {
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
}

// =============================================================================
// EXPORT PHASE
// =============================================================================

// ExportOptions tunes the export phase.
type ExportOptions struct {
	// AutoFillReferencePeriod pre-fills empty reference-period cells for
	// rows with a real recurrence, so the person editing offline does not
	// have to compute them by hand. The store is not touched; only the
	// exported cells are filled.
	AutoFillReferencePeriod bool
}

// ExportResult is the workbook plus what the caller shows the user.
type ExportResult struct {
	Workbook   []byte
	RowCount   int
	AutoFilled int
}

// Export snapshots the records matching the filter into a workbook and
// remembers their ids; only those ids may come back in the upload. Empty
// input is allowed and produces a header-only workbook.
func (r *Reconciler) Export(ctx context.Context, f indicator.Filter, opts ExportOptions) (*ExportResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateExporting {
		return nil, fmt.Errorf("%w: export from %s", ErrInvalidTransition, r.state)
	}

	records, err := r.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("snapshot records: %w", err)
	}

	rows := make([]exportRow, 0, len(records))
	exported := make(map[int64]struct{}, len(records))
	autoFilled := 0

	for _, rec := range records {
		row := exportRow{
			ID:              rec.ID,
			Project:         r.resolver.ProjectName(rec.ProjectID),
			Category:        r.resolver.CategoryName(rec.CategoryID),
			Type:            r.resolver.TypeName(rec.TypeID),
			Name:            rec.Name,
			Description:     rec.Description,
			UnitType:        r.resolver.UnitTypeName(rec.UnitTypeID),
			Observation:     rec.Observation,
			CurrentDueDate:  rec.CurrentDueDate,
			ReferencePeriod: rec.ReferencePeriod,
			Mandatory:       rec.Mandatory,
		}
		if rec.PresentedValue.Valid {
			row.PresentedValue = rec.PresentedValue.Decimal.String()
		}
		if opts.AutoFillReferencePeriod && rec.ReferencePeriod.IsZero() {
			if ref, ok := indicator.ReferencePeriod(rec.CurrentDueDate, rec.Recurrence.Unit, rec.Recurrence.Interval); ok {
				row.ReferencePeriod = ref
				autoFilled++
			}
		}
		rows = append(rows, row)
		exported[rec.ID] = struct{}{}
	}

	data, err := encodeWorkbook(rows)
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}

	r.exported = exported
	if err := r.transition(StateAwaitingUpload); err != nil {
		return nil, err
	}

	r.log.Info().Int("rows", len(rows)).Int("auto_filled", autoFilled).Msg("exported bulk workbook")
	return &ExportResult{Workbook: data, RowCount: len(rows), AutoFilled: autoFilled}, nil
}

// =============================================================================
// PARSE PHASE
// =============================================================================

// ParseResult reports the parse outcome. Errors and patches are mutually
// exclusive: any row error empties the patch set and loops the workflow
// back to AwaitingUpload for a corrected file.
type ParseResult struct {
	ValidRows int
	Errors    []ValidationError
}

// Parse reads an edited workbook back, validating every data row. The
// whole batch is rejected if any row fails; nothing is persisted here.
func (r *Reconciler) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transition(StateValidating); err != nil {
		return nil, err
	}

	rows, err := readDataRows(data)
	if err != nil {
		// Unreadable file: stay in the upload loop.
		r.state = StateAwaitingUpload
		return nil, err
	}
	if len(rows) <= 1 {
		r.state = StateAwaitingUpload
		return nil, ErrEmptyWorkbook
	}

	var (
		patches []Patch
		errs    []ValidationError
	)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		rowNum := i + 1
		patch, rowErrs := r.parseRow(rowNum, row)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		patches = append(patches, patch)
	}

	if len(errs) > 0 {
		r.state = StateAwaitingUpload
		r.patches = nil
		r.log.Warn().Int("errors", len(errs)).Msg("bulk workbook rejected")
		r.notify.Error(fmt.Sprintf("%d error(s) found in the uploaded file", len(errs)))
		return &ParseResult{Errors: errs}, nil
	}

	r.patches = patches
	if err := r.transition(StateReadyToApply); err != nil {
		return nil, err
	}
	r.notify.Success(fmt.Sprintf("%d row(s) validated", len(patches)))
	return &ParseResult{ValidRows: len(patches)}, nil
}

// parseRow validates one data row. Only the id and the editable columns
// are read; whatever the uploader did to read-only cells is ignored.
func (r *Reconciler) parseRow(rowNum int, row []string) (Patch, []ValidationError) {
	var errs []ValidationError

	rawID := strings.TrimSpace(cellAt(row, colID))
	if rawID == "" {
		return Patch{}, []ValidationError{{Row: rowNum, Field: FieldID, Reason: "id is required"}}
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Patch{}, []ValidationError{{Row: rowNum, Field: FieldID, Reason: fmt.Sprintf("invalid id %q", rawID)}}
	}
	if _, ok := r.exported[id]; !ok {
		return Patch{}, []ValidationError{{Row: rowNum, Field: FieldID, Reason: fmt.Sprintf("id %d was not part of the exported snapshot", id)}}
	}

	var fields indicator.FieldPatch
	fields.Observation = strings.TrimSpace(cellAt(row, colObservation))

	due, err := parseDateCell(strings.TrimSpace(cellAt(row, colDueDate)))
	if err != nil {
		errs = append(errs, ValidationError{Row: rowNum, Field: "current_due_date", Reason: err.Error()})
	} else {
		fields.CurrentDueDate = due
	}

	ref, err := parseDateCell(strings.TrimSpace(cellAt(row, colReferencePeriod)))
	if err != nil {
		errs = append(errs, ValidationError{Row: rowNum, Field: "reference_period", Reason: err.Error()})
	} else {
		fields.ReferencePeriod = ref
	}

	rawValue := strings.TrimSpace(cellAt(row, colPresentedValue))
	if rawValue != "" {
		dec, err := decimal.NewFromString(rawValue)
		if err != nil {
			errs = append(errs, ValidationError{Row: rowNum, Field: "presented_value", Reason: fmt.Sprintf("must be a number, got %q", rawValue)})
		} else {
			fields.PresentedValue = decimal.NullDecimal{Decimal: dec, Valid: true}
		}
	}

	rawMandatory := strings.ToLower(strings.TrimSpace(cellAt(row, colMandatory)))
	switch rawMandatory {
	case "", "false":
		fields.Mandatory = false
	case "true":
		fields.Mandatory = true
	default:
		errs = append(errs, ValidationError{Row: rowNum, Field: "mandatory", Reason: fmt.Sprintf(`must be "true" or "false", got %q`, rawMandatory)})
	}

	if len(errs) > 0 {
		return Patch{}, errs
	}
	return Patch{ID: id, Fields: fields}, nil
}

// =============================================================================
// APPLY PHASE
// =============================================================================

// ApplyResult aggregates exactly one outcome per patch.
type ApplyResult struct {
	SuccessCount int
	FailureCount int
	Failures     []*RowApplyError
}

// Apply writes every validated patch, one row in flight at a time. Row
// failures are counted and logged but never stop the loop: once a batch
// passed review, the rows that can land, land. There is no cancellation
// once started; the loop runs its patch set to completion.
func (r *Reconciler) Apply(ctx context.Context) (*ApplyResult, error) {
	r.mu.Lock()
	if err := r.transition(StateApplying); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	patches := r.patches
	r.mu.Unlock()

	result := &ApplyResult{}
	for _, p := range patches {
		if err := r.store.UpdateFields(ctx, p.ID, p.Fields); err != nil {
			result.FailureCount++
			result.Failures = append(result.Failures, &RowApplyError{ID: p.ID, Cause: err})
			r.log.Error().Err(err).Int64("id", p.ID).Msg("bulk apply row failed")
			continue
		}
		result.SuccessCount++
	}

	r.mu.Lock()
	if err := r.transition(StateDone); err != nil {
		r.mu.Unlock()
		return result, err
	}
	r.mu.Unlock()

	if result.SuccessCount > 0 {
		r.notify.Success(fmt.Sprintf("%d record(s) updated", result.SuccessCount))
	}
	if result.FailureCount > 0 {
		r.notify.Error(fmt.Sprintf("%d record(s) failed to update", result.FailureCount))
	}
	r.log.Info().
		Int("success", result.SuccessCount).
		Int("failure", result.FailureCount).
		Msg("bulk apply finished")
	return result, nil
}
