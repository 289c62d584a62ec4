package bulk

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidTransition is returned when a workflow method is called
	// from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrSheetNotFound is returned when the uploaded workbook is missing
	// the data worksheet.
	ErrSheetNotFound = errors.New("data worksheet not found in workbook")

	// ErrEmptyWorkbook is returned when the uploaded file has no data rows
	// beyond the header.
	ErrEmptyWorkbook = errors.New("workbook contains no data rows")
)

// =============================================================================
// ROW-LEVEL ERRORS
// =============================================================================

// FieldID is the field name used on row errors about the id column itself
// (missing, malformed, or not part of the exported snapshot).
const FieldID = "id"

// ValidationError is one parse-phase failure, indexed by workbook row.
// Row numbers are 1-based and include the header, matching what the user
// sees in their spreadsheet application.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// RowApplyError is one apply-phase failure. It never aborts the apply
// loop; failures are aggregated into the result's failure count.
type RowApplyError struct {
	ID    int64
	Cause error
}

func (e *RowApplyError) Error() string {
	return fmt.Sprintf("apply id %d: %v", e.ID, e.Cause)
}

func (e *RowApplyError) Unwrap() error { return e.Cause }
