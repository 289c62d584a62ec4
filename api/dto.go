/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags; handlers validate
  after decoding and before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - indicator/types.go: The domain model these project
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/curatio/indicator-engine/bulk"
	"github.com/curatio/indicator-engine/indicator"
)

// =============================================================================
// INDICATOR TYPES
// =============================================================================

// IndicatorDTO represents an indicator record in API responses. Dates
// are YYYY-MM-DD strings; empty string means unset. Values are decimal
// strings to avoid float drift in clients.
type IndicatorDTO struct {
	ID     int64 `json:"id"`
	BaseID int64 `json:"base_id,omitempty"`

	ProjectID     int64 `json:"project_id"`
	CategoryID    int64 `json:"category_id"`
	SubcategoryID int64 `json:"subcategory_id,omitempty"`
	TypeID        int64 `json:"type_id"`
	UnitTypeID    int64 `json:"unit_type_id"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Observation string `json:"observation,omitempty"`

	InitialDueDate  string `json:"initial_due_date,omitempty"`
	CurrentDueDate  string `json:"current_due_date,omitempty"`
	ReferencePeriod string `json:"reference_period,omitempty"`

	RecurrenceUnit     string `json:"recurrence_unit"`
	RecurrenceInterval int    `json:"recurrence_interval,omitempty"`

	PresentedValue  string `json:"presented_value,omitempty"`
	CalculatedValue string `json:"calculated_value,omitempty"`

	Mandatory   bool `json:"mandatory"`
	Visible     bool `json:"visible"`
	HasDocument bool `json:"has_document"`
}

func toIndicatorDTO(rec indicator.Record) IndicatorDTO {
	dto := IndicatorDTO{
		ID:                 rec.ID,
		BaseID:             rec.BaseID,
		ProjectID:          rec.ProjectID,
		CategoryID:         rec.CategoryID,
		SubcategoryID:      rec.SubcategoryID,
		TypeID:             rec.TypeID,
		UnitTypeID:         rec.UnitTypeID,
		Name:               rec.Name,
		Description:        rec.Description,
		Observation:        rec.Observation,
		InitialDueDate:     rec.InitialDueDate.String(),
		CurrentDueDate:     rec.CurrentDueDate.String(),
		ReferencePeriod:    rec.ReferencePeriod.String(),
		RecurrenceUnit:     rec.Recurrence.Unit.String(),
		RecurrenceInterval: rec.Recurrence.Interval,
		Mandatory:          rec.Mandatory,
		Visible:            rec.Visible,
		HasDocument:        rec.HasDocument,
	}
	if rec.PresentedValue.Valid {
		dto.PresentedValue = rec.PresentedValue.Decimal.String()
	}
	if rec.CalculatedValue.Valid {
		dto.CalculatedValue = rec.CalculatedValue.Decimal.String()
	}
	return dto
}

// CreateIndicatorRequest is the request to create an indicator.
type CreateIndicatorRequest struct {
	ProjectID     int64 `json:"project_id" validate:"required,gt=0"`
	CategoryID    int64 `json:"category_id" validate:"required,gt=0"`
	SubcategoryID int64 `json:"subcategory_id" validate:"gte=0"`
	TypeID        int64 `json:"type_id" validate:"required,gt=0"`
	UnitTypeID    int64 `json:"unit_type_id" validate:"required,gt=0"`

	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Observation string `json:"observation" validate:"max=2000"`

	InitialDueDate  string `json:"initial_due_date" validate:"omitempty,datetime=2006-01-02"`
	ReferencePeriod string `json:"reference_period" validate:"omitempty,datetime=2006-01-02"`

	RecurrenceUnit     string `json:"recurrence_unit" validate:"omitempty,oneof=none day month year"`
	RecurrenceInterval int    `json:"recurrence_interval" validate:"gte=0"`

	PresentedValue string `json:"presented_value" validate:"omitempty,number"`
	Mandatory      bool   `json:"mandatory"`
}

func (req CreateIndicatorRequest) toRecord() (indicator.Record, error) {
	unit, err := indicator.ParseRecurrenceUnit(req.RecurrenceUnit)
	if err != nil {
		return indicator.Record{}, err
	}

	rec := indicator.Record{
		ProjectID:     req.ProjectID,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		TypeID:        req.TypeID,
		UnitTypeID:    req.UnitTypeID,
		Name:          req.Name,
		Description:   req.Description,
		Observation:   req.Observation,
		Recurrence:    indicator.Recurrence{Unit: unit, Interval: req.RecurrenceInterval},
		Mandatory:     req.Mandatory,
		Visible:       true,
	}
	if rec.InitialDueDate, err = parseOptionalDate(req.InitialDueDate); err != nil {
		return indicator.Record{}, err
	}
	rec.CurrentDueDate = rec.InitialDueDate
	if rec.ReferencePeriod, err = parseOptionalDate(req.ReferencePeriod); err != nil {
		return indicator.Record{}, err
	}
	if req.PresentedValue != "" {
		d, err := decimal.NewFromString(req.PresentedValue)
		if err != nil {
			return indicator.Record{}, err
		}
		rec.PresentedValue = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return rec, nil
}

// PatchIndicatorRequest carries the full editable field set; omitted
// fields clear their columns, mirroring the bulk workflow's whole-patch
// semantics.
type PatchIndicatorRequest struct {
	Observation     string `json:"observation" validate:"max=2000"`
	CurrentDueDate  string `json:"current_due_date" validate:"omitempty,datetime=2006-01-02"`
	ReferencePeriod string `json:"reference_period" validate:"omitempty,datetime=2006-01-02"`
	PresentedValue  string `json:"presented_value" validate:"omitempty,number"`
	Mandatory       bool   `json:"mandatory"`
}

func (req PatchIndicatorRequest) toFieldPatch() (indicator.FieldPatch, error) {
	patch := indicator.FieldPatch{
		Observation: req.Observation,
		Mandatory:   req.Mandatory,
	}
	var err error
	if patch.CurrentDueDate, err = parseOptionalDate(req.CurrentDueDate); err != nil {
		return indicator.FieldPatch{}, err
	}
	if patch.ReferencePeriod, err = parseOptionalDate(req.ReferencePeriod); err != nil {
		return indicator.FieldPatch{}, err
	}
	if req.PresentedValue != "" {
		d, err := decimal.NewFromString(req.PresentedValue)
		if err != nil {
			return indicator.FieldPatch{}, err
		}
		patch.PresentedValue = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return patch, nil
}

func parseOptionalDate(s string) (indicator.Date, error) {
	if s == "" {
		return indicator.Date{}, nil
	}
	return indicator.ParseDate(s)
}

// SetVisibilityRequest toggles the visibility flag.
type SetVisibilityRequest struct {
	Visible bool `json:"visible"`
}

// SetDocumentFlagRequest records whether a supporting document is
// attached. Documents themselves live in the deployment's file store;
// the engine only mirrors the flag.
type SetDocumentFlagRequest struct {
	HasDocument bool `json:"has_document"`
}

// ExpandRequest asks for N future occurrences of a base record.
type ExpandRequest struct {
	Count int `json:"count" validate:"required,gt=0,lte=120"`
}

// ExpandResponse reports how many occurrences were created.
type ExpandResponse struct {
	Created int `json:"created"`
}

// =============================================================================
// BULK WORKFLOW TYPES
// =============================================================================

// BulkExportRequest starts a bulk-update session.
type BulkExportRequest struct {
	ProjectID     int64 `json:"project_id" validate:"gte=0"`
	CategoryID    int64 `json:"category_id" validate:"gte=0"`
	SubcategoryID int64 `json:"subcategory_id" validate:"gte=0"`
	TypeID        int64 `json:"type_id" validate:"gte=0"`
	VisibleOnly   bool  `json:"visible_only"`

	AutoFillReferencePeriod bool `json:"auto_fill_reference_period"`
}

func (req BulkExportRequest) toFilter() indicator.Filter {
	return indicator.Filter{
		ProjectID:     req.ProjectID,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		TypeID:        req.TypeID,
		VisibleOnly:   req.VisibleOnly,
	}
}

// BulkParseResponse reports the validation outcome for an upload.
type BulkParseResponse struct {
	SessionID string               `json:"session_id"`
	State     string               `json:"state"`
	ValidRows int                  `json:"valid_rows"`
	Errors    []ValidationErrorDTO `json:"errors,omitempty"`
}

// ValidationErrorDTO is one row-level validation failure.
type ValidationErrorDTO struct {
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func toValidationErrorDTOs(errs []bulk.ValidationError) []ValidationErrorDTO {
	out := make([]ValidationErrorDTO, len(errs))
	for i, e := range errs {
		out[i] = ValidationErrorDTO{Row: e.Row, Field: e.Field, Reason: e.Reason}
	}
	return out
}

// BulkApplyResponse reports per-row apply outcomes.
type BulkApplyResponse struct {
	SessionID    string          `json:"session_id"`
	State        string          `json:"state"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	Failures     []RowFailureDTO `json:"failures,omitempty"`
}

// RowFailureDTO is one row that failed to apply.
type RowFailureDTO struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// SessionStateResponse is the generic session status payload.
type SessionStateResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// =============================================================================
// AUTO-FILL TYPES
// =============================================================================

// AutoFillRequest selects the records whose reference periods should be
// computed and persisted.
type AutoFillRequest struct {
	ProjectID     int64 `json:"project_id" validate:"gte=0"`
	CategoryID    int64 `json:"category_id" validate:"gte=0"`
	SubcategoryID int64 `json:"subcategory_id" validate:"gte=0"`
	TypeID        int64 `json:"type_id" validate:"gte=0"`
}

// AutoFillResponse reports the backfill outcome.
type AutoFillResponse struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
