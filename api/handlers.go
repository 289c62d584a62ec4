/*
handlers.go - HTTP API handlers for the indicator engine

PURPOSE:
  Exposes the indicator engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Indicators:
    GET    /api/indicators                  List (filter via query params)
    POST   /api/indicators                  Create
    GET    /api/indicators/{id}             Get one
    PATCH  /api/indicators/{id}             Update editable fields
    POST   /api/indicators/{id}/visibility  Show/hide
    POST   /api/indicators/{id}/document    Mirror the attached-document flag
    POST   /api/indicators/{id}/expand      Generate future occurrences

  Bulk workflow:
    POST   /api/bulk/export                 Start a session, download xlsx
    POST   /api/bulk/{session}/parse        Upload the edited workbook
    POST   /api/bulk/{session}/apply        Commit validated rows
    POST   /api/bulk/{session}/cancel       Abort the session

  Auto-fill:
    POST   /api/autofill                    Backfill reference periods

  Health:
    GET    /api/health                      Liveness probe

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic (expander, reconciler, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record or session not found
  - 409: Session state conflicts (parse before export, double apply)
  - 503: Store unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - sessions.go: Bulk session registry
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/curatio/indicator-engine/bulk"
	"github.com/curatio/indicator-engine/indicator"
)

// maxUploadBytes bounds workbook uploads. The largest realistic export
// is well under a megabyte; 16 MiB leaves room without letting a bad
// client exhaust memory.
const maxUploadBytes = 16 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    indicator.Store
	Users    indicator.UserStatusStore
	Status   *indicator.StatusCache
	Resolver bulk.NameResolver
	Sessions *SessionRegistry
	Log      zerolog.Logger

	expander *indicator.Expander
	validate *validator.Validate
}

// NewHandler creates a handler wired to the given dependencies.
func NewHandler(store indicator.Store, users indicator.UserStatusStore, status *indicator.StatusCache, resolver bulk.NameResolver, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Users:    users,
		Status:   status,
		Resolver: resolver,
		Sessions: NewSessionRegistry(),
		Log:      log,
		expander: indicator.NewExpander(store, log),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// INDICATOR HANDLERS
// =============================================================================

// ListIndicators returns records matching the query filter.
// GET /api/indicators?project_id=&category_id=&subcategory_id=&type_id=&visible_only=
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	records, err := h.Store.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, "Failed to list indicators", err)
		return
	}

	dtos := make([]IndicatorDTO, len(records))
	for i, rec := range records {
		dtos[i] = toIndicatorDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateIndicator creates a record.
// POST /api/indicators
func (h *Handler) CreateIndicator(w http.ResponseWriter, r *http.Request) {
	var req CreateIndicatorRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := req.toRecord()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid indicator", err)
		return
	}

	inserted, err := h.Store.Insert(r.Context(), rec)
	if err != nil {
		writeStoreError(w, "Failed to create indicator", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIndicatorDTO(inserted))
}

// GetIndicator returns a single record.
// GET /api/indicators/{id}
func (h *Handler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to load indicator", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Indicator not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIndicatorDTO(*rec))
}

// PatchIndicator overwrites the editable field set of a record.
// PATCH /api/indicators/{id}
func (h *Handler) PatchIndicator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req PatchIndicatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch, err := req.toFieldPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid patch", err)
		return
	}

	if err := h.Store.UpdateFields(r.Context(), id, patch); err != nil {
		if indicator.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Indicator not found", nil)
			return
		}
		writeStoreError(w, "Failed to update indicator", err)
		return
	}

	rec, err := h.Store.Get(r.Context(), id)
	if err != nil || rec == nil {
		writeStoreError(w, "Failed to reload indicator", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndicatorDTO(*rec))
}

// SetVisibility shows or hides a record.
// POST /api/indicators/{id}/visibility
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req SetVisibilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Store.SetVisible(r.Context(), id, req.Visible); err != nil {
		if indicator.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Indicator not found", nil)
			return
		}
		writeStoreError(w, "Failed to update visibility", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": req.Visible})
}

// SetDocumentFlag marks whether a record has an attached document.
// POST /api/indicators/{id}/document
func (h *Handler) SetDocumentFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req SetDocumentFlagRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Store.SetDocumentFlag(r.Context(), id, req.HasDocument); err != nil {
		if indicator.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Indicator not found", nil)
			return
		}
		writeStoreError(w, "Failed to update document flag", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_document": req.HasDocument})
}

// ExpandIndicator generates future occurrences of a base record.
// POST /api/indicators/{id}/expand
func (h *Handler) ExpandIndicator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ExpandRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.expander.Expand(r.Context(), id, req.Count)
	if err != nil {
		switch {
		case errors.Is(err, indicator.ErrBaseNotFound):
			writeError(w, http.StatusNotFound, "Indicator not found", nil)
		case indicator.IsClientError(err):
			writeError(w, http.StatusBadRequest, "Cannot expand indicator", err)
		default:
			writeStoreError(w, "Failed to expand indicator", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, ExpandResponse{Created: created})
}

// =============================================================================
// BULK WORKFLOW HANDLERS
// =============================================================================

// BulkExport starts a session and streams the workbook. The session id
// travels in the X-Session-ID header because the body is the xlsx file.
// POST /api/bulk/export
func (h *Handler) BulkExport(w http.ResponseWriter, r *http.Request) {
	var req BulkExportRequest
	if !h.decode(w, r, &req) {
		return
	}

	run := bulk.New(h.Store, h.Resolver, indicator.LogNotifier{Log: h.Log}, h.Log)
	res, err := run.Export(r.Context(), req.toFilter(), bulk.ExportOptions{
		AutoFillReferencePeriod: req.AutoFillReferencePeriod,
	})
	if err != nil {
		writeStoreError(w, "Failed to export workbook", err)
		return
	}

	sessionID := h.Sessions.Put(run)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="indicators.xlsx"`)
	w.Header().Set("X-Session-ID", sessionID)
	w.Header().Set("X-Row-Count", strconv.Itoa(res.RowCount))
	w.Header().Set("X-Auto-Filled", strconv.Itoa(res.AutoFilled))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Workbook)
}

// BulkParse validates an uploaded workbook against its session.
// POST /api/bulk/{session}/parse
func (h *Handler) BulkParse(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	run := h.Sessions.Get(sessionID)
	if run == nil {
		writeError(w, http.StatusNotFound, "Unknown bulk session", nil)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload", err)
		return
	}

	res, err := run.Parse(r.Context(), data)
	if err != nil {
		if errors.Is(err, bulk.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "Session is not awaiting an upload", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Unreadable workbook", err)
		return
	}

	writeJSON(w, http.StatusOK, BulkParseResponse{
		SessionID: sessionID,
		State:     run.State().String(),
		ValidRows: res.ValidRows,
		Errors:    toValidationErrorDTOs(res.Errors),
	})
}

// BulkApply commits the validated rows of a session.
// POST /api/bulk/{session}/apply
func (h *Handler) BulkApply(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	run := h.Sessions.Get(sessionID)
	if run == nil {
		writeError(w, http.StatusNotFound, "Unknown bulk session", nil)
		return
	}

	res, err := run.Apply(r.Context())
	if err != nil {
		if errors.Is(err, bulk.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "Session has no validated rows to apply", err)
			return
		}
		writeStoreError(w, "Failed to apply bulk update", err)
		return
	}
	h.Sessions.Remove(sessionID)

	resp := BulkApplyResponse{
		SessionID:    sessionID,
		State:        run.State().String(),
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, RowFailureDTO{ID: f.ID, Reason: f.Cause.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// BulkCancel aborts a session.
// POST /api/bulk/{session}/cancel
func (h *Handler) BulkCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	run := h.Sessions.Get(sessionID)
	if run == nil {
		writeError(w, http.StatusNotFound, "Unknown bulk session", nil)
		return
	}
	run.Cancel()
	h.Sessions.Remove(sessionID)
	writeJSON(w, http.StatusOK, SessionStateResponse{
		SessionID: sessionID,
		State:     run.State().String(),
	})
}

// =============================================================================
// AUTO-FILL HANDLER
// =============================================================================

// AutoFillReferencePeriods backfills unset reference periods.
// POST /api/autofill
func (h *Handler) AutoFillReferencePeriods(w http.ResponseWriter, r *http.Request) {
	var req AutoFillRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := bulk.AutoFill(r.Context(), h.Store, indicator.Filter{
		ProjectID:     req.ProjectID,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		TypeID:        req.TypeID,
	}, indicator.LogNotifier{Log: h.Log}, h.Log)
	if err != nil {
		writeStoreError(w, "Failed to auto-fill reference periods", err)
		return
	}
	writeJSON(w, http.StatusOK, AutoFillResponse{
		Updated: res.Updated,
		Skipped: res.Skipped,
		Failed:  res.Failed,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// USER GATE MIDDLEWARE
// =============================================================================

// RequireActiveUser rejects requests from deactivated accounts. The
// caller identifies itself with the X-User-ID header; lookups go
// through the status cache so a burst of requests costs one store hit.
// Requests without the header pass through: authentication lives in
// the deployment's gateway, this is only the deactivation gate.
func (h *Handler) RequireActiveUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" || h.Users == nil {
			next.ServeHTTP(w, r)
			return
		}

		active, err := h.Status.GetOrFetch(r.Context(), userID, func(ctx context.Context) (bool, error) {
			return h.Users.IsUserActive(ctx, userID)
		})
		if err != nil {
			writeStoreError(w, "Failed to check account status", err)
			return
		}
		if !active {
			writeError(w, http.StatusForbidden, "Account is deactivated", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads, decodes and validates a JSON request body. It writes
// the error response itself and reports whether the handler should
// continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid id %q", raw), nil)
		return 0, false
	}
	return id, true
}

func filterFromQuery(r *http.Request) (indicator.Filter, error) {
	var f indicator.Filter
	q := r.URL.Query()
	for _, item := range []struct {
		key string
		dst *int64
	}{
		{"project_id", &f.ProjectID},
		{"category_id", &f.CategoryID},
		{"subcategory_id", &f.SubcategoryID},
		{"type_id", &f.TypeID},
	} {
		raw := q.Get(item.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return indicator.Filter{}, fmt.Errorf("invalid %s %q", item.key, raw)
		}
		*item.dst = v
	}
	f.VisibleOnly = q.Get("visible_only") == "true"
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps store failures to 503 and everything else to 500.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, indicator.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, message, err)
}
