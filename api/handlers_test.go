/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Indicator CRUD and expansion over HTTP
- Bulk session lifecycle (export, parse, apply, cancel)
- The deactivated-account gate
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/curatio/indicator-engine/bulk"
	"github.com/curatio/indicator-engine/indicator"
	"github.com/curatio/indicator-engine/indicator/store"
)

func newTestServer(t *testing.T) (*store.Memory, *httptest.Server) {
	t.Helper()
	mem := store.NewMemory()
	h := NewHandler(mem, mem, indicator.NewStatusCache(time.Minute), bulk.MapResolver{}, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(h, RouterOptions{}))
	t.Cleanup(srv.Close)
	return mem, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateAndGetIndicator(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/indicators", CreateIndicatorRequest{
		ProjectID:          7,
		CategoryID:         3,
		TypeID:             1,
		UnitTypeID:         2,
		Name:               "Delivery volume",
		InitialDueDate:     "2024-03-15",
		RecurrenceUnit:     "month",
		RecurrenceInterval: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[IndicatorDTO](t, resp)
	require.NotZero(t, created.ID)
	assert.Equal(t, "2024-03-15", created.CurrentDueDate)
	assert.True(t, created.Visible)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/indicators/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[IndicatorDTO](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "month", got.RecurrenceUnit)
}

func TestCreateIndicator_ValidationFailure(t *testing.T) {
	_, srv := newTestServer(t)

	// Missing name and project.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/indicators", CreateIndicatorRequest{
		CategoryID: 3, TypeID: 1, UnitTypeID: 2,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Unknown recurrence unit is rejected, not coerced.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/indicators", map[string]any{
		"project_id": 7, "category_id": 3, "type_id": 1, "unit_type_id": 2,
		"name": "x", "recurrence_unit": "fortnight",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetIndicator_NotFound(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/indicators/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestPatchIndicator_OverwritesEditableFields(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "x", Visible: true,
		ReferencePeriod: indicator.NewDate(2024, time.February, 15)})

	resp := doJSON(t, http.MethodPatch, srv.URL+"/api/indicators/1", PatchIndicatorRequest{
		Observation:    "checked",
		CurrentDueDate: "2024-06-30",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[IndicatorDTO](t, resp)
	assert.Equal(t, "checked", got.Observation)
	assert.Equal(t, "2024-06-30", got.CurrentDueDate)
	// Omitted fields clear.
	assert.Empty(t, got.ReferencePeriod)
}

func TestSetDocumentFlag(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "x", Visible: true})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/indicators/1/document", SetDocumentFlagRequest{HasDocument: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[map[string]bool](t, resp)
	assert.True(t, got["has_document"])

	rec, _ := mem.Get(t.Context(), 1)
	assert.True(t, rec.HasDocument)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/indicators/1/document", SetDocumentFlagRequest{HasDocument: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	rec, _ = mem.Get(t.Context(), 1)
	assert.False(t, rec.HasDocument)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/indicators/99/document", SetDocumentFlagRequest{HasDocument: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExpandIndicator(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "x", Visible: true,
		InitialDueDate: indicator.NewDate(2024, time.January, 15),
		Recurrence:     indicator.Recurrence{Unit: indicator.UnitMonth, Interval: 1}})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/indicators/1/expand", ExpandRequest{Count: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[ExpandResponse](t, resp)
	assert.Equal(t, 3, got.Created)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/indicators/99/expand", ExpandRequest{Count: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBulkSessionLifecycle(t *testing.T) {
	// GIVEN: One record exported into a bulk session
	// WHEN: Editing, parsing and applying the workbook over HTTP
	// THEN: The store reflects the edit and the session is done

	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "x", Visible: true,
		CurrentDueDate: indicator.NewDate(2024, time.March, 15)})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bulk/export", BulkExportRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get("X-Session-ID")
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "1", resp.Header.Get("X-Row-Count"))

	var workbook bytes.Buffer
	_, err := workbook.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(workbook.Bytes()))
	require.NoError(t, err)
	f.SetCellValue("Indicators", "H2", "bulk edited")
	var edited bytes.Buffer
	_, err = f.WriteTo(&edited)
	require.NoError(t, err)
	f.Close()

	resp, err = http.Post(srv.URL+"/api/bulk/"+sessionID+"/parse", "application/octet-stream", &edited)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed := decodeBody[BulkParseResponse](t, resp)
	assert.Equal(t, 1, parsed.ValidRows)
	assert.Empty(t, parsed.Errors)
	assert.Equal(t, "ready_to_apply", parsed.State)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bulk/"+sessionID+"/apply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decodeBody[BulkApplyResponse](t, resp)
	assert.Equal(t, 1, applied.SuccessCount)
	assert.Equal(t, 0, applied.FailureCount)

	rec, _ := mem.Get(t.Context(), 1)
	assert.Equal(t, "bulk edited", rec.Observation)

	// The session is gone once applied.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bulk/"+sessionID+"/apply", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBulkApply_BeforeParseConflicts(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "x", Visible: true})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bulk/export", BulkExportRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get("X-Session-ID")
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bulk/"+sessionID+"/apply", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestBulkCancel(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "x", Visible: true})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bulk/export", BulkExportRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get("X-Session-ID")
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bulk/"+sessionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decodeBody[SessionStateResponse](t, resp)
	assert.Equal(t, "cancelled", cancelled.State)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bulk/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRequireActiveUser(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.SetUserActive("u-blocked", false)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/indicators", nil)
	req.Header.Set("X-User-ID", "u-blocked")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Unknown users default to active.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/indicators", nil)
	req.Header.Set("X-User-ID", "u-new")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The health probe sits outside the gate.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	req.Header.Set("X-User-ID", "u-blocked")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestListIndicators_FilterQuery(t *testing.T) {
	mem, srv := newTestServer(t)
	mem.Seed(indicator.Record{ID: 1, Name: "a", ProjectID: 1, Visible: true})
	mem.Seed(indicator.Record{ID: 2, Name: "b", ProjectID: 2, Visible: true})
	mem.Seed(indicator.Record{ID: 3, Name: "c", ProjectID: 1, Visible: false})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/indicators?project_id=1&visible_only=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[[]IndicatorDTO](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/indicators?project_id=junk", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPathID_Invalid(t *testing.T) {
	_, srv := newTestServer(t)
	for _, path := range []string{"/api/indicators/abc", "/api/indicators/-1"} {
		resp := doJSON(t, http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, strings.TrimPrefix(path, srv.URL))
		resp.Body.Close()
	}
}
