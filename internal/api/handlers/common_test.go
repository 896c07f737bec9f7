package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    PaginationParams
		wantErr bool
	}{
		{name: "defaults", query: "", want: PaginationParams{Page: 1, PageSize: 50, Offset: 0}},
		{name: "explicit", query: "page=3&page_size=20", want: PaginationParams{Page: 3, PageSize: 20, Offset: 40}},
		{name: "clamped page size", query: "page_size=9000", want: PaginationParams{Page: 1, PageSize: 500, Offset: 0}},
		{name: "non-positive values", query: "page=0&page_size=-1", want: PaginationParams{Page: 1, PageSize: 50, Offset: 0}},
		{name: "invalid page", query: "page=abc", wantErr: true},
		{name: "invalid page size", query: "page_size=x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/scans?"+tt.query, nil)
			got, err := getPaginationParams(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteErrorIncludesCodeAndRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var rec *httptest.ResponseRecorder

	handler := middleware.Logging(logging.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, errors.NewScanError(errors.CodeNotFound, "missing"))
	}))
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeError(t, rec)
	assert.Equal(t, "Not Found", resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Code)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Contains(t, resp.Message, "missing")
}

func TestWriteErrorPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, fmt.Errorf("bad input"))

	resp := decodeError(t, rec)
	assert.Empty(t, resp.Code)
	assert.Equal(t, "bad input", resp.Message)
}

func TestParseJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "valid", payload: `{"name":"web"}`},
		{name: "empty body", payload: "", wantErr: "request body is empty"},
		{name: "unknown field", payload: `{"name":"web","extra":1}`, wantErr: "invalid JSON"},
		{name: "malformed", payload: `{"name":`, wantErr: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.payload == "" {
				req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			} else {
				req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			}

			var dest body
			err := parseJSON(req, &dest)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsCode(err, errors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "web", dest.Name)
		})
	}
}

func TestParseJSONBodyTooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 100)+`"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 16)

	var dest map[string]string
	err := parseJSON(req, &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request body too large (max 16 bytes)")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewScanError(errors.CodeValidation, "x"), http.StatusBadRequest},
		{errors.NewScanError(errors.CodeNotFound, "x"), http.StatusNotFound},
		{errors.NewDatabaseError(errors.CodeConflict, "x"), http.StatusConflict},
		{errors.NewResolutionError("nowhere.invalid", nil), http.StatusUnprocessableEntity},
		{errors.NewScanError(errors.CodeConfiguration, "x"), http.StatusServiceUnavailable},
		{errors.NewDatabaseError(errors.CodeDatabaseConnection, "x"), http.StatusServiceUnavailable},
		{errors.NewScanError(errors.CodeCanceled, "x"), http.StatusGatewayTimeout},
		{errors.NewDatabaseError(errors.CodeDatabaseQuery, "x"), http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}
