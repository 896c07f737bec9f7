package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/logging"
)

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(context.Context) error {
	return f.err
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		database   DatabasePinger
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{name: "healthy database", database: fakePinger{}, wantCode: http.StatusOK, wantStatus: StatusHealthy, wantDB: "ok"},
		{name: "database down", database: fakePinger{err: fmt.Errorf("connection refused")},
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy, wantDB: "failed"},
		{name: "no database", database: nil, wantCode: http.StatusOK, wantStatus: StatusHealthy, wantDB: StatusNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.database, nil, logging.NewDiscard())

			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantDB, resp.Checks["database"])
			assert.Equal(t, "ok", resp.Checks["scanner"])
			assert.Positive(t, resp.Goroutines)
		})
	}
}

func TestHealthReportsSubscribers(t *testing.T) {
	hub := NewProgressHub(logging.NewDiscard())
	defer hub.Close()

	h := NewHealthHandler(nil, hub, nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Subscribers)
}
