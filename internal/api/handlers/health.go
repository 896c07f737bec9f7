package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/portscout/internal/logging"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	PingContext(ctx context.Context) error
}

const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Goroutines  int               `json:"goroutines"`
	Subscribers int               `json:"progress_subscribers"`
	Checks      map[string]string `json:"checks"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	database  DatabasePinger
	hub       *ProgressHub
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database may be nil.
func NewHealthHandler(database DatabasePinger, hub *ProgressHub, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{
		database:  database,
		hub:       hub,
		logger:    logger.WithFields("handler", "health"),
		startTime: time.Now(),
	}
}

// Health reports service health. A configured but unreachable database makes
// the service unhealthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := StatusHealthy
	checks := map[string]string{"scanner": "ok"}

	if h.database != nil {
		if err := h.database.PingContext(ctx); err != nil {
			status = StatusUnhealthy
			checks["database"] = "failed"
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = StatusNotConfigured
	}

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     checks,
	}
	if h.hub != nil {
		response.Subscribers = h.hub.ClientCount()
	}

	statusCode := http.StatusOK
	if status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}
