package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/scanning"
)

// Scanner runs one scan.
type Scanner interface {
	Run(ctx context.Context, req *scanning.ScanRequest) (*scanning.ScanSummary, error)
}

// ScannerFactory builds a scanner that reports progress to the given func.
type ScannerFactory func(progress scanning.ProgressFunc) Scanner

// ScanStore persists finished scans. db.ScanRepository implements it.
type ScanStore interface {
	Save(ctx context.Context, summary *scanning.ScanSummary) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*db.ScanRecord, error)
	List(ctx context.Context, target string, limit, offset int) ([]db.ScanListItem, error)
}

// ScanRequest is the body of POST /scans. Either a profile or a target with
// ports or a category is required; explicit fields override the profile.
type ScanRequest struct {
	Target          string `json:"target,omitempty" validate:"omitempty,max=255"`
	Ports           string `json:"ports,omitempty" validate:"omitempty,max=4096"`
	Category        string `json:"category,omitempty" validate:"omitempty,oneof=web http database db email mail admin other"`
	Profile         string `json:"profile,omitempty" validate:"omitempty,max=255"`
	TimeoutMS       int    `json:"timeout_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	BannerTimeoutMS int    `json:"banner_timeout_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	Concurrency     int    `json:"concurrency,omitempty" validate:"omitempty,min=1,max=10000"`
	Save            *bool  `json:"save,omitempty"`
}

// ScanResponse wraps a summary with its display ranges and storage ID.
type ScanResponse struct {
	ID             *uuid.UUID            `json:"id,omitempty"`
	Summary        *scanning.ScanSummary `json:"summary"`
	ClosedRanges   []string              `json:"closed_ranges"`
	FilteredRanges []string              `json:"filtered_ranges"`
	PersistError   string                `json:"persist_error,omitempty"`
}

// ScanListResponse is the body of GET /scans.
type ScanListResponse struct {
	Data       []db.ScanListItem `json:"data"`
	Pagination PaginationParams  `json:"pagination"`
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	newScanner ScannerFactory
	store      ScanStore
	profiles   *profiles.Manager
	hub        *ProgressHub
	defaults   profiles.Defaults
	validator  *validator.Validate
	logger     *logging.Logger
}

// NewScanHandler creates a new scan handler. store, manager and hub may be
// nil when persistence, profiles or live progress are unavailable.
func NewScanHandler(
	newScanner ScannerFactory,
	store ScanStore,
	manager *profiles.Manager,
	hub *ProgressHub,
	defaults profiles.Defaults,
	logger *logging.Logger,
) *ScanHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScanHandler{
		newScanner: newScanner,
		store:      store,
		profiles:   manager,
		hub:        hub,
		defaults:   defaults,
		validator:  validator.New(),
		logger:     logger.WithFields("handler", "scan"),
	}
}

// buildRequest turns the API body into a validated scan request.
func (h *ScanHandler) buildRequest(ctx context.Context, body *ScanRequest) (*scanning.ScanRequest, error) {
	if err := h.validator.Struct(body); err != nil {
		return nil, errors.WrapScanError(errors.CodeValidation, "invalid scan request", err)
	}

	var req *scanning.ScanRequest
	if name := strings.TrimSpace(body.Profile); name != "" {
		if h.profiles == nil {
			return nil, errors.NewScanError(errors.CodeConfiguration, "profiles are not available without a database")
		}
		p, err := h.profiles.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		req = p.ScanRequest(h.defaults)
	} else {
		req = &scanning.ScanRequest{
			Timeout:       h.defaults.Timeout,
			BannerTimeout: h.defaults.BannerTimeout,
			Concurrency:   h.defaults.Concurrency,
		}
	}

	if target := strings.TrimSpace(body.Target); target != "" {
		req.Target = target
	}
	if body.Ports != "" || body.Category != "" || req.Ports == nil {
		ports, err := scanning.SelectPorts(body.Ports, body.Category)
		if err != nil {
			return nil, errors.WrapScanError(errors.CodeValidation, err.Error(), err)
		}
		req.Ports = ports
	}
	if body.TimeoutMS > 0 {
		req.Timeout = time.Duration(body.TimeoutMS) * time.Millisecond
	}
	if body.BannerTimeoutMS > 0 {
		req.BannerTimeout = time.Duration(body.BannerTimeoutMS) * time.Millisecond
	}
	if body.Concurrency > 0 {
		req.Concurrency = body.Concurrency
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// CreateScan runs a scan synchronously and returns its summary.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var body ScanRequest
	if err := parseJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	req, err := h.buildRequest(r.Context(), &body)
	if err != nil {
		handleServiceError(w, r, err, "build scan request", h.logger)
		return
	}

	var progress scanning.ProgressFunc
	if h.hub != nil {
		progress = h.hub.ProgressFunc(requestID, req.Target)
		_ = h.hub.Broadcast(MessageScanStarted, ProgressUpdate{
			ScanRef: requestID, Target: req.Target, Total: len(req.Ports),
		})
	}

	h.logger.InfoScan("Starting API scan", req.Target, "request_id", requestID, "ports", len(req.Ports))
	summary, err := h.newScanner(progress).Run(r.Context(), req)
	if err != nil {
		if h.hub != nil {
			_ = h.hub.Broadcast(MessageScanFailed, ProgressUpdate{
				ScanRef: requestID, Target: req.Target, Total: len(req.Ports), Error: err.Error(),
			})
		}
		if errors.IsResolutionError(err) {
			writeError(w, r, http.StatusUnprocessableEntity,
				errors.NewScanError(errors.CodeResolutionFailed, fmt.Sprintf("Could not resolve %s", req.Target)))
			return
		}
		handleServiceError(w, r, err, "run scan", h.logger)
		return
	}

	if h.hub != nil {
		_ = h.hub.Broadcast(MessageScanCompleted, ProgressUpdate{
			ScanRef: requestID, Target: summary.Target, Done: summary.Total(), Total: summary.Total(),
			Open: len(summary.Open),
		})
	}

	response := newScanResponse(summary)
	if h.store != nil && (body.Save == nil || *body.Save) {
		id, saveErr := h.store.Save(r.Context(), summary)
		if saveErr != nil {
			h.logger.ErrorScan("Failed to store scan summary", req.Target, saveErr, "request_id", requestID)
			response.PersistError = saveErr.Error()
		} else {
			response.ID = &id
		}
	}

	writeJSON(w, r, http.StatusCreated, response)
}

// ListScans returns stored scans, newest first.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w, r) {
		return
	}

	params, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	items, err := h.store.List(r.Context(), r.URL.Query().Get("target"), params.PageSize, params.Offset)
	if err != nil {
		handleServiceError(w, r, err, "list scans", h.logger)
		return
	}

	writeJSON(w, r, http.StatusOK, ScanListResponse{Data: items, Pagination: params})
}

// GetScan returns one stored scan.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w, r) {
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid scan id: %s", mux.Vars(r)["id"]))
		return
	}

	record, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, r, http.StatusNotFound, fmt.Errorf("scan %s not found", id))
			return
		}
		handleServiceError(w, r, err, "get scan", h.logger)
		return
	}

	response := newScanResponse(record.Summary)
	response.ID = &record.ID
	writeJSON(w, r, http.StatusOK, response)
}

func (h *ScanHandler) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable,
			errors.NewScanError(errors.CodeConfiguration, "scan storage is not configured"))
		return false
	}
	return true
}

func newScanResponse(summary *scanning.ScanSummary) *ScanResponse {
	return &ScanResponse{
		Summary:        summary,
		ClosedRanges:   scanning.CompressRanges(summary.Closed),
		FilteredRanges: scanning.CompressRanges(summary.Filtered),
	}
}
