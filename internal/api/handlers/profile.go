package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/scanning"
)

// ProfileRequest represents a profile creation/update request.
type ProfileRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Target      string `json:"target" validate:"required,max=255"`
	Ports       string `json:"ports,omitempty" validate:"required_without=Category,max=4096"`
	Category    string `json:"category,omitempty" validate:"omitempty,oneof=web http database db email mail admin other"`
	TimeoutMS   int    `json:"timeout_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	Concurrency int    `json:"concurrency,omitempty" validate:"omitempty,min=1,max=10000"`
}

// ProfileResponse represents a profile response.
type ProfileResponse struct {
	Name        string    `json:"name"`
	Target      string    `json:"target"`
	Ports       []int     `json:"ports"`
	PortRanges  []string  `json:"port_ranges"`
	TimeoutMS   int64     `json:"timeout_ms"`
	Concurrency int       `json:"concurrency"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfileListResponse is the body of GET /profiles.
type ProfileListResponse struct {
	Profiles []string `json:"profiles"`
}

// ProfileHandler handles profile-related API endpoints.
type ProfileHandler struct {
	manager   *profiles.Manager
	defaults  profiles.Defaults
	validator *validator.Validate
	logger    *logging.Logger
}

// NewProfileHandler creates a new profile handler. A nil manager makes every
// endpoint answer 503.
func NewProfileHandler(manager *profiles.Manager, defaults profiles.Defaults, logger *logging.Logger) *ProfileHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProfileHandler{
		manager:   manager,
		defaults:  defaults,
		validator: validator.New(),
		logger:    logger.WithFields("handler", "profile"),
	}
}

// ListProfiles returns all profile names.
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w, r) {
		return
	}

	names, err := h.manager.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err, "list profiles", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, ProfileListResponse{Profiles: names})
}

// CreateProfile saves a profile, replacing any profile with the same name.
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w, r) {
		return
	}

	var req ProfileRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.WrapScanError(errors.CodeValidation, "invalid profile request", err))
		return
	}

	p, err := h.requestToProfile(&req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	saved, err := h.manager.Save(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err, "save profile", h.logger)
		return
	}
	writeJSON(w, r, http.StatusCreated, profileToResponse(saved))
}

// GetProfile returns one profile.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w, r) {
		return
	}

	p, err := h.manager.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		handleServiceError(w, r, err, "get profile", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, profileToResponse(p))
}

// DeleteProfile removes one profile.
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w, r) {
		return
	}

	if err := h.manager.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		handleServiceError(w, r, err, "delete profile", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProfileHandler) requireManager(w http.ResponseWriter, r *http.Request) bool {
	if h.manager == nil {
		writeError(w, r, http.StatusServiceUnavailable,
			errors.NewScanError(errors.CodeConfiguration, "profile storage is not configured"))
		return false
	}
	return true
}

func (h *ProfileHandler) requestToProfile(req *ProfileRequest) (profiles.Profile, error) {
	ports, err := scanning.SelectPorts(req.Ports, req.Category)
	if err != nil {
		return profiles.Profile{}, errors.WrapScanError(errors.CodeValidation, fmt.Sprintf("invalid ports: %v", err), err)
	}

	p := profiles.Profile{
		Name:        req.Name,
		Target:      req.Target,
		Ports:       ports,
		Timeout:     h.defaults.Timeout,
		Concurrency: h.defaults.Concurrency,
	}
	if req.TimeoutMS > 0 {
		p.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if req.Concurrency > 0 {
		p.Concurrency = req.Concurrency
	}
	return p, nil
}

func profileToResponse(p *profiles.Profile) *ProfileResponse {
	return &ProfileResponse{
		Name:        p.Name,
		Target:      p.Target,
		Ports:       p.Ports,
		PortRanges:  scanning.CompressPorts(p.Ports),
		TimeoutMS:   p.Timeout.Milliseconds(),
		Concurrency: p.Concurrency,
		CreatedAt:   p.CreatedAt,
	}
}
