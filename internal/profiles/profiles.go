// Package profiles provides named, reusable scan configurations and the
// storage contract they are persisted through.
package profiles

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/scanning"
)

// Profile is a named scan configuration.
type Profile struct {
	Name        string        `validate:"required,max=255"`
	Target      string        `validate:"required,max=255"`
	Ports       []int         `validate:"required,min=1,dive,min=0,max=65535"`
	Timeout     time.Duration `validate:"gt=0"`
	Concurrency int           `validate:"min=1,max=10000"`
	CreatedAt   time.Time
}

// Defaults fills the parts of a ScanRequest a profile does not carry.
type Defaults struct {
	Timeout       time.Duration
	BannerTimeout time.Duration
	Concurrency   int
}

// DefaultDefaults returns the built-in scan defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:       scanning.DefaultTimeout,
		BannerTimeout: scanning.DefaultBannerTimeout,
		Concurrency:   scanning.DefaultConcurrency,
	}
}

// ScanRequest builds a request from the profile. Unset profile fields fall
// back to d.
func (p *Profile) ScanRequest(d Defaults) *scanning.ScanRequest {
	req := &scanning.ScanRequest{
		Target:        p.Target,
		Ports:         append([]int(nil), p.Ports...),
		Timeout:       p.Timeout,
		BannerTimeout: d.BannerTimeout,
		Concurrency:   p.Concurrency,
	}
	if req.Timeout <= 0 {
		req.Timeout = d.Timeout
	}
	if req.Concurrency <= 0 {
		req.Concurrency = d.Concurrency
	}
	return req
}

// Store persists profiles. Load returns (nil, nil) when the name is unknown.
type Store interface {
	Save(ctx context.Context, profile Profile) error
	Load(ctx context.Context, name string) (*Profile, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Manager validates profiles before handing them to a Store.
type Manager struct {
	store     Store
	validator *validator.Validate
	logger    *logging.Logger
}

// NewManager creates a manager on top of store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:     store,
		validator: validator.New(),
		logger:    logging.Default().WithComponent("profiles"),
	}
}

// Normalize trims the name and target and sorts the ports, dropping
// duplicates.
func Normalize(p Profile) Profile {
	p.Name = strings.TrimSpace(p.Name)
	p.Target = strings.TrimSpace(p.Target)

	seen := make(map[int]struct{}, len(p.Ports))
	ports := make([]int, 0, len(p.Ports))
	for _, port := range p.Ports {
		if _, dup := seen[port]; dup {
			continue
		}
		seen[port] = struct{}{}
		ports = append(ports, port)
	}
	sort.Ints(ports)
	p.Ports = ports
	return p
}

// Validate checks a profile without saving it.
func (m *Manager) Validate(p Profile) error {
	if err := m.validator.Struct(p); err != nil {
		return errors.WrapScanError(errors.CodeValidation, "invalid profile", err)
	}
	if strings.ContainsAny(p.Name, "\r\n\t") {
		return errors.NewScanError(errors.CodeValidation, "profile name must not contain control characters")
	}
	return nil
}

// Save normalizes, validates and stores p. An existing profile with the same
// name is replaced.
func (m *Manager) Save(ctx context.Context, p Profile) (*Profile, error) {
	p = Normalize(p)
	if err := m.Validate(p); err != nil {
		return nil, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if err := m.store.Save(ctx, p); err != nil {
		m.logger.Error("Failed to save profile", "profile", p.Name, "error", err)
		return nil, err
	}
	m.logger.Info("Profile saved", "profile", p.Name, "target", p.Target, "ports", len(p.Ports))
	return &p, nil
}

// Get loads a profile, returning a NOT_FOUND error when it doesn't exist.
func (m *Manager) Get(ctx context.Context, name string) (*Profile, error) {
	p, err := m.store.Load(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.NewScanError(errors.CodeNotFound, fmt.Sprintf("profile %q not found", name))
	}
	return p, nil
}

// List returns all profile names in ascending order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a profile, returning NOT_FOUND when it doesn't exist.
func (m *Manager) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	existing, err := m.store.Load(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return errors.NewScanError(errors.CodeNotFound, fmt.Sprintf("profile %q not found", name))
	}
	if err := m.store.Delete(ctx, name); err != nil {
		return err
	}
	m.logger.Info("Profile deleted", "profile", name)
	return nil
}
