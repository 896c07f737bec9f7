package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/profiles"
)

// ProfileRow is the scan_profiles table layout.
type ProfileRow struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	Target         string    `db:"target"`
	PortSelection  string    `db:"port_selection"`
	TimeoutSeconds float64   `db:"timeout_seconds"`
	Concurrency    int       `db:"concurrency"`
	CreatedAt      time.Time `db:"created_at"`
}

// JoinPorts stores ports as a comma-separated list.
func JoinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// SplitPorts parses a comma-separated port list.
func SplitPorts(selection string) ([]int, error) {
	if strings.TrimSpace(selection) == "" {
		return []int{}, nil
	}
	parts := strings.Split(selection, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid stored port %q: %w", part, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// ToProfile converts a row into a profile.
func (r *ProfileRow) ToProfile() (*profiles.Profile, error) {
	ports, err := SplitPorts(r.PortSelection)
	if err != nil {
		return nil, err
	}
	return &profiles.Profile{
		Name:        r.Name,
		Target:      r.Target,
		Ports:       ports,
		Timeout:     time.Duration(r.TimeoutSeconds * float64(time.Second)),
		Concurrency: r.Concurrency,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// ProfileRepository implements profiles.Store on PostgreSQL.
type ProfileRepository struct {
	db      *DB
	metrics *metrics.PrometheusMetrics
}

var _ profiles.Store = (*ProfileRepository)(nil)

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db, metrics: metrics.GetGlobalMetrics()}
}

// Save inserts the profile or replaces the one with the same name.
func (r *ProfileRepository) Save(ctx context.Context, p profiles.Profile) error {
	query := `
		INSERT INTO scan_profiles (name, target, port_selection, timeout_seconds, concurrency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			target = EXCLUDED.target,
			port_selection = EXCLUDED.port_selection,
			timeout_seconds = EXCLUDED.timeout_seconds,
			concurrency = EXCLUDED.concurrency`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	started := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		p.Name, p.Target, JoinPorts(p.Ports), p.Timeout.Seconds(), p.Concurrency, createdAt)
	return observe(r.metrics, "save_profile", started, err)
}

// Load returns the named profile, or (nil, nil) if there is none.
func (r *ProfileRepository) Load(ctx context.Context, name string) (*profiles.Profile, error) {
	query := `
		SELECT id, name, target, port_selection, timeout_seconds, concurrency, created_at
		FROM scan_profiles
		WHERE name = $1`

	var row ProfileRow
	started := time.Now()
	err := r.db.GetContext(ctx, &row, query, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		_ = observe(r.metrics, "load_profile", started, nil)
		return nil, nil
	}
	if err := observe(r.metrics, "load_profile", started, err); err != nil {
		return nil, err
	}

	p, err := row.ToProfile()
	if err != nil {
		return nil, sanitizeDBError("decode profile", err)
	}
	return p, nil
}

// List returns all profile names ordered by name.
func (r *ProfileRepository) List(ctx context.Context) ([]string, error) {
	var names []string
	started := time.Now()
	err := r.db.SelectContext(ctx, &names, `SELECT name FROM scan_profiles ORDER BY name`)
	if err := observe(r.metrics, "list_profiles", started, err); err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Delete removes the named profile. Deleting an unknown name is not an error.
func (r *ProfileRepository) Delete(ctx context.Context, name string) error {
	started := time.Now()
	_, err := r.db.ExecContext(ctx, `DELETE FROM scan_profiles WHERE name = $1`, name)
	return observe(r.metrics, "delete_profile", started, err)
}
