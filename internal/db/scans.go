package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

const defaultListLimit = 50

// ScanRow is the scan_results table layout.
type ScanRow struct {
	ID            uuid.UUID `db:"id"`
	Target        string    `db:"target"`
	IP            string    `db:"ip"`
	Timestamp     time.Time `db:"timestamp_utc"`
	DurationS     float64   `db:"duration_s"`
	OpenPorts     []byte    `db:"open_ports"`
	ClosedPorts   []byte    `db:"closed_ports"`
	FilteredPorts []byte    `db:"filtered_ports"`
	CreatedAt     time.Time `db:"created_at"`
}

// ScanRecord is a stored summary together with its identity.
type ScanRecord struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Summary   *scanning.ScanSummary
}

// ScanListItem is a lightweight row for listings.
type ScanListItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Target    string    `db:"target" json:"target"`
	IP        string    `db:"ip" json:"ip"`
	Timestamp time.Time `db:"timestamp_utc" json:"timestamp_utc"`
	DurationS float64   `db:"duration_s" json:"duration_s"`
	Open      int       `db:"open_count" json:"open"`
	Closed    int       `db:"closed_count" json:"closed"`
	Filtered  int       `db:"filtered_count" json:"filtered"`
}

// ToRecord decodes the JSONB port columns.
func (r *ScanRow) ToRecord() (*ScanRecord, error) {
	summary := &scanning.ScanSummary{
		Target:    r.Target,
		IP:        r.IP,
		Timestamp: r.Timestamp.UTC(),
		Duration:  r.DurationS,
	}
	for _, col := range []struct {
		raw  []byte
		dest *[]scanning.PortResult
	}{
		{r.OpenPorts, &summary.Open},
		{r.ClosedPorts, &summary.Closed},
		{r.FilteredPorts, &summary.Filtered},
	} {
		*col.dest = []scanning.PortResult{}
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("failed to decode port list: %w", err)
		}
	}
	return &ScanRecord{ID: r.ID, CreatedAt: r.CreatedAt, Summary: summary}, nil
}

// ScanRepository stores finished scan summaries.
type ScanRepository struct {
	db      *DB
	metrics *metrics.PrometheusMetrics
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db, metrics: metrics.GetGlobalMetrics()}
}

func marshalPorts(results []scanning.PortResult) ([]byte, error) {
	if results == nil {
		results = []scanning.PortResult{}
	}
	return json.Marshal(results)
}

// Save inserts a summary and returns its new ID.
func (r *ScanRepository) Save(ctx context.Context, summary *scanning.ScanSummary) (uuid.UUID, error) {
	open, err := marshalPorts(summary.Open)
	if err != nil {
		return uuid.Nil, err
	}
	closed, err := marshalPorts(summary.Closed)
	if err != nil {
		return uuid.Nil, err
	}
	filtered, err := marshalPorts(summary.Filtered)
	if err != nil {
		return uuid.Nil, err
	}

	query := `
		INSERT INTO scan_results (id, target, ip, timestamp_utc, duration_s, open_ports, closed_ports, filtered_ports)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	id := uuid.New()
	started := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		id, summary.Target, summary.IP, summary.Timestamp.UTC(), summary.Duration, open, closed, filtered)
	if err := observe(r.metrics, "save_scan", started, err); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns one stored scan. A missing ID yields a NOT_FOUND error.
func (r *ScanRepository) Get(ctx context.Context, id uuid.UUID) (*ScanRecord, error) {
	query := `
		SELECT id, target, ip, timestamp_utc, duration_s, open_ports, closed_ports, filtered_ports, created_at
		FROM scan_results
		WHERE id = $1`

	var row ScanRow
	started := time.Now()
	err := r.db.GetContext(ctx, &row, query, id)
	if err := observe(r.metrics, "get_scan", started, err); err != nil {
		return nil, err
	}

	record, err := row.ToRecord()
	if err != nil {
		return nil, sanitizeDBError("decode scan", err)
	}
	return record, nil
}

// List returns the most recent scans, newest first, optionally filtered by
// target.
func (r *ScanRepository) List(ctx context.Context, target string, limit, offset int) ([]ScanListItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, target, ip, timestamp_utc, duration_s,
			jsonb_array_length(open_ports) AS open_count,
			jsonb_array_length(closed_ports) AS closed_count,
			jsonb_array_length(filtered_ports) AS filtered_count
		FROM scan_results
		WHERE ($1 = '' OR target = $1)
		ORDER BY timestamp_utc DESC
		LIMIT $2 OFFSET $3`

	var items []ScanListItem
	started := time.Now()
	err := r.db.SelectContext(ctx, &items, query, target, limit, offset)
	if err := observe(r.metrics, "list_scans", started, err); err != nil {
		return nil, err
	}
	if items == nil {
		items = []ScanListItem{}
	}
	return items, nil
}
