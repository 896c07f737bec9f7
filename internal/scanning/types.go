package scanning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anstrom/portscout/internal/errors"
)

const (
	// MaxPort is the highest TCP port number.
	MaxPort = 65535

	// TimestampLayout is the compact, lexically sortable UTC format used for
	// timestamp_utc and scan artifact file names.
	TimestampLayout = "20060102T150405Z"
)

// PortStatus is the classification of a single probed port.
type PortStatus string

const (
	StatusOpen     PortStatus = "open"
	StatusClosed   PortStatus = "closed"
	StatusFiltered PortStatus = "filtered"
)

// Valid reports whether s is one of the three known statuses.
func (s PortStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusFiltered:
		return true
	}
	return false
}

// PortResult is the outcome for one port. Banner is only ever set for open
// ports, and only when a non-empty greeting was read.
type PortResult struct {
	Port   int
	Status PortStatus
	Banner *string
}

// HasBanner reports whether a banner was captured.
func (r PortResult) HasBanner() bool {
	return r.Banner != nil
}

// portResultJSON is the wire form. Open ports always carry a banner key
// (null when nothing was read); other states omit it.
type portResultJSON struct {
	Port   int        `json:"port"`
	Status PortStatus `json:"status"`
	Banner *string    `json:"banner,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r PortResult) MarshalJSON() ([]byte, error) {
	if r.Status == StatusOpen {
		return json.Marshal(struct {
			Port   int        `json:"port"`
			Status PortStatus `json:"status"`
			Banner *string    `json:"banner"`
		}{r.Port, r.Status, r.Banner})
	}
	return json.Marshal(portResultJSON{Port: r.Port, Status: r.Status})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *PortResult) UnmarshalJSON(data []byte) error {
	var raw portResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Status.Valid() {
		return fmt.Errorf("invalid port status %q", raw.Status)
	}
	r.Port = raw.Port
	r.Status = raw.Status
	r.Banner = nil
	if raw.Status == StatusOpen {
		r.Banner = raw.Banner
	}
	return nil
}

// ScanRequest describes one scan run. It is not modified by the coordinator.
type ScanRequest struct {
	// Target is a hostname or IP literal.
	Target string
	// Ports is the set of ports to probe.
	Ports []int
	// Timeout bounds each connection probe.
	Timeout time.Duration
	// BannerTimeout bounds the banner connection and read.
	BannerTimeout time.Duration
	// Concurrency caps the number of ports in flight at once.
	Concurrency int
}

// Validate checks the request invariants.
func (r *ScanRequest) Validate() error {
	if r.Target == "" {
		return errors.NewScanError(errors.CodeValidation, "no target specified")
	}
	if len(r.Ports) == 0 {
		return errors.NewScanError(errors.CodeValidation, "no ports specified")
	}
	if r.Concurrency < 1 {
		return errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("concurrency must be at least 1, got %d", r.Concurrency))
	}
	if r.Timeout <= 0 {
		return errors.NewScanError(errors.CodeValidation, "probe timeout must be positive")
	}
	if r.BannerTimeout <= 0 {
		return errors.NewScanError(errors.CodeValidation, "banner timeout must be positive")
	}

	seen := make(map[int]struct{}, len(r.Ports))
	for _, p := range r.Ports {
		if p < 0 || p > MaxPort {
			return errors.NewScanError(errors.CodeValidation,
				fmt.Sprintf("invalid port: %d (must be 0-%d)", p, MaxPort))
		}
		if _, dup := seen[p]; dup {
			return errors.NewScanError(errors.CodeValidation, fmt.Sprintf("duplicate port: %d", p))
		}
		seen[p] = struct{}{}
	}
	return nil
}

// ScanSummary is the canonical, immutable record of a finished scan.
type ScanSummary struct {
	Target    string
	IP        string
	Timestamp time.Time
	// Duration is the elapsed wall-clock time in seconds.
	Duration float64
	Open     []PortResult
	Closed   []PortResult
	Filtered []PortResult
}

type scanSummaryJSON struct {
	Target    string       `json:"target"`
	IP        string       `json:"ip"`
	Timestamp string       `json:"timestamp_utc"`
	Duration  float64      `json:"duration_s"`
	Open      []PortResult `json:"open_ports"`
	Closed    []PortResult `json:"closed_ports"`
	Filtered  []PortResult `json:"filtered_ports"`
}

// MarshalJSON implements json.Marshaler.
func (s ScanSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(scanSummaryJSON{
		Target:    s.Target,
		IP:        s.IP,
		Timestamp: s.Timestamp.UTC().Format(TimestampLayout),
		Duration:  s.Duration,
		Open:      nonNil(s.Open),
		Closed:    nonNil(s.Closed),
		Filtered:  nonNil(s.Filtered),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScanSummary) UnmarshalJSON(data []byte) error {
	var raw scanSummaryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampLayout, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp_utc %q: %w", raw.Timestamp, err)
	}
	*s = ScanSummary{
		Target:    raw.Target,
		IP:        raw.IP,
		Timestamp: ts.UTC(),
		Duration:  raw.Duration,
		Open:      nonNil(raw.Open),
		Closed:    nonNil(raw.Closed),
		Filtered:  nonNil(raw.Filtered),
	}
	return nil
}

// Total returns the number of ports accounted for by the summary.
func (s *ScanSummary) Total() int {
	return len(s.Open) + len(s.Closed) + len(s.Filtered)
}

func nonNil(results []PortResult) []PortResult {
	if results == nil {
		return []PortResult{}
	}
	return results
}

// ProgressFunc receives "done of total ports scanned" notifications.
type ProgressFunc func(done, total int)

// StartFunc is called once the target has resolved, before any probe runs.
type StartFunc func(address string)
