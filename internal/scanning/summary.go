package scanning

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CompressRanges collapses runs of consecutive ports into "a-b" spans.
// Results must already be sorted by port.
func CompressRanges(results []PortResult) []string {
	ports := make([]int, len(results))
	for i, r := range results {
		ports[i] = r.Port
	}
	return CompressPorts(ports)
}

// CompressPorts is CompressRanges over bare port numbers.
func CompressPorts(ports []int) []string {
	out := []string{}
	if len(ports) == 0 {
		return out
	}

	start, end := ports[0], ports[0]
	for _, p := range ports[1:] {
		if p == end+1 {
			end = p
			continue
		}
		out = append(out, formatRange(start, end))
		start, end = p, p
	}
	return append(out, formatRange(start, end))
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

// ExpandRanges is the inverse of CompressPorts.
func ExpandRanges(ranges []string) ([]int, error) {
	out := []int{}
	for _, r := range ranges {
		startText, endText, isRange := strings.Cut(r, "-")
		start, err := strconv.Atoi(startText)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", r, err)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(endText); err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", r, err)
			}
		}
		if end < start {
			return nil, fmt.Errorf("invalid range %q: end before start", r)
		}
		for p := start; p <= end; p++ {
			out = append(out, p)
		}
	}
	return out, nil
}

// BuildSummary sorts copies of each category and stamps the current UTC time.
func BuildSummary(target, address string, open, closed, filtered []PortResult, elapsed time.Duration) *ScanSummary {
	return &ScanSummary{
		Target:    target,
		IP:        address,
		Timestamp: time.Now().UTC(),
		Duration:  elapsed.Seconds(),
		Open:      sortedCopy(open),
		Closed:    sortedCopy(closed),
		Filtered:  sortedCopy(filtered),
	}
}

func sortedCopy(results []PortResult) []PortResult {
	out := make([]PortResult, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}
