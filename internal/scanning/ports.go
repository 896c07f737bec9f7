package scanning

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Port validation constants.
	expectedPortRangeParts = 2
)

// Category names a fixed group of well-known ports.
type Category string

const (
	CategoryWeb      Category = "web"
	CategoryDatabase Category = "database"
	CategoryEmail    Category = "email"
	CategoryAdmin    Category = "admin"
)

// categoryOrder is the menu order of the categories.
var categoryOrder = []Category{CategoryWeb, CategoryDatabase, CategoryEmail, CategoryAdmin}

// categoryPorts is lookup data only; it is never handed out directly.
var categoryPorts = map[Category]map[int]string{
	CategoryWeb:      {80: "HTTP", 443: "HTTPS", 8080: "HTTP-alt"},
	CategoryDatabase: {3306: "MySQL", 5432: "PostgreSQL", 1433: "MSSQL"},
	CategoryEmail:    {25: "SMTP", 110: "POP3", 143: "IMAP"},
	CategoryAdmin:    {22: "SSH", 3389: "RDP", 5900: "VNC"},
}

// Categories returns the known categories in menu order.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// ParseCategory accepts a category name or one of its aliases.
func ParseCategory(name string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "web", "http":
		return CategoryWeb, nil
	case "database", "db":
		return CategoryDatabase, nil
	case "email", "mail":
		return CategoryEmail, nil
	case "admin", "other":
		return CategoryAdmin, nil
	}
	return "", fmt.Errorf("unknown port category: %s", name)
}

// CategoryPorts returns the ascending port list for a category.
func CategoryPorts(c Category) ([]int, error) {
	labels, ok := categoryPorts[c]
	if !ok {
		return nil, fmt.Errorf("unknown port category: %s", c)
	}
	ports := make([]int, 0, len(labels))
	for p := range labels {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// ServiceLabel returns the display label of a well-known port, if any.
func ServiceLabel(port int) (string, bool) {
	for _, labels := range categoryPorts {
		if label, ok := labels[port]; ok {
			return label, true
		}
	}
	return "", false
}

// PortRange returns start..end inclusive.
func PortRange(start, end int) ([]int, error) {
	if start < 0 || start > MaxPort || end < 0 || end > MaxPort {
		return nil, fmt.Errorf("invalid port range: %d-%d (must be 0-%d)", start, end, MaxPort)
	}
	if start > end {
		return nil, fmt.Errorf("invalid port range: start port %d is greater than end port %d", start, end)
	}
	ports := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		ports = append(ports, p)
	}
	return ports, nil
}

// SelectPorts picks the port list from an explicit spec or a category name.
// Exactly one of the two must be given.
func SelectPorts(spec, category string) ([]int, error) {
	spec, category = strings.TrimSpace(spec), strings.TrimSpace(category)
	switch {
	case spec != "" && category != "":
		return nil, fmt.Errorf("specify either ports or a category, not both")
	case spec != "":
		return ParsePortSpec(spec)
	case category != "":
		c, err := ParseCategory(category)
		if err != nil {
			return nil, err
		}
		return CategoryPorts(c)
	}
	return nil, fmt.Errorf("no ports specified")
}

// ParsePortSpec parses "22,80,8000-8010" into a sorted, duplicate-free list.
func ParsePortSpec(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty port specification")
	}

	seen := make(map[int]struct{})
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ports, err := parsePortPart(part)
		if err != nil {
			return nil, err
		}
		for _, p := range ports {
			seen[p] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty port specification")
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

// parsePortPart parses a single port or an "a-b" range.
func parsePortPart(part string) ([]int, error) {
	if !strings.Contains(part, "-") {
		port, err := strconv.Atoi(part)
		if err != nil || port < 0 || port > MaxPort {
			return nil, fmt.Errorf("invalid port: %s", part)
		}
		return []int{port}, nil
	}

	rangeParts := strings.Split(part, "-")
	if len(rangeParts) != expectedPortRangeParts {
		return nil, fmt.Errorf("invalid port range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid start port: %s", rangeParts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid end port: %s", rangeParts[1])
	}
	return PortRange(start, end)
}
