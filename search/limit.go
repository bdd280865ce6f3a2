package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Limit caps how many items one sub-query may return. All (the zero value)
// means every page the upstream is willing to serve.
type Limit int

// All requests every available page
const All Limit = 0

// ParseLimit accepts a positive integer or "all"
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return All, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("limit must be a positive integer or \"all\", got %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("limit must be positive, got %d", n)
	}
	return Limit(n), nil
}

// IsAll reports whether the limit is unbounded
func (l Limit) IsAll() bool {
	return l <= 0
}

// PerPage returns the page size to request for this limit
func (l Limit) PerPage() int {
	if l.IsAll() {
		return MaxPerPage
	}
	return min(MaxPerPage, int(l))
}

// Reached reports whether count items satisfy the limit
func (l Limit) Reached(count int) bool {
	return !l.IsAll() && count >= int(l)
}

// Truncate trims items to the limit
func (l Limit) Truncate(items []RawItem) []RawItem {
	if l.IsAll() || len(items) <= int(l) {
		return items
	}
	return items[:int(l)]
}

func (l Limit) String() string {
	if l.IsAll() {
		return "all"
	}
	return strconv.Itoa(int(l))
}

// MarshalJSON encodes All as "all" and bounded limits as numbers
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsAll() {
		return []byte(`"all"`), nil
	}
	return []byte(strconv.Itoa(int(l))), nil
}

// UnmarshalJSON accepts a positive number or the string "all"
func (l *Limit) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n <= 0 {
			return fmt.Errorf("limit must be positive, got %d", n)
		}
		*l = Limit(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("limit must be a positive integer or \"all\"")
	}
	parsed, err := ParseLimit(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
