package coordinator

import (
	"encoding/json"
	"strconv"
	"time"
)

// Snapshot is one successfully fetched state of a device.
//
// A Snapshot never changes after construction; a newer fetch produces a new
// Snapshot which replaces the old one as a whole.
type Snapshot struct {
	values    map[string]any
	fetchedAt time.Time
}

// NewSnapshot copies values into a new immutable snapshot
func NewSnapshot(values map[string]any, fetchedAt time.Time) *Snapshot {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Snapshot{values: copied, fetchedAt: fetchedAt}
}

// FetchedAt returns when the data was received
func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Len returns the number of attributes in the snapshot
func (s *Snapshot) Len() int {
	return len(s.values)
}

// Get returns the raw value for key
func (s *Snapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key when it is a string
func (s *Snapshot) String(key string) (string, bool) {
	v, ok := s.values[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Float returns the value for key as a float64, accepting any JSON number
// representation the vendor may send.
func (s *Snapshot) Float(key string) (float64, bool) {
	v, ok := s.values[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Values returns a copy of the attribute map
func (s *Snapshot) Values() map[string]any {
	copied := make(map[string]any, len(s.values))
	for k, v := range s.values {
		copied[k] = v
	}
	return copied
}

// MarshalJSON renders the snapshot for API responses
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Values    map[string]any `json:"values"`
		FetchedAt time.Time      `json:"fetched_at"`
	}{
		Values:    s.values,
		FetchedAt: s.fetchedAt,
	})
}
