// Package summary holds the per-year daily summary document and the pure
// operations that mutate it.
package summary

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/desirelines/pipeline/pkg/domain/activity"
)

// distanceTolerance is the float slack used when comparing mileage.
const distanceTolerance = 1e-9

// DayEntry is the aggregate of one calendar day.
type DayEntry struct {
	DistanceMiles float64 `json:"distance_miles"`
	ActivityIDs   []int64 `json:"activity_ids"`
}

// Contains reports whether id is part of the day.
func (d DayEntry) Contains(id int64) bool {
	for _, existing := range d.ActivityIDs {
		if existing == id {
			return true
		}
	}
	return false
}

func (d DayEntry) clone() DayEntry {
	ids := make([]int64, len(d.ActivityIDs))
	copy(ids, d.ActivityIDs)
	return DayEntry{DistanceMiles: d.DistanceMiles, ActivityIDs: ids}
}

// YearSummary maps date_str to DayEntry for one calendar year.
//
// Every stored day has at least one activity and no duplicate ids. The map
// is unexported so those rules hold for any value built through New,
// FromDays or UnmarshalJSON.
type YearSummary struct {
	days map[string]DayEntry
}

// New returns an empty summary.
func New() *YearSummary {
	return &YearSummary{days: make(map[string]DayEntry)}
}

// FromDays builds a summary, rejecting entries that break the day rules.
func FromDays(days map[string]DayEntry) (*YearSummary, error) {
	s := New()
	for date, entry := range days {
		if _, err := time.Parse(activity.DateLayout, date); err != nil {
			return nil, fmt.Errorf("invalid date key %q: %w", date, err)
		}
		if len(entry.ActivityIDs) == 0 {
			return nil, fmt.Errorf("day %s has no activities", date)
		}
		seen := make(map[int64]struct{}, len(entry.ActivityIDs))
		for _, id := range entry.ActivityIDs {
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("day %s lists activity %d twice", date, id)
			}
			seen[id] = struct{}{}
		}
		if entry.DistanceMiles < 0 || math.IsNaN(entry.DistanceMiles) || math.IsInf(entry.DistanceMiles, 0) {
			return nil, fmt.Errorf("day %s has invalid distance %v", date, entry.DistanceMiles)
		}
		s.days[date] = entry.clone()
	}
	return s, nil
}

// Len is the number of days with activity.
func (s *YearSummary) Len() int {
	if s == nil {
		return 0
	}
	return len(s.days)
}

// Day returns a copy of the entry for date.
func (s *YearSummary) Day(date string) (DayEntry, bool) {
	if s == nil {
		return DayEntry{}, false
	}
	entry, ok := s.days[date]
	if !ok {
		return DayEntry{}, false
	}
	return entry.clone(), true
}

// Dates returns the populated dates in ascending order.
func (s *YearSummary) Dates() []string {
	if s == nil {
		return nil
	}
	dates := make([]string, 0, len(s.days))
	for date := range s.days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// Days returns a deep copy of the underlying map.
func (s *YearSummary) Days() map[string]DayEntry {
	out := make(map[string]DayEntry, s.Len())
	if s == nil {
		return out
	}
	for date, entry := range s.days {
		out[date] = entry.clone()
	}
	return out
}

// TotalMiles sums the distance of every day.
func (s *YearSummary) TotalMiles() float64 {
	var total float64
	for _, date := range s.Dates() {
		total += s.days[date].DistanceMiles
	}
	return total
}

// Clone returns an independent copy.
func (s *YearSummary) Clone() *YearSummary {
	out := New()
	if s == nil {
		return out
	}
	for date, entry := range s.days {
		out.days[date] = entry.clone()
	}
	return out
}

// Equal compares two summaries. Activity order within a day is ignored and
// distances are compared with a small tolerance.
func (s *YearSummary) Equal(other *YearSummary) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, date := range s.Dates() {
		a := s.days[date]
		b, ok := other.days[date]
		if !ok || len(a.ActivityIDs) != len(b.ActivityIDs) {
			return false
		}
		if math.Abs(a.DistanceMiles-b.DistanceMiles) > distanceTolerance {
			return false
		}
		for _, id := range a.ActivityIDs {
			if !b.Contains(id) {
				return false
			}
		}
	}
	return true
}

func (s *YearSummary) add(date string, id int64, miles float64) {
	entry, ok := s.days[date]
	if !ok {
		s.days[date] = DayEntry{DistanceMiles: miles, ActivityIDs: []int64{id}}
		return
	}
	entry = entry.clone()
	entry.ActivityIDs = append(entry.ActivityIDs, id)
	entry.DistanceMiles += miles
	s.days[date] = entry
}

func (s *YearSummary) remove(date string, id int64, miles float64) {
	entry := s.days[date]
	ids := make([]int64, 0, len(entry.ActivityIDs))
	for _, existing := range entry.ActivityIDs {
		if existing != id {
			ids = append(ids, existing)
		}
	}
	if len(ids) == 0 {
		delete(s.days, date)
		return
	}
	distance := entry.DistanceMiles - miles
	if distance < distanceTolerance {
		distance = 0
	}
	s.days[date] = DayEntry{DistanceMiles: distance, ActivityIDs: ids}
}

// MarshalJSON writes {"2023-01-01": {"distance_miles": 10, "activity_ids": [1]}}.
func (s *YearSummary) MarshalJSON() ([]byte, error) {
	if s == nil || s.days == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.days)
}

// UnmarshalJSON enforces the same rules as FromDays.
func (s *YearSummary) UnmarshalJSON(b []byte) error {
	var days map[string]DayEntry
	if err := json.Unmarshal(b, &days); err != nil {
		return err
	}
	parsed, err := FromDays(days)
	if err != nil {
		return err
	}
	s.days = parsed.days
	return nil
}
