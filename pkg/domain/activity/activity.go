// Package activity holds the two read profiles of an upstream activity:
// the minimal Summary used for aggregation and the detailed Record stored
// in the warehouse.
package activity

import (
	"time"
)

const (
	// MilesPerKilometer converts kilometres to statute miles.
	MilesPerKilometer = 0.62137
	// DateLayout is the layout of date_str keys.
	DateLayout = "2006-01-02"
)

// Summary is the minimal projection of an activity.
type Summary struct {
	ID             int64     `json:"id"`
	Type           Type      `json:"type"`
	StartDateLocal time.Time `json:"start_date_local"`
	Distance       float64   `json:"distance"` // meters
}

// DistanceMiles converts the distance to miles.
func (s Summary) DistanceMiles() float64 {
	return MetersToMiles(s.Distance)
}

// DateStr is the calendar day of start_date_local. The upstream encodes the
// athlete's wall clock with a Z suffix, so no timezone conversion applies.
func (s Summary) DateStr() string {
	return s.StartDateLocal.Format(DateLayout)
}

// Year is the calendar year the activity counts towards.
func (s Summary) Year() int {
	return s.StartDateLocal.Year()
}

// MetersToMiles converts meters to miles.
func MetersToMiles(meters float64) float64 {
	return meters / 1000 * MilesPerKilometer
}
