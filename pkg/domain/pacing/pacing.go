// Package pacing derives the chart timeseries from a year summary.
package pacing

import (
	"time"
	_ "time/tzdata"

	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/domain/summary"
)

// DefaultTimezone decides what "today" means for the current year.
const DefaultTimezone = "America/New_York"

// Point is one chart sample.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Timeseries is ordered by date, one point per day.
type Timeseries []Point

// Distances is the body of distances.json.
type Distances struct {
	DistanceTraveled Timeseries `json:"distance_traveled"`
}

// Pacings is the body of pacings.json.
type Pacings struct {
	AverageDistance   Timeseries `json:"average_distance"`
	ProjectedDistance Timeseries `json:"projected_distance"`
}

// Result bundles both derived documents.
type Result struct {
	Distances         Distances
	Pacings           Pacings
	EstimatedDistance float64
}

// Calculator turns a summary into timeseries. Now and Location are
// injectable so "today" is deterministic in tests.
type Calculator struct {
	Now      func() time.Time
	Location *time.Location
}

// NewCalculator loads the named timezone, falling back to UTC.
func NewCalculator(timezone string) *Calculator {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Calculator{Now: time.Now, Location: loc}
}

func (c *Calculator) today() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	t := now().In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// lastDay is min(today, Dec 31) for the year, or the zero time when the
// year has not started yet.
func (c *Calculator) lastDay(year int) (time.Time, bool) {
	first := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	today := c.today()
	if today.Before(first) {
		return time.Time{}, false
	}
	if today.Before(last) {
		return today, true
	}
	return last, true
}

// CumulativeDistance returns the running total from Jan 1 through the last
// day of the series. It never decreases.
func (c *Calculator) CumulativeDistance(doc *summary.YearSummary, year int) Timeseries {
	last, ok := c.lastDay(year)
	if !ok {
		return Timeseries{}
	}

	series := make(Timeseries, 0, last.YearDay())
	var total float64
	for day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); !day.After(last); day = day.AddDate(0, 0, 1) {
		date := day.Format(activity.DateLayout)
		if entry, ok := doc.Day(date); ok {
			total += entry.DistanceMiles
		}
		series = append(series, Point{X: date, Y: total})
	}
	return series
}

// Calculate builds both derived documents for the year.
func (c *Calculator) Calculate(doc *summary.YearSummary, year int) Result {
	cumulative := c.CumulativeDistance(doc, year)
	days := float64(DaysInYear(year))

	average := make(Timeseries, len(cumulative))
	projected := make(Timeseries, len(cumulative))
	for i, p := range cumulative {
		avg := p.Y / float64(i+1)
		average[i] = Point{X: p.X, Y: avg}
		projected[i] = Point{X: p.X, Y: avg * days}
	}

	var estimated float64
	if n := len(projected); n > 0 {
		estimated = projected[n-1].Y
	}

	return Result{
		Distances: Distances{DistanceTraveled: cumulative},
		Pacings: Pacings{
			AverageDistance:   average,
			ProjectedDistance: projected,
		},
		EstimatedDistance: estimated,
	}
}

// DaysInYear is 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}
