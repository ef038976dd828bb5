package summary

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
)

func ride(id int64, date string, miles float64) activity.Summary {
	return act(id, activity.TypeRide, date, miles)
}

func act(id int64, typ activity.Type, date string, miles float64) activity.Summary {
	start, err := time.Parse(activity.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return activity.Summary{
		ID:             id,
		Type:           typ,
		StartDateLocal: start.Add(8 * time.Hour),
		Distance:       miles / activity.MilesPerKilometer * 1000,
	}
}

func mustDays(t *testing.T, days map[string]DayEntry) *YearSummary {
	t.Helper()
	s, err := FromDays(days)
	require.NoError(t, err)
	return s
}

func TestMergeCreate(t *testing.T) {
	engine := NewEngine(activity.NewTypeFilter())

	tests := []struct {
		name       string
		doc        *YearSummary
		activity   activity.Summary
		want       map[string]DayEntry
		wantResult MergeResult
	}{
		{
			name:       "new day",
			doc:        New(),
			activity:   ride(1, "2023-01-01", 10),
			want:       map[string]DayEntry{"2023-01-01": {DistanceMiles: 10, ActivityIDs: []int64{1}}},
			wantResult: Merged,
		},
		{
			name:       "existing day",
			doc:        mustDays(t, map[string]DayEntry{"2023-01-01": {DistanceMiles: 10, ActivityIDs: []int64{1}}}),
			activity:   ride(2, "2023-01-01", 5),
			want:       map[string]DayEntry{"2023-01-01": {DistanceMiles: 15, ActivityIDs: []int64{1, 2}}},
			wantResult: Merged,
		},
		{
			name:       "replay is a no-op",
			doc:        mustDays(t, map[string]DayEntry{"2023-01-01": {DistanceMiles: 10, ActivityIDs: []int64{1}}}),
			activity:   ride(1, "2023-01-01", 10),
			want:       map[string]DayEntry{"2023-01-01": {DistanceMiles: 10, ActivityIDs: []int64{1}}},
			wantResult: Duplicate,
		},
		{
			name:       "filtered type",
			doc:        New(),
			activity:   act(3, activity.TypeRun, "2023-01-01", 3),
			want:       map[string]DayEntry{},
			wantResult: Filtered,
		},
		{
			name:       "virtual ride counts",
			doc:        New(),
			activity:   act(4, activity.TypeVirtualRide, "2023-02-01", 20),
			want:       map[string]DayEntry{"2023-02-01": {DistanceMiles: 20, ActivityIDs: []int64{4}}},
			wantResult: Merged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.doc.Clone()

			got, result := engine.MergeCreate(tt.doc, tt.activity)

			assert.Equal(t, tt.wantResult, result)
			assert.True(t, got.Equal(mustDays(t, tt.want)), "got %v", got.Days())
			assert.True(t, tt.doc.Equal(before), "input document was mutated")
		})
	}
}

func TestMergeCreate_Idempotent(t *testing.T) {
	engine := NewEngine(activity.NewTypeFilter())
	a := ride(1, "2023-06-01", 12.5)

	once, _ := engine.MergeCreate(New(), a)
	twice, result := engine.MergeCreate(once, a)

	assert.Equal(t, Duplicate, result)
	assert.True(t, once.Equal(twice))
}

func TestRemoveDelete(t *testing.T) {
	engine := NewEngine(activity.NewTypeFilter())

	t.Run("subtracts distance", func(t *testing.T) {
		doc := mustDays(t, map[string]DayEntry{"2023-01-01": {DistanceMiles: 20, ActivityIDs: []int64{1, 10}}})

		got, err := engine.RemoveDelete(doc, ride(1, "2023-01-01", 10))
		require.NoError(t, err)

		day, ok := got.Day("2023-01-01")
		require.True(t, ok)
		assert.InDelta(t, 10, day.DistanceMiles, 1e-9)
		assert.Equal(t, []int64{10}, day.ActivityIDs)
	})

	t.Run("drops empty day", func(t *testing.T) {
		doc := mustDays(t, map[string]DayEntry{"2023-01-02": {DistanceMiles: 5, ActivityIDs: []int64{2}}})

		got, err := engine.RemoveDelete(doc, ride(2, "2023-01-02", 5))
		require.NoError(t, err)

		_, ok := got.Day("2023-01-02")
		assert.False(t, ok)
		assert.Equal(t, 0, got.Len())
		assert.Equal(t, 1, doc.Len(), "input document was mutated")
	})

	t.Run("missing activity", func(t *testing.T) {
		doc := mustDays(t, map[string]DayEntry{"2023-01-02": {DistanceMiles: 5, ActivityIDs: []int64{2}}})

		_, err := engine.RemoveDelete(doc, ride(3, "2023-01-02", 1))
		var notIn *apperrors.NotInSummaryError
		require.True(t, errors.As(err, &notIn))
		assert.Equal(t, int64(3), notIn.ActivityID)
	})

	t.Run("missing day", func(t *testing.T) {
		_, err := engine.RemoveDelete(New(), ride(3, "2023-03-02", 1))
		var notIn *apperrors.NotInSummaryError
		assert.True(t, errors.As(err, &notIn))
	})
}

func TestDistanceInvariantAfterMixedOperations(t *testing.T) {
	engine := NewEngine(activity.NewTypeFilter())
	acts := []activity.Summary{
		ride(1, "2023-04-01", 10.2),
		ride(2, "2023-04-01", 3.3),
		ride(3, "2023-04-01", 7.7),
		ride(4, "2023-04-02", 1.1),
		act(5, activity.TypeRun, "2023-04-01", 4),
	}

	doc := New()
	for _, a := range acts {
		doc, _ = engine.MergeCreate(doc, a)
	}
	doc, err := engine.RemoveDelete(doc, acts[1])
	require.NoError(t, err)
	doc, err = engine.RemoveDelete(doc, acts[3])
	require.NoError(t, err)

	byID := make(map[int64]activity.Summary)
	for _, a := range acts {
		byID[a.ID] = a
	}
	for _, date := range doc.Dates() {
		day, _ := doc.Day(date)
		require.NotEmpty(t, day.ActivityIDs)
		var sum float64
		for _, id := range day.ActivityIDs {
			assert.Equal(t, activity.TypeRide, byID[id].Type)
			sum += byID[id].DistanceMiles()
		}
		assert.InDelta(t, sum, day.DistanceMiles, 1e-9)
	}
	assert.Equal(t, []string{"2023-04-01"}, doc.Dates())
}

func TestYearSummaryJSON(t *testing.T) {
	doc := mustDays(t, map[string]DayEntry{
		"2023-01-01": {DistanceMiles: 10, ActivityIDs: []int64{1}},
		"2023-01-05": {DistanceMiles: 2.5, ActivityIDs: []int64{7, 8}},
	})

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"2023-01-01": {"distance_miles": 10, "activity_ids": [1]},
		"2023-01-05": {"distance_miles": 2.5, "activity_ids": [7, 8]}
	}`, string(b))

	var back YearSummary
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, doc.Equal(&back))
}

func TestYearSummaryRejectsBrokenDocuments(t *testing.T) {
	tests := map[string]string{
		"empty day":     `{"2023-01-01": {"distance_miles": 0, "activity_ids": []}}`,
		"duplicate ids": `{"2023-01-01": {"distance_miles": 2, "activity_ids": [1, 1]}}`,
		"bad date":      `{"01/01/2023": {"distance_miles": 2, "activity_ids": [1]}}`,
		"negative":      `{"2023-01-01": {"distance_miles": -1, "activity_ids": [1]}}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var s YearSummary
			assert.Error(t, json.Unmarshal([]byte(raw), &s))
		})
	}
}

func TestNilSummaryIsEmpty(t *testing.T) {
	var s *YearSummary
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Dates())
	assert.Zero(t, s.TotalMiles())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}
