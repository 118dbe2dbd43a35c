package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
)

// 2024-03-04 is a Monday.
var monday = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func firstSlot() booking.Slot {
	return booking.MustSlot(monday, monday.Add(time.Hour))
}

func startDays(t *testing.T, occurrences []Occurrence) []int {
	t.Helper()
	days := make([]int, 0, len(occurrences))
	for _, occurrence := range occurrences {
		require.Equal(t, time.Hour, occurrence.Slot.Duration())
		days = append(days, occurrence.Slot.Start.YearDay()-monday.YearDay())
	}
	return days
}

func TestEngine_GenerateOccurrences(t *testing.T) {
	t.Parallel()
	engine := NewEngine(nil)

	tests := []struct {
		name string
		rule Rule
		opts GenerateOptions
		want []int
	}{
		{
			name: "respects weekday selections",
			rule: Rule{
				Frequency: FrequencyWeekly,
				Weekdays:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
				Until:     monday.AddDate(0, 0, 14),
			},
			want: []int{0, 2, 4, 7, 9, 11, 14},
		},
		{
			name: "stops after count",
			rule: Rule{Frequency: FrequencyDaily, Count: 3},
			want: []int{0, 1, 2},
		},
		{
			name: "daily interval",
			rule: Rule{Frequency: FrequencyDaily, Interval: 2, Until: monday.AddDate(0, 0, 6)},
			want: []int{0, 2, 4, 6},
		},
		{
			name: "weekly interval defaults to the first weekday",
			rule: Rule{Frequency: FrequencyWeekly, Interval: 2, Count: 3},
			want: []int{0, 14, 28},
		},
		{
			name: "clips occurrences to the requested period",
			rule: Rule{
				Frequency: FrequencyDaily,
				Weekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
				Until:     monday.AddDate(0, 0, 30),
			},
			opts: GenerateOptions{RangeStart: monday.AddDate(0, 0, 3), RangeEnd: monday.AddDate(0, 0, 10)},
			want: []int{3, 4, 7, 8, 9, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			occurrences, err := engine.GenerateOccurrences(tt.rule, firstSlot(), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, startDays(t, occurrences))
		})
	}
}

func TestEngine_IndexCountsSkippedOccurrences(t *testing.T) {
	t.Parallel()
	rule := Rule{Frequency: FrequencyDaily, Count: 5}

	occurrences, err := NewEngine(nil).GenerateOccurrences(rule, firstSlot(), GenerateOptions{RangeStart: monday.AddDate(0, 0, 3)})
	require.NoError(t, err)
	require.Len(t, occurrences, 2)
	assert.Equal(t, 3, occurrences[0].Index)
	assert.Equal(t, 4, occurrences[1].Index)
}

func TestEngine_KeepsWallClockInLocation(t *testing.T) {
	t.Parallel()
	cet := time.FixedZone("CET", 60*60)
	rule := Rule{Frequency: FrequencyDaily, Count: 2}

	slots, err := NewEngine(cet).Slots(rule, firstSlot(), GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, time.UTC, slots[1].Start.Location())
	assert.Equal(t, monday.AddDate(0, 0, 1), slots[1].Start)
}

func TestEngine_Errors(t *testing.T) {
	t.Parallel()
	engine := NewEngine(nil)

	_, err := engine.GenerateOccurrences(Rule{Count: 1}, firstSlot(), GenerateOptions{})
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = engine.GenerateOccurrences(Rule{Frequency: FrequencyDaily}, firstSlot(), GenerateOptions{})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = engine.GenerateOccurrences(Rule{Frequency: FrequencyDaily, Count: 1}, booking.Slot{}, GenerateOptions{})
	assert.ErrorIs(t, err, ErrInvalidSlot)

	_, err = engine.GenerateOccurrences(Rule{Frequency: FrequencyDaily, Count: MaxOccurrences + 1}, firstSlot(), GenerateOptions{})
	assert.ErrorIs(t, err, ErrTooManyOccurrences)
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()

	got, err := ParseFrequency("weekly")
	require.NoError(t, err)
	assert.Equal(t, FrequencyWeekly, got)

	_, err = ParseFrequency("monthly")
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}
