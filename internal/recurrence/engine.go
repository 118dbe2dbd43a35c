package recurrence

import (
	"errors"
	"time"

	"github.com/example/reservation-scheduler/internal/booking"
)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily repeats the slot every Interval days.
	FrequencyDaily
	// FrequencyWeekly repeats the slot on the selected weekdays every
	// Interval weeks.
	FrequencyWeekly
)

// ParseFrequency maps "daily" and "weekly" to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "daily":
		return FrequencyDaily, nil
	case "weekly":
		return FrequencyWeekly, nil
	default:
		return FrequencyUnspecified, ErrInvalidFrequency
	}
}

// Rule describes how a periodic request repeats its first slot.
type Rule struct {
	Frequency Frequency
	// Interval is the number of days or weeks between repetitions. Zero
	// means one.
	Interval int
	// Weekdays filters daily rules and selects the days of weekly rules.
	// A weekly rule without weekdays repeats on the weekday of the first
	// slot.
	Weekdays []time.Weekday
	// Until is the last instant an occurrence may start at.
	Until time.Time
	// Count limits the number of occurrences counted from the first slot.
	Count int
}

// GenerateOptions restricts generation to occurrences starting within
// [RangeStart, RangeEnd]. Zero bounds are open.
type GenerateOptions struct {
	RangeStart time.Time
	RangeEnd   time.Time
}

// Occurrence is one repetition of the first slot.
type Occurrence struct {
	// Index counts occurrences from the first slot, starting at zero.
	Index int
	Slot  booking.Slot
}

// MaxOccurrences bounds a single expansion.
const MaxOccurrences = 1000

var (
	// ErrInvalidFrequency indicates the recurrence frequency is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidWindow indicates the generation window is unbounded.
	ErrInvalidWindow = errors.New("recurrence: generation window requires an end bound or a count")
	// ErrInvalidSlot indicates the first slot is empty.
	ErrInvalidSlot = errors.New("recurrence: first slot must not be empty")
	// ErrTooManyOccurrences indicates the rule expands beyond MaxOccurrences.
	ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")
)

// Engine expands recurrence rules into slots.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that repeats wall clock times in loc. If loc
// is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// GenerateOccurrences repeats first according to rule.
//
// The engine enforces the following semantics:
//   - Repetitions keep the wall clock start and the duration of first in the
//     engine's location; results are returned in UTC.
//   - The first slot is occurrence zero when it matches the rule.
//   - Generation stops at Until, Count or the range end, whichever comes
//     first.
func (e *Engine) GenerateOccurrences(rule Rule, first booking.Slot, opts GenerateOptions) ([]Occurrence, error) {
	if first.IsZero() || first.Duration() <= 0 {
		return nil, ErrInvalidSlot
	}
	if rule.Frequency != FrequencyDaily && rule.Frequency != FrequencyWeekly {
		return nil, ErrInvalidFrequency
	}
	upper := rule.Until
	if !opts.RangeEnd.IsZero() && (upper.IsZero() || opts.RangeEnd.Before(upper)) {
		upper = opts.RangeEnd
	}
	if upper.IsZero() && rule.Count <= 0 {
		return nil, ErrInvalidWindow
	}
	interval := max(rule.Interval, 1)

	weekdays := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdays[day] = struct{}{}
	}
	start := first.Start.In(e.location)
	if rule.Frequency == FrequencyWeekly && len(weekdays) == 0 {
		weekdays[start.Weekday()] = struct{}{}
	}
	duration := first.Duration()
	// Weeks are counted from the Monday of the first slot.
	weekOffset := (int(start.Weekday()) + 6) % 7

	var occurrences []Occurrence
	index := 0
	for day := 0; ; day++ {
		current := start.AddDate(0, 0, day)
		if !upper.IsZero() && current.After(upper) {
			break
		}
		if rule.Count > 0 && index >= rule.Count {
			break
		}
		if !matches(rule.Frequency, interval, weekdays, day, weekOffset, current.Weekday()) {
			continue
		}
		if index >= MaxOccurrences {
			return nil, ErrTooManyOccurrences
		}
		if opts.RangeStart.IsZero() || !current.Before(opts.RangeStart) {
			occurrences = append(occurrences, Occurrence{
				Index: index,
				Slot:  booking.Slot{Start: current.UTC(), End: current.Add(duration).UTC()},
			})
		}
		index++
	}
	return occurrences, nil
}

// Slots returns only the slots of GenerateOccurrences.
func (e *Engine) Slots(rule Rule, first booking.Slot, opts GenerateOptions) ([]booking.Slot, error) {
	occurrences, err := e.GenerateOccurrences(rule, first, opts)
	if err != nil {
		return nil, err
	}
	slots := make([]booking.Slot, 0, len(occurrences))
	for _, occurrence := range occurrences {
		slots = append(slots, occurrence.Slot)
	}
	return slots, nil
}

func matches(freq Frequency, interval int, weekdays map[time.Weekday]struct{}, day, weekOffset int, weekday time.Weekday) bool {
	switch freq {
	case FrequencyDaily:
		if day%interval != 0 {
			return false
		}
		if len(weekdays) == 0 {
			return true
		}
		_, ok := weekdays[weekday]
		return ok
	case FrequencyWeekly:
		if ((day+weekOffset)/7)%interval != 0 {
			return false
		}
		_, ok := weekdays[weekday]
		return ok
	default:
		return false
	}
}
