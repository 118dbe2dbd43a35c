package booking

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSlot indicates a slot whose end does not follow its start.
var ErrInvalidSlot = errors.New("booking: invalid slot")

// Slot is a half-open time interval [Start, End).
type Slot struct {
	Start time.Time
	End   time.Time
}

// NewSlot validates and returns a slot.
func NewSlot(start, end time.Time) (Slot, error) {
	if !end.After(start) {
		return Slot{}, fmt.Errorf("%w: %s - %s", ErrInvalidSlot, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Slot{Start: start, End: end}, nil
}

// MustSlot is NewSlot for literals known to be valid.
func MustSlot(start, end time.Time) Slot {
	slot, err := NewSlot(start, end)
	if err != nil {
		panic(err)
	}
	return slot
}

// IsZero reports whether the slot is unset.
func (s Slot) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}

// Contains reports whether other lies entirely within s.
func (s Slot) Contains(other Slot) bool {
	return !other.Start.Before(s.Start) && !other.End.After(s.End)
}

// Overlaps reports whether the two slots share any instant.
func (s Slot) Overlaps(other Slot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Extend widens the slot by the given durations on each side.
func (s Slot) Extend(before, after time.Duration) Slot {
	return Slot{Start: s.Start.Add(-before), End: s.End.Add(after)}
}

// Duration returns the slot length.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s/%s", s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339))
}
