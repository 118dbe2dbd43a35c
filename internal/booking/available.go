package booking

import (
	"errors"
	"fmt"
)

// ErrNegativeAvailability indicates more licenses in use than a provider has.
var ErrNegativeAvailability = errors.New("booking: negative available license count")

// AvailableType classifies how a previously allocated reservation may be used.
type AvailableType int

const (
	// Reusable capacity is shared as is or topped up.
	Reusable AvailableType = iota + 1
	// Reallocatable capacity is replaced by the new allocation.
	Reallocatable
)

func (t AvailableType) String() string {
	switch t {
	case Reusable:
		return "REUSABLE"
	case Reallocatable:
		return "REALLOCATABLE"
	default:
		return fmt.Sprintf("AvailableType(%d)", int(t))
	}
}

// AvailableReservation wraps a persisted reservation the current attempt may
// reuse. The wrapped reservation is borrowed and never modified.
type AvailableReservation struct {
	Original *Reservation
	Type     AvailableType
}

// Target returns the reservation holding the capacity.
func (a *AvailableReservation) Target() *Reservation {
	return a.Original.Target()
}

// Modifiable reports whether the original may be replaced.
func (a *AvailableReservation) Modifiable() bool {
	return a.Type == Reallocatable
}

// AvailableExecutable is a room endpoint provided by an available
// reservation.
type AvailableExecutable struct {
	Endpoint  *RoomEndpoint
	Available *AvailableReservation
}

// Original returns the reservation that allocated the endpoint.
func (a *AvailableExecutable) Original() *Reservation {
	return a.Available.Original
}

// Type returns the classification of the providing reservation.
func (a *AvailableExecutable) Type() AvailableType {
	return a.Available.Type
}

// AvailableRoom is the license availability of a room provider for a slot.
type AvailableRoom struct {
	Provider              *RoomProviderCapability
	MaximumLicenseCount   int
	AvailableLicenseCount int
	MaxLicencesPerRoom    int
}

// NewAvailableRoom computes availability from the peak used license count.
func NewAvailableRoom(provider *RoomProviderCapability, usedLicenseCount int) (AvailableRoom, error) {
	available := provider.LicenseCount - usedLicenseCount
	if available < 0 {
		return AvailableRoom{}, fmt.Errorf("%w: provider %s has %d licenses, %d used",
			ErrNegativeAvailability, provider.ID, provider.LicenseCount, usedLicenseCount)
	}
	return AvailableRoom{
		Provider:              provider,
		MaximumLicenseCount:   provider.LicenseCount,
		AvailableLicenseCount: available,
		MaxLicencesPerRoom:    provider.MaxLicencesPerRoom,
	}, nil
}

// FullnessRatio is the fraction of capacity in use. Providers without
// licenses are full.
func (r AvailableRoom) FullnessRatio() float64 {
	if r.MaximumLicenseCount <= 0 {
		return 1
	}
	return 1 - float64(r.AvailableLicenseCount)/float64(r.MaximumLicenseCount)
}

// AvailableValue is a value chosen for a value reservation together with the
// available reservation it came from, if any.
type AvailableValue struct {
	Value     string
	Available *AvailableReservation
}
