package scheduler

import (
	"fmt"

	"github.com/example/reservation-scheduler/internal/booking"
)

type objectType int

const (
	objectReferencedResource objectType = iota + 1
	objectAllocatedReservation
	objectAvailableReservation
)

func (t objectType) String() string {
	switch t {
	case objectReferencedResource:
		return "referenced resource"
	case objectAllocatedReservation:
		return "allocated reservation"
	case objectAvailableReservation:
		return "available reservation"
	default:
		return fmt.Sprintf("objectType(%d)", int(t))
	}
}

type transition int

const (
	transitionAdded transition = iota + 1
	transitionRemoved
)

func (t transition) opposite() transition {
	if t == transitionAdded {
		return transitionRemoved
	}
	return transitionAdded
}

type change struct {
	objectType objectType
	object     any
}

// Savepoint is a frame of the state change log. Frames live in an arena on
// the State indexed by position; only the innermost frame records changes.
type Savepoint struct {
	state     *State
	index     int
	changes   map[change]transition
	order     []change
	destroyed bool
}

// CreateSavepoint opens a new innermost savepoint.
func (s *State) CreateSavepoint() *Savepoint {
	savepoint := &Savepoint{
		state:   s,
		index:   len(s.savepoints),
		changes: make(map[change]transition),
	}
	s.savepoints = append(s.savepoints, savepoint)
	return savepoint
}

// SavepointDepth returns the number of open savepoints.
func (s *State) SavepointDepth() int {
	return len(s.savepoints)
}

func (s *State) record(objectType objectType, object any, t transition) error {
	if s.replaying || len(s.savepoints) == 0 {
		return nil
	}
	return s.savepoints[len(s.savepoints)-1].note(change{objectType: objectType, object: object}, t)
}

// note records t for key. The opposite transition cancels a recorded one;
// the same transition twice means the state lost track of the object.
func (sp *Savepoint) note(key change, t transition) error {
	if recorded, ok := sp.changes[key]; ok {
		if recorded == t {
			return invariantf("%s %v recorded twice as %s in savepoint %d", key.objectType, describe(key.object), transitionName(t), sp.index)
		}
		delete(sp.changes, key)
		return nil
	}
	sp.changes[key] = t
	sp.order = append(sp.order, key)
	return nil
}

// Revert undoes every change since the savepoint was created, newest first,
// including those of later savepoints, and then destroys the savepoint.
func (sp *Savepoint) Revert() error {
	if sp.destroyed {
		return nil
	}
	st := sp.state
	for i := len(st.savepoints) - 1; i >= sp.index; i-- {
		if err := st.savepoints[i].undo(); err != nil {
			return err
		}
	}
	sp.Destroy()
	return nil
}

func (sp *Savepoint) undo() error {
	st := sp.state
	st.replaying = true
	defer func() { st.replaying = false }()

	for i := len(sp.order) - 1; i >= 0; i-- {
		key := sp.order[i]
		t, ok := sp.changes[key]
		if !ok {
			continue
		}
		delete(sp.changes, key)
		if err := st.apply(key, t.opposite()); err != nil {
			return err
		}
	}
	sp.order = nil
	return nil
}

// Destroy closes the savepoint and every later one without undoing. Their
// net changes move to the enclosing savepoint so that reverting it still
// restores the state it saw.
func (sp *Savepoint) Destroy() {
	if sp.destroyed {
		return
	}
	st := sp.state
	for i := len(st.savepoints) - 1; i >= sp.index; i-- {
		frame := st.savepoints[i]
		if i > 0 {
			st.savepoints[i-1].absorb(frame)
		}
		frame.destroyed = true
	}
	st.savepoints = st.savepoints[:sp.index]
}

// absorb folds the net changes of a closed inner frame into sp. State
// mutations are idempotent, so an inner frame never repeats a transition
// sp already holds.
func (sp *Savepoint) absorb(inner *Savepoint) {
	for _, key := range inner.order {
		t, ok := inner.changes[key]
		if !ok {
			continue
		}
		delete(inner.changes, key)
		if recorded, ok := sp.changes[key]; ok && recorded != t {
			delete(sp.changes, key)
			continue
		}
		if _, ok := sp.changes[key]; !ok {
			sp.order = append(sp.order, key)
		}
		sp.changes[key] = t
	}
	inner.order = nil
}

func (s *State) apply(key change, t transition) error {
	switch key.objectType {
	case objectReferencedResource:
		id := key.object.(string)
		if t == transitionAdded {
			return s.AddReferencedResource(id)
		}
		return s.RemoveReferencedResource(id)
	case objectAllocatedReservation:
		reservation := key.object.(*booking.Reservation)
		if t == transitionAdded {
			return s.AddAllocatedReservation(reservation)
		}
		return s.RemoveAllocatedReservation(reservation)
	case objectAvailableReservation:
		available := key.object.(*booking.AvailableReservation)
		if t == transitionAdded {
			return s.addAvailable(available, false)
		}
		return s.removeAvailable(available, false, false)
	default:
		return invariantf("unknown state object %s", key.objectType)
	}
}

func transitionName(t transition) string {
	if t == transitionAdded {
		return "added"
	}
	return "removed"
}

func describe(object any) string {
	switch o := object.(type) {
	case string:
		return o
	case *booking.Reservation:
		return o.String()
	case *booking.AvailableReservation:
		return o.Original.String() + "/" + o.Type.String()
	default:
		return fmt.Sprintf("%v", o)
	}
}
