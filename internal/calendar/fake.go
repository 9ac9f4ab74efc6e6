package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// Fake is an in-memory calendar implementing both boundaries. Tests use it
// to script external state: busy intervals for the availability builder,
// and a mutable event set the synchronizer reconciles against. Every write
// is counted so idempotence tests can assert "second pass, zero writes".
//
// Thread-safety: safe for concurrent use via internal mutex.
type Fake struct {
	mu     sync.Mutex
	nextID int
	events map[string]map[string]Event // userID -> eventID -> event
	busy   map[string][]Interval       // extra non-managed busy intervals

	writes       int
	unauthorized bool
}

// NewFake creates an empty fake calendar.
func NewFake() *Fake {
	return &Fake{
		events: map[string]map[string]Event{},
		busy:   map[string][]Interval{},
	}
}

// AddBusy scripts a non-managed external busy interval.
func (f *Fake) AddBusy(userID string, start, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[userID] = append(f.busy[userID], Interval{Start: start, End: end})
}

// Revoke makes every subsequent call fail Unauthorized, simulating token
// revocation at the provider.
func (f *Fake) Revoke() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unauthorized = true
}

// Writes returns the external write count (creates, updates, deletes).
func (f *Fake) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Events returns a copy of a user's events, for assertions.
func (f *Fake) Events(userID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events[userID] {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UserMove simulates the user dragging an event in their calendar UI.
func (f *Fake) UserMove(userID, eventID string, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[userID][eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Start, ev.End = start, end
	f.bump(&ev)
	f.events[userID][eventID] = ev
	return nil
}

// UserRetitle simulates the user editing title/notes in their calendar UI.
func (f *Fake) UserRetitle(userID, eventID, title, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[userID][eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Title, ev.Notes = title, notes
	f.bump(&ev)
	f.events[userID][eventID] = ev
	return nil
}

// UserDelete simulates the user deleting an event externally.
func (f *Fake) UserDelete(userID, eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events[userID], eventID)
}

// AddForeignEvent scripts an event the engine does not own (no marker, or
// marker without linkage). The synchronizer must never touch it.
func (f *Fake) AddForeignEvent(userID string, ev Event) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ev.ID = fmt.Sprintf("ev-%d", f.nextID)
	f.bump(&ev)
	if f.events[userID] == nil {
		f.events[userID] = map[string]Event{}
	}
	f.events[userID][ev.ID] = ev
	return ev.ID
}

func (f *Fake) bump(ev *Event) {
	f.nextID++
	ev.Etag = fmt.Sprintf("etag-%d", f.nextID)
	if ev.Updated.IsZero() {
		ev.Updated = time.Unix(1700000000, 0).UTC()
	} else {
		ev.Updated = ev.Updated.Add(time.Second)
	}
}

// BusyIntervals implements AvailabilityProvider.
func (f *Fake) BusyIntervals(_ context.Context, userID string, window model.Window) ([]Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauthorized {
		return nil, ErrUnauthorized
	}
	var out []Interval
	for _, iv := range f.busy[userID] {
		if iv.Start.Before(window.End) && window.Start.Before(iv.End) {
			out = append(out, iv)
		}
	}
	for _, ev := range f.events[userID] {
		if ev.Start.Before(window.End) && window.Start.Before(ev.End) {
			out = append(out, Interval{Start: ev.Start, End: ev.End, Managed: ev.Managed && ev.BlockID != ""})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateEvent implements Writer.
func (f *Fake) CreateEvent(_ context.Context, userID string, ev Event) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauthorized {
		return Event{}, ErrUnauthorized
	}
	f.writes++
	f.nextID++
	ev.ID = fmt.Sprintf("ev-%d", f.nextID)
	f.bump(&ev)
	if f.events[userID] == nil {
		f.events[userID] = map[string]Event{}
	}
	f.events[userID][ev.ID] = ev
	return ev, nil
}

// FetchEvent implements Writer.
func (f *Fake) FetchEvent(_ context.Context, userID, eventID string) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauthorized {
		return Event{}, ErrUnauthorized
	}
	ev, ok := f.events[userID][eventID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return ev, nil
}

// UpdateEvent implements Writer. Etag-checked.
func (f *Fake) UpdateEvent(_ context.Context, userID string, ev Event) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauthorized {
		return Event{}, ErrUnauthorized
	}
	current, ok := f.events[userID][ev.ID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	if current.Etag != ev.Etag {
		return Event{}, ErrEtagMismatch
	}
	f.writes++
	current.Start, current.End = ev.Start, ev.End
	current.Title, current.Notes = ev.Title, ev.Notes
	f.bump(&current)
	f.events[userID][ev.ID] = current
	return current, nil
}

// DeleteEvent implements Writer. Etag-checked.
func (f *Fake) DeleteEvent(_ context.Context, userID, eventID, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauthorized {
		return ErrUnauthorized
	}
	current, ok := f.events[userID][eventID]
	if !ok {
		return ErrEventNotFound
	}
	if current.Etag != etag {
		return ErrEtagMismatch
	}
	f.writes++
	delete(f.events[userID], eventID)
	return nil
}
