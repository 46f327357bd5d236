// Package formstate owns the mutable filter state of one session and
// notifies subscribers after every applied change.
package formstate

import (
	"math"
	"sync"
	"time"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

const DefaultPeriodMin = 1550

// Bounds is the allowed period range. It is fixed for the life of a FormState.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DefaultBounds returns [min, year of now]
func DefaultBounds(min int, now time.Time) Bounds {
	return Bounds{Min: min, Max: now.Year()}
}

func (b Bounds) clamp(year int) int {
	if year < b.Min {
		return b.Min
	}
	if year > b.Max {
		return b.Max
	}
	return year
}

type Listener func(model.FilterState)

type FormState struct {
	bounds Bounds

	mu        sync.Mutex
	state     model.FilterState
	version   uint64
	nextID    uint64
	listeners map[uint64]Listener
	order     []uint64

	// pending notifications in version order, drained by one dispatcher
	pending     []model.FilterState
	dispatching bool
}

// New creates the state with the full period selected, the given centre,
// no collections and no creator.
func New(bounds Bounds, center model.Coordinates) *FormState {
	if bounds.Max < bounds.Min {
		bounds.Max = bounds.Min
	}
	return &FormState{
		bounds: bounds,
		state: model.FilterState{
			Period:      model.Period{Start: bounds.Min, End: bounds.Max},
			Coordinates: center,
			Collections: []string{},
		},
		listeners: map[uint64]Listener{},
	}
}

func (s *FormState) Bounds() Bounds { return s.bounds }

func (s *FormState) Snapshot() model.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Version counts applied mutations
func (s *FormState) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Subscribe registers l. Listeners run in registration order after each
// mutation and see mutations in version order. Without contention they run
// before the mutating call returns; a mutation made while another
// notification is in flight (including from a listener) is delivered by
// that dispatcher right after it. The returned func removes l.
func (s *FormState) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// SetPeriodStart clamps year into bounds and raises End if needed
func (s *FormState) SetPeriodStart(year int) model.FilterState {
	return s.apply(func(st *model.FilterState) {
		st.Period.Start = s.bounds.clamp(year)
		if st.Period.Start > st.Period.End {
			st.Period.End = st.Period.Start
		}
	})
}

// SetPeriodEnd clamps year into bounds and lowers Start if needed
func (s *FormState) SetPeriodEnd(year int) model.FilterState {
	return s.apply(func(st *model.FilterState) {
		st.Period.End = s.bounds.clamp(year)
		if st.Period.End < st.Period.Start {
			st.Period.Start = st.Period.End
		}
	})
}

// SetCoordinates rejects out-of-range values; the state is left untouched on error
func (s *FormState) SetCoordinates(lat, lng float64) (model.FilterState, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return s.Snapshot(), &ValidationError{Field: "lat", Value: lat, Reason: "latitude must be in [-90,90]", Err: ErrOutOfRange}
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return s.Snapshot(), &ValidationError{Field: "lng", Value: lng, Reason: "longitude must be in [-180,180]", Err: ErrOutOfRange}
	}
	return s.apply(func(st *model.FilterState) {
		st.Coordinates = model.Coordinates{Lat: lat, Lng: lng}
	}), nil
}

// SetCollections replaces the selection; order is kept, blanks and repeats dropped
func (s *FormState) SetCollections(ids []string) model.FilterState {
	cols := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cols = append(cols, id)
	}
	return s.apply(func(st *model.FilterState) {
		st.Collections = cols
	})
}

func (s *FormState) SetCreator(text string) model.FilterState {
	return s.apply(func(st *model.FilterState) {
		st.Creator = text
	})
}

func (s *FormState) apply(mutate func(*model.FilterState)) model.FilterState {
	s.mu.Lock()
	next := s.state.Clone()
	mutate(&next)
	s.state = next
	s.version++
	snap := next.Clone()
	s.pending = append(s.pending, snap)
	if s.dispatching {
		// the active dispatcher delivers it after the ones queued before
		s.mu.Unlock()
		return snap
	}
	s.dispatching = true
	s.mu.Unlock()

	s.dispatch()
	return snap
}

// dispatch drains pending with the lock released while listeners run
func (s *FormState) dispatch() {
	done := false
	defer func() {
		if !done {
			// a listener panicked; drop the rest so later mutations notify again
			s.mu.Lock()
			s.pending = nil
			s.dispatching = false
			s.mu.Unlock()
		}
	}()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			done = true
			return
		}
		st := s.pending[0]
		s.pending = s.pending[1:]
		ls := make([]Listener, 0, len(s.order))
		for _, id := range s.order {
			ls = append(ls, s.listeners[id])
		}
		s.mu.Unlock()

		for _, l := range ls {
			l(st.Clone())
		}
	}
}
