package formstate

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

var amsterdam = model.Coordinates{Lat: 52.37064, Lng: 4.90047}

func newState() *FormState {
	return New(Bounds{Min: 1550, Max: 2024}, amsterdam)
}

func TestNew_Defaults(t *testing.T) {
	s := newState()
	st := s.Snapshot()

	assert.Equal(t, model.Period{Start: 1550, End: 2024}, st.Period)
	assert.Equal(t, amsterdam, st.Coordinates)
	assert.Empty(t, st.Collections)
	assert.Empty(t, st.Creator)
	assert.Equal(t, uint64(0), s.Version())
}

func TestDefaultBounds_UsesCurrentYear(t *testing.T) {
	b := DefaultBounds(DefaultPeriodMin, time.Date(2031, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, Bounds{Min: 1550, Max: 2031}, b)
}

func TestSetPeriodStart_ClampsAndRaisesEnd(t *testing.T) {
	s := newState()
	s.SetPeriodEnd(1600)

	st := s.SetPeriodStart(2050)
	assert.Equal(t, 2024, st.Period.Start)
	assert.Equal(t, 2024, st.Period.End)
}

func TestSetPeriodStart_BelowMinClamps(t *testing.T) {
	s := newState()
	st := s.SetPeriodStart(1200)
	assert.Equal(t, model.Period{Start: 1550, End: 2024}, st.Period)
}

func TestSetPeriodEnd_ClampsAndLowersStart(t *testing.T) {
	s := newState()
	s.SetPeriodStart(1800)

	st := s.SetPeriodEnd(1000)
	assert.Equal(t, model.Period{Start: 1550, End: 1550}, st.Period)

	st = s.SetPeriodEnd(1700)
	assert.Equal(t, model.Period{Start: 1550, End: 1700}, st.Period)
}

func TestSetCoordinates_Validates(t *testing.T) {
	s := newState()

	st, err := s.SetCoordinates(-33.9, 151.2)
	require.NoError(t, err)
	assert.Equal(t, model.Coordinates{Lat: -33.9, Lng: 151.2}, st.Coordinates)

	for _, c := range []struct{ lat, lng float64 }{
		{90.0001, 0},
		{-91, 0},
		{0, 180.5},
		{0, -181},
		{math.NaN(), 0},
		{0, math.NaN()},
	} {
		before := s.Version()
		st, err := s.SetCoordinates(c.lat, c.lng)
		require.Error(t, err)
		assert.True(t, IsValidation(err), "want ValidationError for %v", c)
		assert.True(t, errors.Is(err, ErrOutOfRange), "want ErrOutOfRange for %v", c)
		assert.Equal(t, model.Coordinates{Lat: -33.9, Lng: 151.2}, st.Coordinates)
		assert.Equal(t, before, s.Version(), "rejected mutation must not bump version")
	}

	_, err = s.SetCoordinates(90, -180)
	assert.NoError(t, err, "bounds are inclusive")
}

func TestSetCollections_ReplacesAndDedupes(t *testing.T) {
	s := newState()
	s.SetCollections([]string{"A", "B"})

	st := s.SetCollections([]string{"C", "", "A", "C"})
	assert.Equal(t, []string{"C", "A"}, st.Collections)

	st = s.SetCollections(nil)
	assert.Empty(t, st.Collections)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := newState()
	ids := []string{"A", "B"}
	s.SetCollections(ids)
	ids[0] = "mutated"

	snap := s.Snapshot()
	snap.Collections[1] = "mutated"

	assert.Equal(t, []string{"A", "B"}, s.Snapshot().Collections)
}

func TestSubscribe_NotifiedAfterEachMutation(t *testing.T) {
	s := newState()
	var seen []model.FilterState
	unsub := s.Subscribe(func(st model.FilterState) {
		// state is already applied when listeners run
		assert.Equal(t, st, s.Snapshot())
		seen = append(seen, st)
	})

	s.SetCreator("Blaeu")
	s.SetPeriodStart(1600)
	_, _ = s.SetCoordinates(999, 0) // rejected, no notification
	s.SetCollections([]string{"A"})

	require.Len(t, seen, 3)
	assert.Equal(t, "Blaeu", seen[0].Creator)
	assert.Equal(t, 1600, seen[1].Period.Start)
	assert.Equal(t, []string{"A"}, seen[2].Collections)
	assert.Equal(t, uint64(3), s.Version())

	unsub()
	unsub()
	s.SetCreator("x")
	assert.Len(t, seen, 3)
}

func TestSubscribe_OrderAndIndependentRemoval(t *testing.T) {
	s := newState()
	var calls []string
	u1 := s.Subscribe(func(model.FilterState) { calls = append(calls, "first") })
	s.Subscribe(func(model.FilterState) { calls = append(calls, "second") })

	s.SetCreator("ab")
	u1()
	s.SetCreator("cd")

	assert.Equal(t, []string{"first", "second", "second"}, calls)
}

func TestSubscribe_ListenerMayMutate(t *testing.T) {
	s := newState()
	s.Subscribe(func(st model.FilterState) {
		if st.Creator == "loop" {
			s.SetCreator("done")
		}
	})
	st := s.SetCreator("loop")
	assert.Equal(t, "loop", st.Creator)
	assert.Equal(t, "done", s.Snapshot().Creator)
}

func TestSubscribe_ConcurrentMutationsNotifyInOrder(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := newState()
		var (
			mu   sync.Mutex
			seen []string
		)
		s.Subscribe(func(st model.FilterState) {
			mu.Lock()
			seen = append(seen, st.Creator)
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s.SetCreator(fmt.Sprintf("creator-%d", i))
			}(i)
		}
		wg.Wait()

		mu.Lock()
		require.Len(t, seen, 8, "every mutation is delivered once")
		assert.Equal(t, s.Snapshot().Creator, seen[len(seen)-1], "last notification is the current state")
		mu.Unlock()
	}
}

func TestSubscribe_PanickingListenerDoesNotWedge(t *testing.T) {
	s := newState()
	var calls int
	s.Subscribe(func(st model.FilterState) {
		calls++
		if st.Creator == "boom" {
			panic("listener failed")
		}
	})

	assert.Panics(t, func() { s.SetCreator("boom") })
	s.SetCreator("after")
	assert.Equal(t, 2, calls)
}
