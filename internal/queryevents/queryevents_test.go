package queryevents

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleFilter() model.FilterState {
	return model.FilterState{
		Period:      model.Period{Start: 1600, End: 1700},
		Coordinates: model.Coordinates{Lat: 52.37064, Lng: 4.90047},
		Collections: []string{"Stadsarchief Amsterdam"},
		Creator:     "Blaeu",
	}
}

func TestNewEvent_CarriesFilterAndCell(t *testing.T) {
	f := sampleFilter()
	ev := NewEvent(f, DefaultCellRes)

	want, err := h3.LatLngToCell(h3.LatLng{Lat: f.Coordinates.Lat, Lng: f.Coordinates.Lng}, DefaultCellRes)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if ev.Cell != want.String() {
		t.Fatalf("cell=%q want %q", ev.Cell, want.String())
	}
	if ev.PeriodStart != 1600 || ev.PeriodEnd != 1700 || ev.Creator != "Blaeu" || len(ev.Collections) != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	f.Collections[0] = "mutated"
	if ev.Collections[0] != "Stadsarchief Amsterdam" {
		t.Fatalf("event must not alias filter collections")
	}
}

func TestNewEvent_BadResolutionLeavesCellEmpty(t *testing.T) {
	if ev := NewEvent(sampleFilter(), 16); ev.Cell != "" {
		t.Fatalf("expected empty cell, got %q", ev.Cell)
	}
	if _, err := Cell(model.Coordinates{}, -1); err == nil {
		t.Fatalf("expected resolution error")
	}
}

func TestPublisher_ProducesJSONKeyedBySession(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "map-queries" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil || string(key) != "sess-1" {
			return errors.New("wrong key")
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.QueryFP != "abc" || ev.Results != 3 || ev.Cell == "" {
			return errors.New("unexpected payload " + string(raw))
		}
		return nil
	})

	p := NewWithProducer(prod, "map-queries", 4, quiet())
	ev := NewEvent(sampleFilter(), DefaultCellRes)
	ev.SessionID = "sess-1"
	ev.QueryFP = "abc"
	ev.Results = 3
	p.Publish(ev)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisher_ProducerErrorsAreDrained(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := NewWithProducer(prod, "map-queries", 1, quiet())
	p.Publish(Event{QueryFP: "x"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	var s Sink = Discard{}
	s.Publish(Event{})
	if err := s.Close(); err != nil {
		t.Fatalf("discard close: %v", err)
	}
}
