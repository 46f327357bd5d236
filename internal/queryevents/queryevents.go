// Package queryevents publishes "map query executed" events to Kafka.
package queryevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

const DefaultCellRes = 8

type Event struct {
	SessionID   string    `json:"session_id"`
	QueryFP     string    `json:"query_fp"`
	PeriodStart int       `json:"period_start"`
	PeriodEnd   int       `json:"period_end"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Cell        string    `json:"cell,omitempty"`
	Collections []string  `json:"collections,omitempty"`
	Creator     string    `json:"creator,omitempty"`
	Results     int       `json:"results"`
	DurationMs  int64     `json:"duration_ms"`
	TS          time.Time `json:"ts"`
}

// Sink receives events. Publish must not block the caller.
type Sink interface {
	Publish(ev Event)
	Close() error
}

// NewEvent fills the filter part of an event and tags it with the H3 cell
// containing the query point. A bad resolution leaves Cell empty.
func NewEvent(f model.FilterState, cellRes int) Event {
	ev := Event{
		PeriodStart: f.Period.Start,
		PeriodEnd:   f.Period.End,
		Lat:         f.Coordinates.Lat,
		Lng:         f.Coordinates.Lng,
		Collections: append([]string(nil), f.Collections...),
		Creator:     f.Creator,
		TS:          time.Now().UTC(),
	}
	if cell, err := Cell(f.Coordinates, cellRes); err == nil {
		ev.Cell = cell
	}
	return ev
}

func Cell(c model.Coordinates, res int) (string, error) {
	if res < 0 || res > 15 {
		return "", fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat, Lng: c.Lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return cell.String(), nil
}

type Publisher struct {
	topic   string
	logger  *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}
}

var _ Sink = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("queryevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer takes ownership of prod; Close closes it.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("query event marshal failed", "err", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			if ev.SessionID != "" {
				msg.Key = sarama.StringEncoder(ev.SessionID)
			}
			p.prod.Input() <- msg
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("query event produce failed", "err", err)
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		// queue full, drop rather than stall the execute path
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("queryevents: close producer: %w", err)
	}
	return nil
}

// Discard is the Sink used when events are disabled
type Discard struct{}

func (Discard) Publish(Event) {}
func (Discard) Close() error  { return nil }
