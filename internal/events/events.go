// Package events publishes indexed-extent notifications to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/observability"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
)

const (
	TypeIndexed  = "extent.indexed"
	TypeArchived = "extent.archived"
	TypeRestored = "extent.restored"
)

type Event struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Product  int             `json:"product"`
	Archived bool            `json:"archived"`
	BBox     model.BBox      `json:"bbox"`
	Time     model.TimeRange `json:"time"`
	TS       time.Time       `json:"ts"`
}

// Indexed builds the event emitted after a record is stored.
func Indexed(r model.Record) Event {
	return Event{
		Type:     TypeIndexed,
		ID:       r.ID,
		Product:  r.Product,
		Archived: r.Archived,
		BBox:     model.BBox{Lon: r.Lon, Lat: r.Lat},
		Time:     r.Time,
		TS:       time.Now().UTC(),
	}
}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, log), nil
}

// NewWithProducer wraps an existing producer. The Publisher owns it and closes
// it on Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logger.Discard()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEvent("error")
				p.log.Error("events: marshal", "id", ev.ID, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.ID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEvent("error")
				p.log.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish queues ev without blocking; the event is dropped when the queue is full.
func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
		observability.IncEvent("queued")
	default:
		observability.IncEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	<-p.errDone
	return nil
}
