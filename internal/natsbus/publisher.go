// Package natsbus exports inventory events to NATS JetStream as CloudEvents.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"netcontrol/internal/device"
	"netcontrol/internal/event"
)

const (
	DefaultStream        = "NETCONTROL_EVENTS"
	DefaultSubjectPrefix = "netcontrol.events"
	defaultQueueSize     = 1024
	defaultTimeout       = 5 * time.Second
)

// Config configures the publisher.
type Config struct {
	Stream        string
	SubjectPrefix string
	// Source is the CloudEvent source, usually "netcontrol/<node id>".
	Source    string
	QueueSize int
	Timeout   time.Duration
	// MaxAge bounds how long the stream retains events; zero keeps them
	// until the stream's other limits apply.
	MaxAge time.Duration
}

func (c *Config) defaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Source == "" {
		c.Source = "netcontrol"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// CloudEvent is the JSON envelope of a published event.
type CloudEvent struct {
	SpecVersion     string       `json:"specversion"`
	ID              string       `json:"id"`
	Source          string       `json:"source"`
	Type            string       `json:"type"`
	Subject         string       `json:"subject,omitempty"`
	Time            time.Time    `json:"time"`
	DataContentType string       `json:"datacontenttype"`
	Data            device.Event `json:"data"`
}

// EventType returns the CloudEvent type for an inventory event type.
func EventType(t device.EventType) string {
	return "netcontrol.device." + string(t)
}

// Publisher forwards fanout events to JetStream. Publishing happens on its
// own goroutine so a slow server never stalls the fanout.
type Publisher struct {
	js     jetstream.JetStream
	cfg    Config
	logger *slog.Logger

	queue chan device.Event
	done  chan struct{}
	wg    sync.WaitGroup

	mu    sync.Mutex
	unsub func()
}

// NewPublisher ensures the stream exists and returns a publisher for it.
func NewPublisher(ctx context.Context, js jetstream.JetStream, cfg Config, logger *slog.Logger) (*Publisher, error) {
	cfg.defaults()
	sc := jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   cfg.MaxAge,
	}
	if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
		return nil, fmt.Errorf("create or update stream %s: %w", cfg.Stream, err)
	}
	return &Publisher{
		js:     js,
		cfg:    cfg,
		logger: logger.With("component", "natsbus"),
		queue:  make(chan device.Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

// Subject returns the subject an event of type t is published on.
func (p *Publisher) Subject(t device.EventType) string {
	return p.cfg.SubjectPrefix + "." + string(t)
}

// Start subscribes to every event of events and begins publishing.
func (p *Publisher) Start(events *event.Fanout) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsub != nil {
		return
	}
	p.wg.Add(1)
	go p.run()
	p.unsub = events.OnAll(p.enqueue)
	p.logger.Info("publishing events", "stream", p.cfg.Stream, "subjects", p.cfg.SubjectPrefix+".>")
}

// Stop unsubscribes and publishes what is already queued before returning.
func (p *Publisher) Stop() {
	p.mu.Lock()
	unsub := p.unsub
	p.unsub = nil
	p.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	close(p.done)
	p.wg.Wait()
}

func (p *Publisher) enqueue(ev device.Event) {
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("publish queue full, dropping event", "type", ev.Type, "device", ev.Subject())
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.publishLogged(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					p.publishLogged(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publishLogged(ev device.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		p.logger.Error("publish event", "type", ev.Type, "device", ev.Subject(), "err", err)
	}
}

// Publish wraps ev in a CloudEvent and publishes it, waiting for the
// stream's ack.
func (p *Publisher) Publish(ctx context.Context, ev device.Event) error {
	if ev.Type == "" {
		return errors.New("publish: event without type")
	}
	ce := CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Source:          p.cfg.Source,
		Type:            EventType(ev.Type),
		Subject:         string(ev.Subject()),
		Time:            ev.Time,
		DataContentType: "application/json",
		Data:            ev,
	}
	if ce.Time.IsZero() {
		ce.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	ack, err := p.js.Publish(ctx, p.Subject(ev.Type), data, jetstream.WithMsgID(ce.ID))
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	p.logger.Debug("event published", "type", ce.Type, "device", ce.Subject, "seq", ack.Sequence)
	return nil
}
