/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process domain events to an external broker so
// other services (notifications, payment reconciliation, the public site) can
// react to bookings and publishes.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/timegate/internal/events"
)

// Sink publishes one encoded event to a subject.
type Sink interface {
	Send(ctx context.Context, subject string, data []byte) error
	Close() error
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "timegate",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSSink publishes events as core NATS messages.
type NATSSink struct {
	conn *nats.Conn
}

// DialNATS connects to NATS.
func DialNATS(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	def := DefaultNATSConfig()
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("timegate"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn}, nil
}

func (s *NATSSink) Send(_ context.Context, subject string, data []byte) error {
	return s.conn.Publish(subject, data)
}

func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}

// Message is the envelope written to the broker.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Subject returns the broker subject for an event type, e.g.
// "timegate.events.booking.created".
func Subject(prefix string, eventType events.EventType) string {
	if prefix == "" {
		prefix = "timegate"
	}
	return prefix + ".events." + string(eventType)
}

// Forwarder copies every event from the local bus to a sink.
type Forwarder struct {
	bus    *events.Bus
	sink   Sink
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewForwarder creates a forwarder for every event type in events.All.
func NewForwarder(bus *events.Bus, sink Sink, prefix string, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		bus:    bus,
		sink:   sink,
		prefix: prefix,
		nodeID: nodeID(),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Run forwards events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, et := range events.All {
		sub := f.bus.Subscribe(et)
		wg.Add(1)
		go func(et events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer f.bus.Unsubscribe(et, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					f.forward(ctx, et, payload)
				}
			}
		}(et, sub)
	}
	f.logger.Info().Int("event_types", len(events.All)).Msg("event forwarder started")
	wg.Wait()
	return ctx.Err()
}

func (f *Forwarder) forward(ctx context.Context, et events.EventType, payload events.Payload) {
	data, err := json.Marshal(Message{
		EventType: et,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    f.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("event", string(et)).Msg("encode event failed")
		return
	}
	if err := f.sink.Send(ctx, Subject(f.prefix, et), data); err != nil {
		f.logger.Warn().Err(err).Str("event", string(et)).Msg("forward event failed")
	}
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "timegate"
	}
	return host + "-" + uuid.NewString()[:8]
}
