// Package natstransport adapts ports.TransportPublisher and ports.Consumer
// onto NATS JetStream, grounded on internal/queue/nats/client.go: a
// jetstream.JetStream publishes to a subject derived from the entry's
// destination, and a durable jetstream.Consumer drives Consume's handler
// loop, acking/naking based on the handler's error.
package natstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/heromessaging/hero-messaging/ports"
)

// Config configures the NATS JetStream connection and consumer.
type Config struct {
	URL          string
	StreamName   string
	ConsumerName string
	Subjects     []string
	AckWait      time.Duration
	MaxDeliver   int
}

func DefaultConfig() Config {
	return Config{
		URL:          "nats://localhost:4222",
		StreamName:   "HEROMESSAGING",
		ConsumerName: "heromessaging-consumer",
		Subjects:     []string{"heromessaging.>"},
		AckWait:      2 * time.Minute,
		MaxDeliver:   5,
	}
}

// Client wraps a NATS connection and provides both publishing and
// consuming, mirroring the teacher's combined Client shape.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	log    *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natstransport: connect: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natstransport: jetstream: %w", err)
	}
	return &Client{conn: conn, js: js, cfg: cfg, log: slog.Default()}, nil
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

// Publisher publishes entries to a subject (ports.Entry.Options.Destination
// is used verbatim as the NATS subject).
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(c *Client) *Publisher {
	return &Publisher{js: c.js}
}

var _ ports.TransportPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, entry *ports.Entry) ports.PublishResult {
	if entry.Options.Destination == "" {
		return ports.PublishResult{Success: false, Retryable: false, Err: errors.New("natstransport: entry has no destination subject")}
	}
	data, err := json.Marshal(entry.Message)
	if err != nil {
		return ports.PublishResult{Success: false, Retryable: false, Err: fmt.Errorf("natstransport: marshal: %w", err)}
	}

	msg := &nats.Msg{Subject: entry.Options.Destination, Data: data, Header: make(nats.Header)}
	if entry.ID != "" {
		msg.Header.Set("Nats-Msg-Id", entry.ID)
	}

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return ports.PublishResult{Success: false, Retryable: true, Err: fmt.Errorf("natstransport: publish: %w", err)}
	}
	return ports.PublishResult{Success: true}
}

// Consumer drives ports.Consumer off a durable JetStream pull consumer.
type Consumer struct {
	client   *Client
	consumer jetstream.Consumer
	name     string
}

func NewConsumer(ctx context.Context, c *Client, name, filterSubject string) (*Consumer, error) {
	ackWait := c.cfg.AckWait
	if ackWait == 0 {
		ackWait = 2 * time.Minute
	}
	maxDeliver := c.cfg.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = 5
	}

	stream, err := c.js.Stream(ctx, c.cfg.StreamName)
	if err != nil {
		return nil, fmt.Errorf("natstransport: stream: %w", err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("natstransport: create consumer: %w", err)
	}
	return &Consumer{client: c, consumer: consumer, name: name}, nil
}

var _ ports.Consumer = (*Consumer)(nil)

func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, payload []byte, metadata map[string]string) error) error {
	msgIter, err := c.consumer.Messages()
	if err != nil {
		return fmt.Errorf("natstransport: message iterator: %w", err)
	}
	defer msgIter.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := msgIter.Next()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			slog.Error("natstransport: error getting next message", slog.Any("error", err), slog.String("consumer", c.name))
			continue
		}

		metadata := make(map[string]string, len(msg.Headers()))
		for k, v := range msg.Headers() {
			if len(v) > 0 {
				metadata[k] = v[0]
			}
		}

		if err := handler(ctx, msg.Data(), metadata); err != nil {
			slog.Error("natstransport: handler error", slog.Any("error", err), slog.String("consumer", c.name))
			_ = msg.Nak()
			continue
		}
		_ = msg.Ack()
	}
}

func (c *Consumer) Close() error { return nil }
