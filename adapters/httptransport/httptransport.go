// Package httptransport adapts ports.TransportPublisher onto net/http plus
// sony/gobreaker, grounded on internal/router/mediator/http.go's HTTPMediator
// (POST the payload, classify 2xx/4xx/5xx, Bearer auth header, circuit
// breaker around the call). The teacher's own retry loop
// (executeWithRetry/isRetryable) is dropped here: spec §4.3's outbox already
// retries a failed entry across poll cycles with its own backoff, so this
// adapter publishes exactly once per call and classifies the outcome's
// retryability for the outbox to act on, rather than retrying internally.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/heromessaging/hero-messaging/ports"
)

// Config configures the HTTP publisher.
type Config struct {
	Timeout time.Duration
	Headers map[string]string

	CircuitBreakerEnabled     bool
	CircuitBreakerName        string
	CircuitBreakerMaxRequests uint32
	CircuitBreakerInterval    time.Duration
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerMinRequests uint32
	CircuitBreakerRatio       float64
}

func DefaultConfig() Config {
	return Config{
		Timeout:                   30 * time.Second,
		CircuitBreakerEnabled:     true,
		CircuitBreakerName:        "heromessaging-http-publisher",
		CircuitBreakerMaxRequests: 10,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerTimeout:     5 * time.Second,
		CircuitBreakerMinRequests: 10,
		CircuitBreakerRatio:       0.5,
	}
}

// Publisher posts an outbox entry's message as JSON to its destination URL
// (ports.Entry.Options.Destination).
type Publisher struct {
	client  *http.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

func New(cfg Config) *Publisher {
	p := &Publisher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    slog.Default(),
	}
	if cfg.CircuitBreakerEnabled {
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.CircuitBreakerName,
			MaxRequests: cfg.CircuitBreakerMaxRequests,
			Interval:    cfg.CircuitBreakerInterval,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.CircuitBreakerRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.log.Info("http publisher circuit breaker state changed",
					slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
			},
		})
	}
	return p
}

var _ ports.TransportPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, entry *ports.Entry) ports.PublishResult {
	if p.breaker == nil {
		return p.doPublish(ctx, entry)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		r := p.doPublish(ctx, entry)
		if !r.Success && r.Retryable {
			return r, r.Err
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ports.PublishResult{Success: false, Retryable: true, Err: err}
		}
	}
	if r, ok := result.(ports.PublishResult); ok {
		return r
	}
	return ports.PublishResult{Success: false, Retryable: true, Err: err}
}

func (p *Publisher) doPublish(ctx context.Context, entry *ports.Entry) ports.PublishResult {
	if entry.Options.Destination == "" {
		return ports.PublishResult{Success: false, Retryable: false, Err: errors.New("httptransport: entry has no destination URL")}
	}

	body, err := json.Marshal(entry.Message)
	if err != nil {
		return ports.PublishResult{Success: false, Retryable: false, Err: fmt.Errorf("marshal message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.Options.Destination, bytes.NewReader(body))
	if err != nil {
		return ports.PublishResult{Success: false, Retryable: false, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ports.PublishResult{Success: false, Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ports.PublishResult{Success: true, StatusCode: resp.StatusCode}
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return ports.PublishResult{Success: false, Retryable: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("httptransport: status %d", resp.StatusCode)}
	default:
		return ports.PublishResult{Success: false, Retryable: false, StatusCode: resp.StatusCode, Err: fmt.Errorf("httptransport: status %d", resp.StatusCode)}
	}
}
