package ports

import "context"

// PublishResult is returned by TransportPublisher.Publish.
type PublishResult struct {
	Success    bool
	StatusCode int
	Retryable  bool
	Err        error
}

// TransportPublisher is the downstream collaborator the outbox flush loop
// hands claimed entries to (spec §6).
type TransportPublisher interface {
	Publish(ctx context.Context, entry *Entry) PublishResult
}

// Consumer is the inbound collaborator an Inbox intake source satisfies,
// mirroring the teacher's queue.Consumer interface.
type Consumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, payload []byte, metadata map[string]string) error) error
	Close() error
}
