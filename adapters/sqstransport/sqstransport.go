// Package sqstransport adapts ports.TransportPublisher and ports.Consumer
// onto AWS SQS, grounded on internal/queue/sqs/client.go: SendMessage for
// publishing, and a long-polling ReceiveMessage/DeleteMessage loop for
// consuming, with the teacher's adaptive-delay poll cadence (empty batch
// backs off, full batch keeps consuming at speed).
package sqstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/heromessaging/hero-messaging/ports"
)

// clientAPI is the subset of *sqs.Client this package depends on, narrowed
// for test substitution the way the teacher's SQSClientAPI does.
type clientAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config configures the queue this adapter talks to.
type Config struct {
	QueueURL            string
	Region              string
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
	MaxNumberOfMessages int32
}

func DefaultConfig() Config {
	return Config{
		WaitTimeSeconds:     20,
		VisibilityTimeout:   120,
		MaxNumberOfMessages: 10,
	}
}

// NewSQSClient loads the default AWS config and returns a ready *sqs.Client.
func NewSQSClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("sqstransport: load aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Publisher sends entries to ports.Entry.Options.Destination when set (so one
// client can serve several queues), falling back to the configured queue URL.
type Publisher struct {
	client   clientAPI
	queueURL string
}

func NewPublisher(client clientAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

var _ ports.TransportPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, entry *ports.Entry) ports.PublishResult {
	queueURL := p.queueURL
	if entry.Options.Destination != "" {
		queueURL = entry.Options.Destination
	}
	if queueURL == "" {
		return ports.PublishResult{Success: false, Retryable: false, Err: errors.New("sqstransport: entry has no destination queue URL")}
	}

	body, err := json.Marshal(entry.Message)
	if err != nil {
		return ports.PublishResult{Success: false, Retryable: false, Err: fmt.Errorf("sqstransport: marshal: %w", err)}
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return ports.PublishResult{Success: false, Retryable: true, Err: fmt.Errorf("sqstransport: send message: %w", err)}
	}
	return ports.PublishResult{Success: true}
}

// Consumer long-polls a queue and drives ports.Consumer's handler loop,
// deleting on success and relying on visibility timeout expiry for retry on
// failure (SQS has no explicit nack).
type Consumer struct {
	client              clientAPI
	queueURL            string
	name                string
	waitTimeSeconds     int32
	visibilityTimeout   int32
	maxNumberOfMessages int32
}

func NewConsumer(client clientAPI, name string, cfg Config) *Consumer {
	wait := cfg.WaitTimeSeconds
	if wait == 0 {
		wait = 20
	}
	vis := cfg.VisibilityTimeout
	if vis == 0 {
		vis = 120
	}
	max := cfg.MaxNumberOfMessages
	if max == 0 {
		max = 10
	}
	return &Consumer{
		client:              client,
		queueURL:            cfg.QueueURL,
		name:                name,
		waitTimeSeconds:     wait,
		visibilityTimeout:   vis,
		maxNumberOfMessages: max,
	}
}

var _ ports.Consumer = (*Consumer)(nil)

func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, payload []byte, metadata map[string]string) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := c.pollOnce(ctx, handler)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("sqstransport: poll error", slog.Any("error", err), slog.String("consumer", c.name))
			time.Sleep(time.Second)
			continue
		}

		switch {
		case n == 0:
			time.Sleep(time.Second)
		case n < int(c.maxNumberOfMessages):
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func (c *Consumer) pollOnce(ctx context.Context, handler func(ctx context.Context, payload []byte, metadata map[string]string) error) (int, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.maxNumberOfMessages,
		WaitTimeSeconds:       c.waitTimeSeconds,
		VisibilityTimeout:     c.visibilityTimeout,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, fmt.Errorf("sqstransport: receive message: %w", err)
	}

	for _, msg := range result.Messages {
		metadata := make(map[string]string, len(msg.MessageAttributes))
		for k, v := range msg.MessageAttributes {
			if v.StringValue != nil {
				metadata[k] = *v.StringValue
			}
		}

		body := []byte(aws.ToString(msg.Body))
		if err := handler(ctx, body, metadata); err != nil {
			slog.Error("sqstransport: handler error", slog.Any("error", err), slog.String("messageId", aws.ToString(msg.MessageId)))
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			slog.Warn("sqstransport: delete message failed", slog.Any("error", err), slog.String("messageId", aws.ToString(msg.MessageId)))
		}
	}
	return len(result.Messages), nil
}

func (c *Consumer) Close() error { return nil }
