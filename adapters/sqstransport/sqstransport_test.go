package sqstransport

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/heromessaging/hero-messaging/ports"
)

type stubSQSClient struct {
	sendCalls   int
	sendErr     error
	deleteCalls int
	receiveOut  *sqs.ReceiveMessageOutput
	receiveErr  error
}

func (s *stubSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.sendCalls++
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func (s *stubSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if s.receiveErr != nil {
		return nil, s.receiveErr
	}
	return s.receiveOut, nil
}

func (s *stubSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.deleteCalls++
	return &sqs.DeleteMessageOutput{}, nil
}

func TestPublisherSendsToQueueURL(t *testing.T) {
	client := &stubSQSClient{}
	p := NewPublisher(client, "https://sqs.example/queue")

	result := p.Publish(context.Background(), &ports.Entry{Message: map[string]any{"hello": "world"}})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if client.sendCalls != 1 {
		t.Errorf("expected one SendMessage call, got %d", client.sendCalls)
	}
}

func TestPublisherRejectsMissingDestination(t *testing.T) {
	p := NewPublisher(&stubSQSClient{}, "")
	result := p.Publish(context.Background(), &ports.Entry{Message: "payload"})
	if result.Success || result.Retryable {
		t.Errorf("expected a non-retryable failure for a missing destination, got %+v", result)
	}
}

func TestConsumerPollOnceDeletesOnSuccess(t *testing.T) {
	client := &stubSQSClient{
		receiveOut: &sqs.ReceiveMessageOutput{
			Messages: []types.Message{
				{MessageId: aws.String("m1"), Body: aws.String(`{"a":1}`), ReceiptHandle: aws.String("rh-1")},
			},
		},
	}
	c := NewConsumer(client, "test-consumer", Config{QueueURL: "https://sqs.example/queue"})

	var gotBody []byte
	n, err := c.pollOnce(context.Background(), func(ctx context.Context, payload []byte, metadata map[string]string) error {
		gotBody = payload
		return nil
	})
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 message processed, got %d", n)
	}
	if string(gotBody) != `{"a":1}` {
		t.Errorf("unexpected payload: %s", gotBody)
	}
	if client.deleteCalls != 1 {
		t.Errorf("expected the successfully handled message to be deleted, got %d deletes", client.deleteCalls)
	}
}

func TestConsumerPollOnceSkipsDeleteOnHandlerError(t *testing.T) {
	client := &stubSQSClient{
		receiveOut: &sqs.ReceiveMessageOutput{
			Messages: []types.Message{
				{MessageId: aws.String("m1"), Body: aws.String("payload"), ReceiptHandle: aws.String("rh-1")},
			},
		},
	}
	c := NewConsumer(client, "test-consumer", Config{QueueURL: "https://sqs.example/queue"})

	n, err := c.pollOnce(context.Background(), func(ctx context.Context, payload []byte, metadata map[string]string) error {
		return errBoom
	})
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the failed message still counted as processed, got %d", n)
	}
	if client.deleteCalls != 0 {
		t.Errorf("expected no delete for a failed handler so SQS visibility timeout drives redelivery, got %d", client.deleteCalls)
	}
}

var errBoom = errBoomErr{}

type errBoomErr struct{}

func (errBoomErr) Error() string { return "boom" }
