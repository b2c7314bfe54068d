package sqs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

type fakeSQS struct {
	batches    [][]types.Message
	receiveErr error
	deleted    []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if len(f.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	for _, e := range in.Entries {
		f.deleted = append(f.deleted, aws.ToString(e.ReceiptHandle))
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func trigger(handle string) types.Message {
	return types.Message{ReceiptHandle: aws.String(handle), Body: aws.String(`{"source":"aws.events"}`)}
}

func TestConsumeOnce(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{trigger("a"), trigger("b")}}}
	c := NewTriggerConsumerWithClient(client, Config{QueueURL: "q"}, zap.NewNop())

	polls := 0
	poll := func(context.Context) (int, error) {
		polls++
		return 2, nil
	}

	if err := c.ConsumeOnce(context.Background(), poll); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if polls != 1 {
		t.Errorf("a batch of triggers should poll once, polled %d", polls)
	}
	if len(client.deleted) != 2 {
		t.Errorf("deleted = %v", client.deleted)
	}

	// An empty receive does not poll.
	if err := c.ConsumeOnce(context.Background(), poll); err != nil || polls != 1 {
		t.Errorf("empty receive: polls=%d err=%v", polls, err)
	}
}

func TestConsumeOnce_PollErrorKeepsTriggers(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{trigger("a")}}}
	c := NewTriggerConsumerWithClient(client, Config{QueueURL: "q"}, zap.NewNop())

	err := c.ConsumeOnce(context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("database is down")
	})
	if err == nil {
		t.Fatal("expected poll error")
	}
	if len(client.deleted) != 0 {
		t.Error("triggers of a failed poll must stay on the queue")
	}
}

func TestConsumeOnce_ReceiveError(t *testing.T) {
	c := NewTriggerConsumerWithClient(&fakeSQS{receiveErr: errors.New("no route")}, Config{QueueURL: "q"}, zap.NewNop())
	if err := c.ConsumeOnce(context.Background(), func(context.Context) (int, error) { return 0, nil }); err == nil {
		t.Error("expected receive error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{trigger("a")}}}
	c := NewTriggerConsumerWithClient(client, Config{QueueURL: "q", ErrorBackoff: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func(context.Context) (int, error) {
			cancel()
			return 1, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if len(client.deleted) != 1 {
		t.Errorf("deleted = %v", client.deleted)
	}
}
