// Package publish hands completed executions of published actions to consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stateforward/go-invoke/ledger"
	"github.com/stateforward/go-invoke/queue"
)

// Message is the published form of an execution.
type Message struct {
	Member      string          `json:"member"`
	Sequence    int             `json:"sequence"`
	Depth       int             `json:"depth"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Memento     *ledger.Memento `json:"memento,omitempty"`
	Threw       string          `json:"threw,omitempty"`
}

func NewMessage(execution *ledger.Execution) Message {
	message := Message{
		Member:      execution.Member,
		Sequence:    execution.Sequence,
		Depth:       execution.Depth(),
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
		Memento:     execution.Memento,
	}
	if execution.Threw != nil {
		message.Threw = execution.Threw.Error()
	}
	return message
}

// Memory queues messages for an in-process consumer.
type Memory struct {
	queue *queue.Queue[Message]
}

func NewMemory() *Memory {
	return &Memory{queue: queue.New[Message]()}
}

func (memory *Memory) Publish(ctx context.Context, execution *ledger.Execution) error {
	if !execution.Completed() {
		return fmt.Errorf("publish %s: execution has not completed", execution.Member)
	}
	memory.queue.Push(NewMessage(execution))
	return nil
}

// Next blocks until a message is published or ctx is done.
func (memory *Memory) Next(ctx context.Context) (Message, error) {
	return memory.queue.Next(ctx)
}

func (memory *Memory) Drain() []Message {
	return memory.queue.Drain()
}

// Stream appends messages to a Redis stream.
type Stream struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewStream(client *redis.Client, key string, maxLen int64) *Stream {
	return &Stream{client: client, key: key, maxLen: maxLen}
}

func (stream *Stream) Publish(ctx context.Context, execution *ledger.Execution) error {
	payload, err := json.Marshal(NewMessage(execution))
	if err != nil {
		return fmt.Errorf("encode %s: %w", execution.Member, err)
	}
	err = stream.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream.key,
		MaxLen: stream.maxLen,
		Approx: stream.maxLen > 0,
		Values: map[string]any{"member": execution.Member, "payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}
	return nil
}

// Read returns up to count messages after id, "0" reading from the start.
func (stream *Stream) Read(ctx context.Context, id string, count int64) ([]Message, string, error) {
	start := "-"
	if id != "0" && id != "" {
		start = "(" + id
	}
	entries, err := stream.client.XRangeN(ctx, stream.key, start, "+", count).Result()
	if err != nil {
		return nil, id, fmt.Errorf("redis read error: %w", err)
	}
	messages := make([]Message, 0, len(entries))
	last := id
	for _, entry := range entries {
		payload, _ := entry.Values["payload"].(string)
		var message Message
		if err := json.Unmarshal([]byte(payload), &message); err != nil {
			return nil, last, fmt.Errorf("decode entry %s: %w", entry.ID, err)
		}
		messages = append(messages, message)
		last = entry.ID
	}
	return messages, last, nil
}
