package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type benchStore struct {
	due []Command
}

func (s *benchStore) Enqueue(context.Context, Command) error { return nil }

func (s *benchStore) Get(context.Context, string) (Command, error) { return Command{}, ErrCommandNotFound }

func (s *benchStore) Due(context.Context, string, DueOptions) ([]Command, error) {
	return s.due, nil
}

func (s *benchStore) Update(context.Context, Command) error { return nil }

func BenchmarkEngineFlush(b *testing.B) {
	now := time.Unix(1, 0).UTC()
	due := make([]Command, 100)
	for i := range due {
		due[i] = Command{
			ID:          string(rune('a' + i%26)),
			WorkspaceID: "ws_1",
			Type:        "TEST",
			Payload:     json.RawMessage(`{"n":1}`),
			CreatedAt:   now,
			Status:      StatusPending,
		}
	}
	engine := NewEngine(&benchStore{due: due}, TransportFunc(func(context.Context, Command) (Result, error) {
		return OK(), nil
	}), WithBatchSize(len(due)), WithClock(FixedClock{At: now}))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Flush(context.Background(), "ws_1"); err != nil {
			b.Fatalf("flush: %v", err)
		}
	}
}

func BenchmarkSerializeCommand(b *testing.B) {
	cmd := Command{
		ID:             "cmd-1",
		WorkspaceID:    "ws_1",
		Type:           "TEST",
		Payload:        json.RawMessage(`{"sku":"A-1","qty":2}`),
		CreatedAt:      time.Unix(1, 0).UTC(),
		Status:         StatusPending,
		IdempotencyKey: "cmd-1",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := SerializeCommand(cmd); err != nil {
			b.Fatalf("serialize: %v", err)
		}
	}
}

func BenchmarkUUIDGenerator(b *testing.B) {
	var gen UUIDGenerator
	for i := 0; i < b.N; i++ {
		if _, err := gen.NewID(); err != nil {
			b.Fatalf("new id: %v", err)
		}
	}
}
