package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueFanOut(t *testing.T) {
	queue := NewMemoryQueue(4)
	first := queue.Subscribe()
	second := queue.Subscribe()
	defer first.Close()
	defer second.Close()

	event := Event{Type: TypeVideoReady, VideoID: "vid-1", OccurredAt: time.Now()}
	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []Subscription{first, second} {
		select {
		case got := <-sub.Events():
			if got.VideoID != "vid-1" || got.Type != TypeVideoReady {
				t.Fatalf("event = %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestMemoryQueueRequiresType(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), Event{VideoID: "vid-1"}); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestMemoryQueueDropsWhenFull(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	defer sub.Close()

	ctx := context.Background()
	if err := queue.Publish(ctx, Event{Type: TypeVideoCreated, VideoID: "a"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	// Buffer is full; the second event is dropped rather than blocking.
	if err := queue.Publish(ctx, Event{Type: TypeVideoCreated, VideoID: "b"}); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	got := <-sub.Events()
	if got.VideoID != "a" {
		t.Fatalf("event = %+v", got)
	}
	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestMemoryQueueCloseUnsubscribes(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if err := queue.Publish(context.Background(), Event{Type: TypeVideoDeleted, VideoID: "vid"}); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}
