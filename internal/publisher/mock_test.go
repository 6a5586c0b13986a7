package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMockRecordsLifecycleInOrder(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	for _, status := range []string{"connected", "transferring", "completed"} {
		topic := "voice/call/c1/" + status
		if err := m.Publish(ctx, topic, []byte(`{"event":"`+status+`"}`)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	topics := m.Topics()
	want := []string{"voice/call/c1/connected", "voice/call/c1/transferring", "voice/call/c1/completed"}
	if len(topics) != len(want) {
		t.Fatalf("expected %d topics, got %d", len(want), len(topics))
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topic %d: expected %q, got %q", i, want[i], topics[i])
		}
	}
	if got := string(m.Messages()[2].Payload); got != `{"event":"completed"}` {
		t.Errorf("unexpected payload %s", got)
	}
}

func TestMockForCall(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()
	m.Publish(ctx, "voice/call/c1/connected", nil)
	m.Publish(ctx, "voice/call/c10/connected", nil)
	m.Publish(ctx, "voice/call/c1/completed", nil)

	msgs := m.ForCall("c1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages for c1, got %d", len(msgs))
	}
	if msgs[1].Topic != "voice/call/c1/completed" {
		t.Errorf("unexpected topic %q", msgs[1].Topic)
	}
	if len(m.ForCall("missing")) != 0 {
		t.Error("expected no messages for unknown call")
	}
}

func TestMockPayloadIsCopied(t *testing.T) {
	m := NewMockPublisher()

	payload := []byte(`{"event":"connected"}`)
	if err := m.Publish(context.Background(), "voice/call/c1/connected", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload[2] = 'X'

	if got := string(m.Messages()[0].Payload); got != `{"event":"connected"}` {
		t.Errorf("payload was not copied, got %q", got)
	}
}

func TestMockConcurrentPublish(t *testing.T) {
	m := NewMockPublisher()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Publish(context.Background(), fmt.Sprintf("voice/call/c%d/connected", i), nil)
		}(i)
	}
	wg.Wait()

	if n := len(m.Messages()); n != 20 {
		t.Errorf("expected 20 messages, got %d", n)
	}
}

func TestMockErrorAndClose(t *testing.T) {
	m := NewMockPublisher()
	down := errors.New("broker down")
	m.SetError(down)

	if err := m.Publish(context.Background(), "voice/call/c1/connected", nil); !errors.Is(err, down) {
		t.Fatalf("expected %v, got %v", down, err)
	}
	if len(m.Messages()) != 0 {
		t.Errorf("expected failed publish not recorded, got %d", len(m.Messages()))
	}

	m.SetError(nil)
	if err := m.Publish(context.Background(), "voice/call/c1/connected", nil); err != nil {
		t.Fatalf("unexpected error after clearing: %v", err)
	}

	if m.Closed() {
		t.Fatal("expected not closed initially")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Closed() {
		t.Fatal("expected closed after Close()")
	}
}
