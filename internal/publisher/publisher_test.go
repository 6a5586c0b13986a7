package publisher

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMultiFansOut(t *testing.T) {
	a, b := NewMockPublisher(), NewMockPublisher()
	m := Multi{a, b}

	if err := m.Publish(context.Background(), "voice/call/c1/connected", []byte("{}")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range []*MockPublisher{a, b} {
		if topics := p.Topics(); len(topics) != 1 || topics[0] != "voice/call/c1/connected" {
			t.Errorf("publisher %d: unexpected topics %v", i, topics)
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !a.Closed() || !b.Closed() {
		t.Error("expected both publishers closed")
	}
}

func TestMultiKeepsGoingOnError(t *testing.T) {
	a, b := NewMockPublisher(), NewMockPublisher()
	down := errors.New("broker down")
	a.SetError(down)

	err := Multi{a, b}.Publish(context.Background(), "t", []byte("x"))
	if !errors.Is(err, down) {
		t.Fatalf("expected %v, got %v", down, err)
	}
	if !strings.Contains(err.Error(), "publisher 0") {
		t.Errorf("expected failing publisher index in %q", err)
	}
	if len(b.Messages()) != 1 {
		t.Errorf("expected second publisher to receive the message")
	}
}

func TestEmptyMultiAndNop(t *testing.T) {
	if err := (Multi{}).Publish(context.Background(), "t", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		topic, want string
	}{
		{"voice/call/c1/connected", "voice.call.c1.connected"},
		{"/voice/call/c1/completed/", "voice.call.c1.completed"},
		{"single", "single"},
	}
	for _, tt := range tests {
		if got := RoutingKey(tt.topic); got != tt.want {
			t.Errorf("RoutingKey(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
