package callstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 12, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStartCreatesConnectedCall(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	call, err := s.Start(StartParams{
		CallID:        "call-1",
		RoomName:      "room-1",
		ParticipantID: "sip_caller",
		PhoneNumber:   "+15551234567",
		CustomerData:  map[string]any{"first_name": "Ada"},
		CampaignID:    "camp-9",
		AgentID:       "agent-3",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusConnected, call.Status)
	assert.Equal(t, clock.Now(), call.StartedAt)
	assert.Nil(t, call.EndedAt)
	assert.Equal(t, "Ada", call.CustomerData["first_name"])
	assert.Equal(t, 1, s.Len())
}

func TestStartDuplicate(t *testing.T) {
	s := NewStore()
	_, err := s.Start(StartParams{CallID: "call-1"})
	require.NoError(t, err)

	_, err = s.Start(StartParams{CallID: "call-1"})
	var dup *DuplicateCallError
	require.True(t, errors.As(err, &dup), "expected DuplicateCallError, got %v", err)
	assert.Equal(t, "call-1", dup.CallID)
}

func TestStartRequiresID(t *testing.T) {
	_, err := NewStore().Start(StartParams{})
	require.Error(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	_, err := s.Start(StartParams{CallID: "call-1", CustomerData: map[string]any{"k": "v"}})
	require.NoError(t, err)

	got, ok := s.Get("call-1")
	require.True(t, ok)
	got.Status = StatusFailed
	got.CustomerData["k"] = "changed"
	got.Transcript = append(got.Transcript, Message{Role: "user", Content: "x"})

	again, ok := s.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, again.Status)
	assert.Equal(t, "v", again.CustomerData["k"])
	assert.Empty(t, again.Transcript)
}

func TestGetUnknown(t *testing.T) {
	got, ok := NewStore().Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestUpdateUnknown(t *testing.T) {
	_, err := NewStore().Update("missing", func(*CallContext) {})
	assert.ErrorIs(t, err, ErrUnknownCall)
}

func TestRemove(t *testing.T) {
	s := NewStore()
	_, err := s.Start(StartParams{CallID: "call-1"})
	require.NoError(t, err)

	s.Remove("call-1")
	s.Remove("call-1") // no-op
	s.Remove("never-existed")

	_, ok := s.Get("call-1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	_, err = s.Update("call-1", func(*CallContext) {})
	assert.ErrorIs(t, err, ErrUnknownCall)
}

func TestListActive(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		_, err := s.Start(StartParams{CallID: fmt.Sprintf("call-%d", i)})
		require.NoError(t, err)
	}
	s.Remove("call-1")

	ids := map[string]bool{}
	for _, c := range s.ListActive() {
		ids[c.CallID] = true
	}
	assert.Equal(t, map[string]bool{"call-0": true, "call-2": true}, ids)
}

func TestAcquireSerializesOperations(t *testing.T) {
	s := NewStore()
	_, err := s.Start(StartParams{CallID: "call-1"})
	require.NoError(t, err)

	release, err := s.Acquire("call-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := s.Acquire("call-1")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release() // idempotent

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not proceed after release")
	}
}

func TestAcquireFailsAfterRemoval(t *testing.T) {
	s := NewStore()
	_, err := s.Start(StartParams{CallID: "call-1"})
	require.NoError(t, err)

	release, err := s.Acquire("call-1")
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		r, err := s.Acquire("call-1")
		if err == nil {
			r()
		}
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Remove("call-1")
	release()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrUnknownCall)
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire never returned")
	}

	_, err = s.Acquire("call-1")
	assert.ErrorIs(t, err, ErrUnknownCall)
}

func TestConcurrentCallsDoNotInterfere(t *testing.T) {
	s := NewStore()
	const calls, messages = 8, 50
	for i := 0; i < calls; i++ {
		_, err := s.Start(StartParams{CallID: fmt.Sprintf("call-%d", i)})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		id := fmt.Sprintf("call-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < messages; j++ {
				_, err := s.Update(id, func(c *CallContext) {
					c.AddMessage("user", fmt.Sprintf("%s-%d", id, j), s.Now())
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, c := range s.ListActive() {
		require.Len(t, c.Transcript, messages)
		for j, m := range c.Transcript {
			assert.Equal(t, fmt.Sprintf("%s-%d", c.CallID, j), m.Content)
		}
	}
}

func TestTranscriptAppendOnlyAndMonotonic(t *testing.T) {
	clock := newFakeClock()
	c := &CallContext{StartedAt: clock.Now()}

	c.AddMessage("user", "one", clock.Now())
	clock.Advance(time.Second)
	c.AddMessage("assistant", "two", clock.Now())
	// a clock step backwards must not reorder timestamps
	c.AddMessage("user", "three", clock.Now().Add(-5*time.Second))

	require.Len(t, c.Transcript, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{
		c.Transcript[0].Content, c.Transcript[1].Content, c.Transcript[2].Content,
	})
	for i := 1; i < len(c.Transcript); i++ {
		assert.False(t, c.Transcript[i].Timestamp.Before(c.Transcript[i-1].Timestamp))
	}
}

func TestDuration(t *testing.T) {
	clock := newFakeClock()
	c := &CallContext{StartedAt: clock.Now()}

	clock.Advance(10 * time.Second)
	first := c.Duration(clock.Now())
	clock.Advance(5 * time.Second)
	second := c.Duration(clock.Now())
	assert.Equal(t, 10*time.Second, first)
	assert.Greater(t, second, first)

	c.MarkEnded(clock.Now())
	ended := c.Duration(clock.Now())
	clock.Advance(time.Minute)
	assert.Equal(t, ended, c.Duration(clock.Now()))

	// EndedAt is written once
	c.MarkEnded(clock.Now())
	assert.Equal(t, 15*time.Second, c.Duration(clock.Now()))

	// never negative
	assert.Equal(t, time.Duration(0), (&CallContext{StartedAt: clock.Now()}).Duration(clock.Now().Add(-time.Hour)))
}

func TestSnapshotShape(t *testing.T) {
	clock := newFakeClock()
	c := &CallContext{
		CallID:    "call-1",
		RoomName:  "room-1",
		Status:    StatusConnected,
		StartedAt: clock.Now(),
	}
	clock.Advance(90 * time.Second)

	data, err := json.Marshal(c.Snapshot(clock.Now()))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"call_id", "room_name", "participant_id", "phone_number", "status", "started_at",
		"ended_at", "customer_data", "campaign_id", "agent_id", "transcript", "outcome",
		"disposition", "notes", "duration_seconds",
	} {
		assert.Contains(t, m, key)
	}
	assert.Nil(t, m["ended_at"])
	assert.Nil(t, m["phone_number"])
	assert.Equal(t, "connected", m["status"])
	assert.Equal(t, "2026-02-12T09:30:00Z", m["started_at"])
	assert.Equal(t, 90.0, m["duration_seconds"])
	assert.Equal(t, []any{}, m["transcript"])
}
