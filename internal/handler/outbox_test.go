package handler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxOpenRefusesSecondOutbox(t *testing.T) {
	o := newOutboxes()
	first := o.open("call-1")
	require.NotNil(t, first)
	assert.Nil(t, o.open("call-1"))

	o.close("call-1")
	o.wait()
}

func TestOutboxDiscardLeavesReplacementAlone(t *testing.T) {
	o := newOutboxes()
	stale := o.open("call-1")
	require.NotNil(t, stale)
	o.close("call-1")

	live := o.open("call-1")
	require.NotNil(t, live)
	o.discard("call-1", stale)

	var mu sync.Mutex
	ran := 0
	ok := o.enqueue("call-1", context.Background(), func(context.Context) {
		mu.Lock()
		ran++
		mu.Unlock()
	})
	assert.True(t, ok, "live outbox must still accept work")

	o.close("call-1")
	o.wait()
	assert.Equal(t, 1, ran)
}

func TestOutboxDiscardClosesOwnOutbox(t *testing.T) {
	o := newOutboxes()
	ob := o.open("call-1")
	require.NotNil(t, ob)
	o.discard("call-1", ob)

	assert.False(t, o.enqueue("call-1", context.Background(), func(context.Context) {}))
	o.wait()
}
