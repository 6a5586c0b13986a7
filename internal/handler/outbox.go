package handler

import (
	"context"
	"sync"
)

const outboxSize = 64

type outboxTask struct {
	ctx context.Context
	run func(context.Context)
}

// outbox runs one call's background work in the order it was queued.
type outbox struct {
	mu     sync.Mutex
	closed bool
	tasks  chan outboxTask
}

type outboxes struct {
	mu    sync.Mutex
	byID  map[string]*outbox
	group sync.WaitGroup
}

func newOutboxes() *outboxes {
	return &outboxes{byID: make(map[string]*outbox)}
}

// open starts the outbox for callID. It returns nil if the call already has
// one.
func (o *outboxes) open(callID string) *outbox {
	ob := &outbox{tasks: make(chan outboxTask, outboxSize)}

	o.mu.Lock()
	if _, exists := o.byID[callID]; exists {
		o.mu.Unlock()
		return nil
	}
	o.byID[callID] = ob
	o.mu.Unlock()

	o.group.Add(1)
	go func() {
		defer o.group.Done()
		for task := range ob.tasks {
			task.run(task.ctx)
		}
	}()
	return ob
}

func (o *outboxes) enqueue(callID string, ctx context.Context, run func(context.Context)) bool {
	o.mu.Lock()
	ob := o.byID[callID]
	o.mu.Unlock()
	if ob == nil {
		return false
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		return false
	}
	ob.tasks <- outboxTask{ctx: ctx, run: run}
	return true
}

// close stops accepting work for the call; queued tasks still run.
func (o *outboxes) close(callID string) {
	o.mu.Lock()
	ob := o.byID[callID]
	delete(o.byID, callID)
	o.mu.Unlock()
	if ob != nil {
		ob.shutdown()
	}
}

// discard closes ob if it is still the outbox registered for callID.
func (o *outboxes) discard(callID string, ob *outbox) {
	o.mu.Lock()
	if o.byID[callID] == ob {
		delete(o.byID, callID)
	}
	o.mu.Unlock()
	ob.shutdown()
}

func (ob *outbox) shutdown() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if !ob.closed {
		ob.closed = true
		close(ob.tasks)
	}
}

func (o *outboxes) wait() {
	o.group.Wait()
}
