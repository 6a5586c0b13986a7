package handler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/callstore"
	"github.com/sweeney/voice-agent/internal/metrics"
	"github.com/sweeney/voice-agent/internal/notifier"
)

// Backend is the subset of the backend notifier the handler drives.
type Backend interface {
	NotifyStarted(ctx context.Context, call *callstore.CallContext) bool
	NotifyEnded(ctx context.Context, call *callstore.CallContext) bool
	Transfer(ctx context.Context, callID, destination, transferType string) notifier.TransferResult
}

// StatusChange is emitted whenever a call changes status.
type StatusChange struct {
	CallID    string
	RoomName  string
	From      callstore.Status
	To        callstore.Status
	Timestamp time.Time
	Duration  time.Duration
	Outcome   string
}

// Observer receives status changes on the call's outbox goroutine.
type Observer func(ctx context.Context, change StatusChange)

// Handler drives the per-call state machine and reports to the backend.
type Handler struct {
	store    *callstore.Store
	backend  Backend
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	observer Observer
	outboxes *outboxes
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *logrus.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithObserver registers a callback for every status change.
func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// New creates a Handler that owns store.
func New(store *callstore.Store, backend Backend, opts ...Option) *Handler {
	h := &Handler{
		store:    store,
		backend:  backend,
		logger:   logrus.StandardLogger(),
		outboxes: newOutboxes(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// expected lists the transitions a call normally takes. Others are allowed
// but logged.
var expected = map[callstore.Status][]callstore.Status{
	callstore.StatusPending:      {callstore.StatusRinging, callstore.StatusConnected, callstore.StatusFailed},
	callstore.StatusRinging:      {callstore.StatusConnected, callstore.StatusFailed},
	callstore.StatusConnected:    {callstore.StatusOnHold, callstore.StatusTransferring, callstore.StatusFailed},
	callstore.StatusOnHold:       {callstore.StatusConnected, callstore.StatusTransferring, callstore.StatusFailed},
	callstore.StatusTransferring: {callstore.StatusConnected, callstore.StatusOnHold, callstore.StatusFailed},
}

func isExpected(from, to callstore.Status) bool {
	if from == to {
		return true
	}
	for _, s := range expected[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StartCall registers a call and notifies the backend in the background.
// A failed notification never aborts the call.
func (h *Handler) StartCall(ctx context.Context, p callstore.StartParams) (*callstore.CallContext, error) {
	// The outbox exists before the call is visible, so an EndCall racing
	// this start always finds it.
	ob := h.outboxes.open(p.CallID)
	if ob == nil {
		return nil, &callstore.DuplicateCallError{CallID: p.CallID}
	}
	call, err := h.store.Start(p)
	if err != nil {
		h.outboxes.discard(p.CallID, ob)
		return nil, err
	}

	h.metrics.CallStarted()
	h.metrics.StatusChanged(string(call.Status))

	snapshot := call.Clone()
	h.dispatch(ctx, call.CallID, func(ctx context.Context) {
		h.backend.NotifyStarted(ctx, snapshot)
	})
	h.emit(ctx, call, callstore.StatusPending)

	h.logger.WithFields(logrus.Fields{
		"call_id": call.CallID,
		"room":    call.RoomName,
	}).Info("Call started")
	return call, nil
}

// UpdateStatus moves a call to status. Unknown calls and calls in a terminal
// status are left alone. Completion goes through EndCall.
func (h *Handler) UpdateStatus(ctx context.Context, callID string, status callstore.Status) bool {
	release, err := h.store.Acquire(callID)
	if err != nil {
		h.logger.WithField("call_id", callID).Warn("Status update for unknown call")
		return false
	}
	defer release()

	return h.setStatus(ctx, callID, status)
}

// setStatus must be called with the call's operation lock held.
func (h *Handler) setStatus(ctx context.Context, callID string, status callstore.Status) bool {
	log := h.logger.WithFields(logrus.Fields{"call_id": callID, "status": status})

	if !status.Valid() {
		log.Warn("Ignoring unknown call status")
		return false
	}
	if status == callstore.StatusCompleted {
		log.Warn("Ignoring completed status outside end of call")
		return false
	}

	var from callstore.Status
	var refused bool
	call, err := h.store.Update(callID, func(c *callstore.CallContext) {
		from = c.Status
		if c.Status.Terminal() {
			refused = true
			return
		}
		c.Status = status
		if status == callstore.StatusFailed {
			c.MarkEnded(h.store.Now())
		}
	})
	if errors.Is(err, callstore.ErrUnknownCall) {
		log.Warn("Status update for unknown call")
		return false
	}
	if refused {
		log.WithField("from", from).Warn("Refusing status change out of terminal status")
		return false
	}
	if !isExpected(from, status) {
		log.WithField("from", from).Warn("Unexpected status transition")
	}
	if from != status {
		h.metrics.StatusChanged(string(status))
		h.emit(ctx, call, from)
	}
	log.WithField("from", from).Info("Call status updated")
	return true
}

// AddMessage appends an utterance to the call transcript.
func (h *Handler) AddMessage(callID, role, content string) bool {
	return h.mutate(callID, "Transcript message for unknown call", func(c *callstore.CallContext) {
		c.AddMessage(role, content, h.store.Now())
	})
}

// AddNote appends a timestamped note to the call.
func (h *Handler) AddNote(callID, note string) bool {
	return h.mutate(callID, "Note for unknown call", func(c *callstore.CallContext) {
		c.AddNote(note, h.store.Now())
	})
}

// SetParticipant records the identity used for transfer targeting.
func (h *Handler) SetParticipant(callID, identity string) bool {
	return h.mutate(callID, "Participant update for unknown call", func(c *callstore.CallContext) {
		c.ParticipantID = identity
	})
}

func (h *Handler) mutate(callID, unknownMsg string, fn func(*callstore.CallContext)) bool {
	release, err := h.store.Acquire(callID)
	if err != nil {
		h.logger.WithField("call_id", callID).Warn(unknownMsg)
		return false
	}
	defer release()

	if _, err := h.store.Update(callID, fn); err != nil {
		h.logger.WithField("call_id", callID).Warn(unknownMsg)
		return false
	}
	return true
}

// TransferCall marks the call as transferring and asks the backend to move
// it. On failure the call goes back to connected.
func (h *Handler) TransferCall(ctx context.Context, callID, destination, transferType string) notifier.TransferResult {
	release, err := h.store.Acquire(callID)
	if err != nil {
		h.logger.WithField("call_id", callID).Warn("Transfer for unknown call")
		h.metrics.Transfer("unknown_call")
		return notifier.Failed(callstore.ErrUnknownCall.Error())
	}
	defer release()

	if !h.setStatus(ctx, callID, callstore.StatusTransferring) {
		h.metrics.Transfer("failure")
		return notifier.Failed("call cannot be transferred")
	}

	result := h.backend.Transfer(ctx, callID, destination, transferType)
	if !result.Success {
		h.setStatus(ctx, callID, callstore.StatusConnected)
		h.metrics.Transfer("failure")
		return result
	}

	h.metrics.Transfer("success")
	h.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"destination": destination,
	}).Info("Call transfer accepted")
	return result
}

// failedNote marks a completed call that had failed before it ended.
const failedNote = "Call previously failed"

// EndCall completes the call, notifies the backend with a snapshot and
// removes the call from the store. Unknown calls are ignored. A failed call
// still completes; it keeps its original EndedAt and gains a note.
func (h *Handler) EndCall(ctx context.Context, callID, outcome, disposition string) bool {
	release, err := h.store.Acquire(callID)
	if err != nil {
		h.logger.WithField("call_id", callID).Warn("Call not found")
		return false
	}
	defer release()

	var from callstore.Status
	call, err := h.store.Update(callID, func(c *callstore.CallContext) {
		from = c.Status
		now := h.store.Now()
		if c.Status == callstore.StatusFailed {
			c.AddNote(failedNote, now)
		}
		c.Status = callstore.StatusCompleted
		c.MarkEnded(now)
		c.Outcome = outcome
		c.Disposition = disposition
	})
	if err != nil {
		h.logger.WithField("call_id", callID).Warn("Call not found")
		return false
	}

	h.dispatch(ctx, callID, func(ctx context.Context) {
		h.backend.NotifyEnded(ctx, call)
	})
	if from != call.Status {
		h.metrics.StatusChanged(string(call.Status))
		h.emit(ctx, call, from)
	}
	h.outboxes.close(callID)
	h.store.Remove(callID)
	h.metrics.CallEnded(string(call.Status))

	h.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"outcome": outcome,
	}).Info("Call ended")
	return true
}

// Call returns a copy of an active call.
func (h *Handler) Call(callID string) (*callstore.CallContext, bool) {
	return h.store.Get(callID)
}

// ActiveCalls returns copies of all active calls.
func (h *Handler) ActiveCalls() []*callstore.CallContext {
	return h.store.ListActive()
}

// Wait blocks until every queued notification has been delivered or failed.
func (h *Handler) Wait() {
	h.outboxes.wait()
}

func (h *Handler) emit(ctx context.Context, call *callstore.CallContext, from callstore.Status) {
	if h.observer == nil {
		return
	}
	now := h.store.Now()
	change := StatusChange{
		CallID:    call.CallID,
		RoomName:  call.RoomName,
		From:      from,
		To:        call.Status,
		Timestamp: now,
		Duration:  call.Duration(now),
		Outcome:   call.Outcome,
	}
	h.dispatch(ctx, call.CallID, func(ctx context.Context) {
		h.observer(ctx, change)
	})
}

func (h *Handler) dispatch(ctx context.Context, callID string, task func(context.Context)) {
	if !h.outboxes.enqueue(callID, context.WithoutCancel(ctx), task) {
		h.logger.WithField("call_id", callID).Warn("Dropping notification for closed call")
	}
}
