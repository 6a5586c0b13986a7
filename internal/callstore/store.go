package callstore

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrUnknownCall is returned when an operation references a call id that is
// not in the store.
var ErrUnknownCall = errors.New("unknown call")

// DuplicateCallError is returned by Start when the call id is already active.
type DuplicateCallError struct {
	CallID string
}

func (e *DuplicateCallError) Error() string {
	return fmt.Sprintf("call %s already active", e.CallID)
}

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// StartParams identifies a new call.
type StartParams struct {
	CallID        string
	RoomName      string
	ParticipantID string
	PhoneNumber   string
	CustomerData  map[string]any
	CampaignID    string
	AgentID       string
}

// entry guards one call. seq serializes whole operations on the call,
// mu guards the context fields.
type entry struct {
	seq     sync.Mutex
	mu      sync.Mutex
	call    *CallContext
	removed bool
}

// Store is the table of active calls keyed by call id.
type Store struct {
	mu    sync.RWMutex
	calls map[string]*entry
	clock Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for the store.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		calls: make(map[string]*entry),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.clock()
}

// Start registers a new call in the connected state.
func (s *Store) Start(p StartParams) (*CallContext, error) {
	if p.CallID == "" {
		return nil, errors.New("call id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[p.CallID]; exists {
		return nil, &DuplicateCallError{CallID: p.CallID}
	}

	data := map[string]any{}
	if p.CustomerData != nil {
		data = maps.Clone(p.CustomerData)
	}
	call := &CallContext{
		CallID:        p.CallID,
		RoomName:      p.RoomName,
		ParticipantID: p.ParticipantID,
		PhoneNumber:   p.PhoneNumber,
		Status:        StatusConnected,
		StartedAt:     s.clock(),
		CustomerData:  data,
		CampaignID:    p.CampaignID,
		AgentID:       p.AgentID,
	}
	s.calls[p.CallID] = &entry{call: call}
	return call.Clone(), nil
}

// Get returns a copy of the call, or false if it is not active.
func (s *Store) Get(callID string) (*CallContext, bool) {
	e := s.lookup(callID)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	return e.call.Clone(), true
}

// Update applies fn to the call under its lock and returns a copy of the
// result.
func (s *Store) Update(callID string, fn func(*CallContext)) (*CallContext, error) {
	e := s.lookup(callID)
	if e == nil {
		return nil, ErrUnknownCall
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrUnknownCall
	}
	fn(e.call)
	return e.call.Clone(), nil
}

// Acquire takes the call's operation lock. The returned release func must be
// called exactly once. Fails if the call is absent or was removed while waiting.
func (s *Store) Acquire(callID string) (func(), error) {
	e := s.lookup(callID)
	if e == nil {
		return nil, ErrUnknownCall
	}
	e.seq.Lock()

	e.mu.Lock()
	removed := e.removed
	e.mu.Unlock()
	if removed {
		e.seq.Unlock()
		return nil, ErrUnknownCall
	}

	var once sync.Once
	return func() { once.Do(e.seq.Unlock) }, nil
}

// Remove deletes the call. No-op if absent.
func (s *Store) Remove(callID string) {
	s.mu.Lock()
	e := s.calls[callID]
	delete(s.calls, callID)
	s.mu.Unlock()

	if e == nil {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

// ListActive returns copies of all active calls in no particular order.
func (s *Store) ListActive() []*CallContext {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.calls))
	for _, e := range s.calls {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*CallContext, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.call.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of active calls.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

func (s *Store) lookup(callID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[callID]
}
