package callstore

import (
	"maps"
	"time"
)

// Status represents the lifecycle state of a call.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRinging      Status = "ringing"
	StatusConnected    Status = "connected"
	StatusOnHold       Status = "on_hold"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRinging, StatusConnected, StatusOnHold,
		StatusTransferring, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Message is a single transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Note is a timestamped free-text annotation on a call.
type Note struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CallContext is the mutable state of one active call.
type CallContext struct {
	CallID        string
	RoomName      string
	ParticipantID string
	PhoneNumber   string
	Status        Status
	StartedAt     time.Time
	EndedAt       *time.Time
	CustomerData  map[string]any
	CampaignID    string
	AgentID       string
	Transcript    []Message
	Outcome       string
	Disposition   string
	Notes         []Note
}

// Duration returns the elapsed call time, measured to EndedAt once set and to
// now otherwise. Never negative.
func (c *CallContext) Duration(now time.Time) time.Duration {
	end := now
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	d := end.Sub(c.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// AddMessage appends a transcript entry. Timestamps never go backwards.
func (c *CallContext) AddMessage(role, content string, now time.Time) {
	if n := len(c.Transcript); n > 0 && now.Before(c.Transcript[n-1].Timestamp) {
		now = c.Transcript[n-1].Timestamp
	}
	c.Transcript = append(c.Transcript, Message{Role: role, Content: content, Timestamp: now})
}

// AddNote appends a note. Timestamps never go backwards.
func (c *CallContext) AddNote(content string, now time.Time) {
	if n := len(c.Notes); n > 0 && now.Before(c.Notes[n-1].Timestamp) {
		now = c.Notes[n-1].Timestamp
	}
	c.Notes = append(c.Notes, Note{Content: content, Timestamp: now})
}

// MarkEnded sets EndedAt unless it is already set. Once set it never changes.
func (c *CallContext) MarkEnded(now time.Time) {
	if c.EndedAt != nil {
		return
	}
	if now.Before(c.StartedAt) {
		now = c.StartedAt
	}
	c.EndedAt = &now
}

// Clone returns a deep copy that shares no mutable state with c.
func (c *CallContext) Clone() *CallContext {
	out := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.CustomerData != nil {
		out.CustomerData = maps.Clone(c.CustomerData)
	}
	out.Transcript = append([]Message(nil), c.Transcript...)
	out.Notes = append([]Note(nil), c.Notes...)
	return &out
}

// Snapshot is the backend wire representation of a call.
type Snapshot struct {
	CallID          string         `json:"call_id"`
	RoomName        string         `json:"room_name"`
	ParticipantID   string         `json:"participant_id"`
	PhoneNumber     *string        `json:"phone_number"`
	Status          Status         `json:"status"`
	StartedAt       string         `json:"started_at"`
	EndedAt         *string        `json:"ended_at"`
	CustomerData    map[string]any `json:"customer_data"`
	CampaignID      *string        `json:"campaign_id"`
	AgentID         *string        `json:"agent_id"`
	Transcript      []Message      `json:"transcript"`
	Outcome         *string        `json:"outcome"`
	Disposition     *string        `json:"disposition"`
	Notes           []Note         `json:"notes"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// Snapshot renders the call for the backend, with duration measured at now.
func (c *CallContext) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		CallID:          c.CallID,
		RoomName:        c.RoomName,
		ParticipantID:   c.ParticipantID,
		PhoneNumber:     optional(c.PhoneNumber),
		Status:          c.Status,
		StartedAt:       c.StartedAt.UTC().Format(time.RFC3339Nano),
		CustomerData:    c.CustomerData,
		CampaignID:      optional(c.CampaignID),
		AgentID:         optional(c.AgentID),
		Transcript:      c.Transcript,
		Outcome:         optional(c.Outcome),
		Disposition:     optional(c.Disposition),
		Notes:           c.Notes,
		DurationSeconds: c.Duration(now).Seconds(),
	}
	if c.EndedAt != nil {
		ended := c.EndedAt.UTC().Format(time.RFC3339Nano)
		s.EndedAt = &ended
	}
	if s.CustomerData == nil {
		s.CustomerData = map[string]any{}
	}
	if s.Transcript == nil {
		s.Transcript = []Message{}
	}
	if s.Notes == nil {
		s.Notes = []Note{}
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
