// Package session binds one live media session to the call handler. Events
// are processed strictly in arrival order; the call is finalized exactly once
// when the session ends.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/agent"
	"github.com/sweeney/voice-agent/internal/callstore"
	"github.com/sweeney/voice-agent/internal/events"
	"github.com/sweeney/voice-agent/internal/handler"
	"github.com/sweeney/voice-agent/internal/metrics"
	"github.com/sweeney/voice-agent/internal/notifier"
	"github.com/sweeney/voice-agent/internal/summary"
)

const (
	defaultParticipantPrefix = "agent"
	defaultTransferType      = "blind"
	summaryTimeout           = 30 * time.Second
)

// Media is the set of commands the coordinator sends to the media bridge.
type Media interface {
	Say(ctx context.Context, text string) error
	ToolResult(ctx context.Context, id, output string) error
	TransferParticipant(ctx context.Context, req events.TransferRequest) error
}

// Backend is the part of the backend notifier the coordinator uses directly.
type Backend interface {
	SendCallStatus(ctx context.Context, update notifier.StatusUpdate) bool
	SaveTranscript(ctx context.Context, callID string, transcript []callstore.Message, summary string) bool
	LogEvent(ctx context.Context, callID, eventType string, data map[string]any) bool
	SendSMS(ctx context.Context, phoneNumber, message, callID string) bool
	BookAppointment(ctx context.Context, appt notifier.Appointment) notifier.AppointmentResult
	GetAgent(ctx context.Context, agentID string) (*notifier.AgentProfile, bool)
	GetCampaignContact(ctx context.Context, campaignID, contactID string) (*notifier.Contact, bool)
}

// Options configures a Coordinator.
type Options struct {
	Handler    *handler.Handler
	Backend    Backend
	Summarizer summary.Generator
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics

	// ParticipantPrefix marks agent identities, which are never transfer targets.
	ParticipantPrefix string
	TransferType      string

	// NewID generates call ids when the metadata carries none.
	NewID func() string
}

// Coordinator runs sessions. It is safe for concurrent use; each Run call
// owns its own session state.
type Coordinator struct {
	handler    *handler.Handler
	backend    Backend
	summarizer summary.Generator
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	prefix     string
	xferType   string
	newID      func() string
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		handler:    opts.Handler,
		backend:    opts.Backend,
		summarizer: opts.Summarizer,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		prefix:     opts.ParticipantPrefix,
		xferType:   opts.TransferType,
		newID:      opts.NewID,
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.summarizer == nil {
		c.summarizer = summary.Unavailable{}
	}
	if c.prefix == "" {
		c.prefix = defaultParticipantPrefix
	}
	if c.xferType == "" {
		c.xferType = defaultTransferType
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Result describes a finished session.
type Result struct {
	CallID      string
	RoomName    string
	Analysis    summary.Analysis
	Outcome     string
	Disposition string
	Transferred bool
}

// state is the per-session state owned by one Run call.
type state struct {
	cfg         agent.Config
	meta        agent.Metadata
	callID      string
	room        string
	participant string
	started     bool
	transferred bool
	disposition string
	endReason   string
	log         *logrus.Entry
}

// Run processes evts until a session_end event, the channel closes or ctx is
// done, then finalizes the call. It returns the zero Result when the session
// never started.
func (c *Coordinator) Run(ctx context.Context, media Media, evts <-chan events.Event) Result {
	s := &state{log: logrus.NewEntry(c.logger)}

loop:
	for {
		select {
		case <-ctx.Done():
			s.endReason = "cancelled"
			break loop
		case evt, ok := <-evts:
			if !ok {
				s.endReason = "disconnected"
				if ctx.Err() != nil {
					s.endReason = "cancelled"
				}
				break loop
			}
			c.metrics.SessionEvent(string(evt.Type))
			if c.process(ctx, s, media, evt) {
				break loop
			}
		}
	}

	if !s.started {
		return Result{}
	}
	return c.finalize(context.WithoutCancel(ctx), s)
}

// process handles one event and reports whether the session has ended.
func (c *Coordinator) process(ctx context.Context, s *state, media Media, evt events.Event) bool {
	if !s.started {
		if evt.Type == events.SessionEnd {
			s.log.Warn("Session ended before it started")
			return true
		}
		start := evt
		if evt.Type != events.SessionStart {
			s.log.WithField("type", evt.Type).Warn("Event before session start, starting with defaults")
			start = events.Event{Type: events.SessionStart}
		}
		c.start(ctx, s, media, start)
		if !s.started || evt.Type == events.SessionStart {
			return false
		}
	}

	switch evt.Type {
	case events.SessionStart:
		s.log.Warn("Ignoring repeated session start")
	case events.ParticipantConnected:
		c.participantConnected(ctx, s, evt.Participant)
	case events.ParticipantDisconnected:
		if evt.Participant != "" && evt.Participant == s.participant {
			s.log.WithField("participant", evt.Participant).Info("Caller left the session")
			c.backend.LogEvent(ctx, s.callID, "participant_disconnected", map[string]any{"identity": evt.Participant})
		}
	case events.Utterance:
		c.utterance(s, evt)
	case events.ToolCall:
		output := c.runTool(ctx, s, media, evt)
		if err := media.ToolResult(ctx, evt.ID, output); err != nil {
			s.log.WithError(err).WithField("tool", evt.Name).Warn("Failed to send tool result")
		}
	case events.SessionEnd:
		s.endReason = evt.Reason
		if s.endReason == "" {
			s.endReason = "ended"
		}
		return true
	default:
		s.log.WithField("type", evt.Type).Debug("Ignoring session event")
	}
	return false
}

func (c *Coordinator) start(ctx context.Context, s *state, media Media, evt events.Event) {
	meta, unknown, err := agent.ParseMetadata(evt.Metadata)
	if err != nil {
		s.log.WithError(err).Warn("Failed to parse session metadata, using defaults")
		meta = agent.Metadata{}
	}
	if len(unknown) > 0 {
		s.log.WithField("keys", unknown).Warn("Ignoring unknown metadata keys")
	}
	if meta.AgentID != "" {
		c.applyProfile(ctx, s, &meta)
	}
	cfg, warnings := agent.FromMetadata(meta)
	for _, w := range warnings {
		s.log.Warn(w)
	}

	s.cfg = cfg
	s.meta = meta
	s.callID = meta.CallID
	if s.callID == "" {
		s.callID = c.newID()
	}
	s.room = evt.RoomName
	if s.room == "" {
		s.room = s.callID
	}
	for _, p := range evt.Participants {
		if c.isCaller(p) {
			s.participant = p
			break
		}
	}

	params := callstore.StartParams{
		CallID:        s.callID,
		RoomName:      s.room,
		ParticipantID: s.participant,
		PhoneNumber:   meta.PhoneNumber,
		CustomerData:  meta.CustomerData,
		CampaignID:    meta.CampaignID,
		AgentID:       meta.AgentID,
	}
	if _, err := c.handler.StartCall(ctx, params); err != nil {
		var dup *callstore.DuplicateCallError
		if !errors.As(err, &dup) {
			s.log.WithError(err).Error("Failed to start call")
			return
		}
		params.CallID = c.newID()
		s.log.WithFields(logrus.Fields{"call_id": s.callID, "new_call_id": params.CallID}).Warn("Call id already active, using a new one")
		if _, err := c.handler.StartCall(ctx, params); err != nil {
			s.log.WithError(err).Error("Failed to start call")
			return
		}
		s.callID = params.CallID
	}
	s.started = true
	s.log = s.log.WithFields(logrus.Fields{"call_id": s.callID, "room": s.room})
	s.log.WithFields(logrus.Fields{
		"agent":       cfg.Name,
		"participant": s.participant,
	}).Info("Session started")

	c.backend.SendCallStatus(ctx, notifier.StatusUpdate{RoomName: s.room, Status: "in-progress"})

	if err := media.Say(ctx, cfg.Opening()); err != nil {
		s.log.WithError(err).Warn("Failed to speak opening message")
	}
}

// applyProfile fills agent fields the metadata left empty from the stored
// agent profile.
func (c *Coordinator) applyProfile(ctx context.Context, s *state, meta *agent.Metadata) {
	profile, ok := c.backend.GetAgent(ctx, meta.AgentID)
	if !ok {
		s.log.WithField("agent_id", meta.AgentID).Warn("Agent profile unavailable, using session metadata")
		return
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&meta.AgentName, profile.Name)
	fill(&meta.VoiceID, profile.VoiceID)
	fill(&meta.SystemPrompt, profile.SystemPrompt)
	fill(&meta.OpeningMessage, profile.OpeningMessage)
}

func (c *Coordinator) isCaller(identity string) bool {
	return identity != "" && !strings.HasPrefix(identity, c.prefix)
}

func (c *Coordinator) participantConnected(ctx context.Context, s *state, identity string) {
	if !c.isCaller(identity) {
		return
	}
	s.participant = identity
	c.handler.SetParticipant(s.callID, identity)
	s.log.WithField("participant", identity).Info("Updated participant context")
	c.backend.LogEvent(ctx, s.callID, "participant_connected", map[string]any{"identity": identity})
}

func (c *Coordinator) utterance(s *state, evt events.Event) {
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return
	}
	role := strings.ToLower(evt.Role)
	switch role {
	case "user", "customer", "caller":
		role = "user"
	default:
		role = "assistant"
	}
	c.handler.AddMessage(s.callID, role, text)
	s.log.WithField("role", role).Debug(text)
}

func (c *Coordinator) finalize(ctx context.Context, s *state) Result {
	s.log.WithField("reason", s.endReason).Info("Session ending")

	var transcript []callstore.Message
	if call, ok := c.handler.Call(s.callID); ok {
		transcript = call.Transcript
	}
	text := summary.RenderTranscript(transcript)

	sctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	analysis := summary.Analyze(sctx, c.summarizer, text, c.logger)
	cancel()
	c.metrics.Summary(summaryResult(text, analysis))

	outcome := analysis.Outcome
	if s.transferred && (outcome == "" || outcome == "unknown") {
		outcome = "transferred"
	}
	disposition := s.disposition
	if disposition == "" {
		disposition = s.endReason
	}

	c.handler.EndCall(ctx, s.callID, outcome, disposition)
	c.backend.SaveTranscript(ctx, s.callID, transcript, analysis.Summary)
	c.backend.SendCallStatus(ctx, notifier.StatusUpdate{
		RoomName:   s.room,
		Status:     "completed",
		Transcript: text,
		Summary:    analysis.Summary,
		Sentiment:  analysis.Sentiment,
		Outcome:    outcome,
	})

	s.log.WithFields(logrus.Fields{
		"outcome":           outcome,
		"transcript_length": len(text),
	}).Info("Call completed")

	return Result{
		CallID:      s.callID,
		RoomName:    s.room,
		Analysis:    analysis,
		Outcome:     outcome,
		Disposition: disposition,
		Transferred: s.transferred,
	}
}

func summaryResult(text string, a summary.Analysis) string {
	switch {
	case summary.IsTooShort(text):
		return "too_short"
	case a == summary.Failed:
		return "failed"
	default:
		return "ok"
	}
}
