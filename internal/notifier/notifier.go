package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/callstore"
	"github.com/sweeney/voice-agent/internal/metrics"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultWebhookTimeout = 10 * time.Second
	maxErrorBody          = 512
)

var errClosed = errors.New("notifier closed")

// Options configures a Notifier.
type Options struct {
	BaseURL        string
	APIToken       string
	Timeout        time.Duration
	WebhookTimeout time.Duration
	Logger         *logrus.Logger
	Metrics        *metrics.Metrics
	Clock          func() time.Time

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Notifier reports call lifecycle data to the backend. No method returns a
// transport error: failures are logged and turned into false or a failed
// result so a backend outage never disturbs an active call.
type Notifier struct {
	baseURL        string
	token          string
	timeout        time.Duration
	webhookTimeout time.Duration
	logger         *logrus.Logger
	metrics        *metrics.Metrics
	clock          func() time.Time
	transport      http.RoundTripper

	initOnce  sync.Once
	client    *http.Client
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New creates a Notifier. The HTTP client is created on first use.
func New(opts Options) *Notifier {
	n := &Notifier{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		token:          opts.APIToken,
		timeout:        opts.Timeout,
		webhookTimeout: opts.WebhookTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		transport:      opts.Transport,
	}
	if n.timeout <= 0 {
		n.timeout = defaultTimeout
	}
	if n.webhookTimeout <= 0 {
		n.webhookTimeout = defaultWebhookTimeout
	}
	if n.logger == nil {
		n.logger = logrus.StandardLogger()
	}
	if n.clock == nil {
		n.clock = time.Now
	}
	return n
}

// Close releases the pooled connections. Safe to call more than once.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		client := n.client
		n.mu.Unlock()

		if client != nil {
			client.CloseIdleConnections()
		}
	})
	return nil
}

func (n *Notifier) httpClient() (*http.Client, error) {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return nil, errClosed
	}

	n.initOnce.Do(func() {
		transport := n.transport
		if transport == nil {
			transport = http.DefaultTransport.(*http.Transport).Clone()
		}
		client := &http.Client{Transport: transport}
		n.mu.Lock()
		n.client = client
		n.mu.Unlock()
	})

	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.client, nil
}

// NotifyStarted posts the call snapshot to /api/calls/started.
func (n *Notifier) NotifyStarted(ctx context.Context, call *callstore.CallContext) bool {
	_, err := n.do(ctx, "calls_started", http.MethodPost, "/api/calls/started", call.Snapshot(n.clock()), n.timeout)
	if err != nil {
		n.logger.WithError(err).WithField("call_id", call.CallID).Warn("Failed to notify call started")
		return false
	}
	return true
}

// NotifyEnded posts the call snapshot to /api/calls/ended.
func (n *Notifier) NotifyEnded(ctx context.Context, call *callstore.CallContext) bool {
	_, err := n.do(ctx, "calls_ended", http.MethodPost, "/api/calls/ended", call.Snapshot(n.clock()), n.timeout)
	if err != nil {
		n.logger.WithError(err).WithField("call_id", call.CallID).Warn("Failed to notify call ended")
		return false
	}
	return true
}

// UpdateStatus patches the call's status. Metadata keys are merged into the
// body but cannot replace status.
func (n *Notifier) UpdateStatus(ctx context.Context, callID string, status callstore.Status, metadata map[string]any) bool {
	body := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		body[k] = v
	}
	body["status"] = status

	_, err := n.do(ctx, "calls_update", http.MethodPatch, "/api/calls/"+url.PathEscape(callID), body, n.timeout)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": callID,
			"status":  status,
		}).Error("Failed to update call status")
		return false
	}
	return true
}

type transcriptBody struct {
	Transcript []callstore.Message `json:"transcript"`
	Summary    *string             `json:"summary"`
}

// SaveTranscript stores the transcript and optional summary for a call.
func (n *Notifier) SaveTranscript(ctx context.Context, callID string, transcript []callstore.Message, summary string) bool {
	body := transcriptBody{Transcript: transcript}
	if body.Transcript == nil {
		body.Transcript = []callstore.Message{}
	}
	if summary != "" {
		body.Summary = &summary
	}

	_, err := n.do(ctx, "calls_transcript", http.MethodPost, "/api/calls/"+url.PathEscape(callID)+"/transcript", body, n.timeout)
	if err != nil {
		n.logger.WithError(err).WithField("call_id", callID).Error("Failed to save transcript")
		return false
	}
	return true
}

// LogEvent records an analytics event for a call.
func (n *Notifier) LogEvent(ctx context.Context, callID, eventType string, data map[string]any) bool {
	if data == nil {
		data = map[string]any{}
	}
	body := map[string]any{"type": eventType, "data": data}

	_, err := n.do(ctx, "calls_events", http.MethodPost, "/api/calls/"+url.PathEscape(callID)+"/events", body, n.timeout)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": callID,
			"event":   eventType,
		}).Error("Failed to log call event")
		return false
	}
	return true
}

// StatusUpdate is the payload of the webhook status push. Only non-empty
// fields are sent.
type StatusUpdate struct {
	RoomName     string `json:"roomName"`
	Status       string `json:"status,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Sentiment    string `json:"sentiment,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
}

// SendCallStatus pushes a status update keyed by room name.
func (n *Notifier) SendCallStatus(ctx context.Context, update StatusUpdate) bool {
	_, err := n.do(ctx, "calls_webhook_status", http.MethodPost, "/api/calls/webhook/status", update, n.webhookTimeout)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"room":   update.RoomName,
			"status": update.Status,
		}).Error("Error sending call status")
		return false
	}

	what := update.Status
	if what == "" {
		what = "data"
	}
	n.logger.WithField("room", update.RoomName).Infof("Call status updated: %s", what)
	return true
}

// do sends one JSON request and returns the response body. Any transport
// failure, timeout or non-2xx status is an error.
func (n *Notifier) do(ctx context.Context, endpoint, method, path string, body any, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	data, err := n.roundTrip(ctx, method, path, body, timeout)
	n.metrics.BackendRequest(endpoint, err == nil, time.Since(start))
	return data, err
}

func (n *Notifier) roundTrip(ctx context.Context, method, path string, body any, timeout time.Duration) ([]byte, error) {
	client, err := n.httpClient()
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, n.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), maxErrorBody)}
	}
	return data, nil
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
