package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAckTimeout bounds how long a transfer waits for its command_result.
	DefaultAckTimeout = 15 * time.Second
	writeWait         = 10 * time.Second
	maxBacklog        = 1024
)

// ErrClosed is returned when the connection is gone.
var ErrClosed = errors.New("session connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The media bridge connects server to server and sends no Origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is a websocket session with the media bridge.
type Conn struct {
	ws         *websocket.Conn
	logger     *logrus.Logger
	ackTimeout time.Duration
	results    bool

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Event
	done    chan struct{}
	once    sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

func WithLogger(l *logrus.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithAckTimeout sets how long TransferParticipant waits for the bridge.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.ackTimeout = d
		}
	}
}

// WithCommandResults makes Events deliver command_result frames as well,
// after they have resolved any waiting transfer.
func WithCommandResults() Option {
	return func(c *Conn) { c.results = true }
}

func newConn(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:         ws,
		logger:     logrus.StandardLogger(),
		ackTimeout: DefaultAckTimeout,
		pending:    make(map[string]chan Event),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upgrade accepts a media bridge session on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading session: %w", err)
	}
	return newConn(ws, opts...), nil
}

// Dial connects to a session endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newConn(ws, opts...), nil
}

// Events reads the session and returns its events in arrival order on a
// channel holding up to size events. command_result events are delivered to
// the command waiting for them instead, even while the consumer is behind:
// up to maxBacklog further events are queued before reading pauses. The
// channel is closed when the connection ends, Close is called or ctx is
// done.
func (c *Conn) Events(ctx context.Context, size int) <-chan Event {
	out := make(chan Event, size)
	frames := make(chan Event)

	stop := context.AfterFunc(ctx, func() { c.Close() })
	go c.readEvents(ctx, frames)
	go func() {
		defer close(out)
		defer stop()

		var backlog []Event
		in := frames
		for in != nil || len(backlog) > 0 {
			var send chan<- Event
			var next Event
			if len(backlog) > 0 {
				send, next = out, backlog[0]
			}
			recv := in
			if len(backlog) >= maxBacklog {
				recv = nil
			}

			select {
			case evt, ok := <-recv:
				if !ok {
					in = nil
					continue
				}
				backlog = append(backlog, evt)
			case send <- next:
				backlog[0] = Event{}
				backlog = backlog[1:]
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}()
	return out
}

// readEvents reads frames until the connection ends, resolving command
// results inline and passing everything else to frames.
func (c *Conn) readEvents(ctx context.Context, frames chan<- Event) {
	defer close(frames)
	defer c.failPending()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.logger.WithError(err).Debug("Session read ended")
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type == "" {
			c.logger.WithField("frame", truncate(string(data), 200)).Warn("Ignoring malformed session frame")
			continue
		}
		if evt.Type == CommandResult {
			c.resolve(evt)
			if !c.results {
				continue
			}
		}

		select {
		case frames <- evt:
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// Send writes one command.
func (c *Conn) Send(cmd Command) error {
	return c.write(string(cmd.Type), cmd)
}

// SendEvent writes one event. It is used on the media bridge side of a
// session, by replay tools and tests.
func (c *Conn) SendEvent(evt Event) error {
	return c.write(string(evt.Type), evt)
}

// Commands reads the commands sent by the agent until the connection ends
// or ctx is done. It is the media bridge side counterpart of Events.
func (c *Conn) Commands(ctx context.Context) <-chan Command {
	out := make(chan Command, 16)

	stop := context.AfterFunc(ctx, func() { c.Close() })
	go func() {
		defer close(out)
		defer stop()
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
				c.logger.WithField("frame", truncate(string(data), 200)).Warn("Ignoring malformed command frame")
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (c *Conn) write(kind string, v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("sending %s: %w", kind, err)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("sending %s: %w", kind, err)
	}
	return nil
}

// Say asks the bridge to speak text to the caller.
func (c *Conn) Say(_ context.Context, text string) error {
	return c.Send(Command{Type: Say, Text: text})
}

// ToolResult answers a tool call.
func (c *Conn) ToolResult(_ context.Context, id, output string) error {
	return c.Send(Command{Type: ToolResult, ID: id, Output: output})
}

// TransferParticipant asks the bridge to transfer a SIP participant and waits
// for the bridge to confirm.
func (c *Conn) TransferParticipant(ctx context.Context, req TransferRequest) error {
	id := uuid.NewString()
	result := make(chan Event, 1)

	c.mu.Lock()
	c.pending[id] = result
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err := c.Send(Command{
		Type:                Transfer,
		ID:                  id,
		RoomName:            req.RoomName,
		ParticipantIdentity: req.ParticipantIdentity,
		TransferTo:          req.TransferTo,
		PlayDialtone:        req.PlayDialtone,
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case evt, ok := <-result:
		if !ok {
			return ErrClosed
		}
		if !evt.OK {
			if evt.Error == "" {
				return errors.New("transfer rejected by media bridge")
			}
			return errors.New(evt.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("transfer not confirmed after %s", c.ackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) resolve(evt Event) {
	c.mu.Lock()
	ch, ok := c.pending[evt.ID]
	if ok {
		delete(c.pending, evt.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.WithField("id", evt.ID).Warn("Command result for unknown command")
		return
	}
	ch <- evt
}

func (c *Conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
