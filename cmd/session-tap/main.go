package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/events"
)

func main() {
	listen := flag.String("listen", "", "Accept media bridge sessions on this address and capture them")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	replay := flag.String("replay", "", "Replay a capture file against -target")
	target := flag.String("target", "ws://127.0.0.1:8080/session", "Voice agent session URL for -replay")
	delay := flag.Duration("delay", 200*time.Millisecond, "Pause between replayed events")
	linger := flag.Duration("linger", 2*time.Second, "How long to wait for commands after the last replayed event")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case *sanitize != "":
		if err = sanitizeFile(*sanitize); err == nil {
			fmt.Println("sanitized:", *sanitize)
		}
	case *replay != "":
		err = replayFile(ctx, *replay, *target, *delay, *linger)
	case *listen != "":
		err = capture(ctx, *listen, *outDir)
	default:
		fmt.Fprintln(os.Stderr, "error: one of -listen, -replay or -sanitize is required")
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// capture stands in for the voice agent and writes every event it receives
// to one .jsonl file per session. No commands are sent back.
func capture(ctx context.Context, addr, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		conn, err := events.Upgrade(w, r, events.WithLogger(logger), events.WithCommandResults())
		if err != nil {
			fmt.Fprintf(os.Stderr, "upgrade: %v\n", err)
			return
		}
		defer conn.Close()

		filename := filepath.Join(outDir, time.Now().Format("20060102-150405.000")+".jsonl")
		f, err := os.Create(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create: %v\n", err)
			return
		}
		defer f.Close()
		fmt.Printf("session from %s, writing to %s\n", r.RemoteAddr, filename)

		n := 0
		for evt := range conn.Events(ctx, 64) {
			line, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			f.Write(append(line, '\n'))
			n++
		}
		fmt.Printf("session from %s closed, %d events\n", r.RemoteAddr, n)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	fmt.Printf("listening on %s (ctrl+c to stop)...\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// replayFile plays a capture against a running voice agent, acknowledging
// transfer commands and printing everything the agent sends.
func replayFile(ctx context.Context, path, target string, delay, linger time.Duration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p := events.NewParser(bytes.NewReader(data))
	evts := p.ParseAll()
	if p.Skipped() > 0 {
		fmt.Printf("skipped %d malformed lines\n", p.Skipped())
	}

	fmt.Printf("connecting to %s...\n", target)
	conn, err := events.Dial(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for cmd := range conn.Commands(ctx) {
			printCommand(cmd)
			if cmd.Type == events.Transfer {
				ack := events.Event{Type: events.CommandResult, ID: cmd.ID, OK: true}
				if err := conn.SendEvent(ack); err != nil {
					fmt.Fprintf(os.Stderr, "ack %s: %v\n", cmd.ID, err)
				}
			}
		}
	}()

	for i, evt := range evts {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		fmt.Printf("-> %s\n", evt.Type)
		if err := conn.SendEvent(evt); err != nil {
			return fmt.Errorf("sending %s: %w", evt.Type, err)
		}
	}

	select {
	case <-time.After(linger):
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func printCommand(cmd events.Command) {
	switch cmd.Type {
	case events.Say:
		fmt.Printf("<- say: %s\n", cmd.Text)
	case events.ToolResult:
		fmt.Printf("<- tool_result %s: %s\n", cmd.ID, cmd.Output)
	case events.Transfer:
		fmt.Printf("<- transfer %s to %s\n", cmd.ParticipantIdentity, cmd.TransferTo)
	default:
		fmt.Printf("<- %s\n", cmd.Type)
	}
}

var (
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern  = regexp.MustCompile(`\+?\b1?\d{10}\b|(?:\+?\b1[\s.-]?)?(?:\(\d{3}\)\s?|\b\d{3}[\s.-])\d{3}[\s.-]\d{4}\b`)
	secretPattern = regexp.MustCompile(`(?i)("(?:api_?key|api_?token|token|secret|password)"\s*:\s*")[^"]*"`)
)

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Create backup
	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func sanitizeLine(line string) string {
	line = secretPattern.ReplaceAllString(line, `${1}REDACTED"`)

	// Redact IPs (but preserve localhost)
	line = ipPattern.ReplaceAllStringFunc(line, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})

	return phonePattern.ReplaceAllString(line, "+15550001234")
}
