package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/callstore"
	"github.com/sweeney/voice-agent/internal/config"
	"github.com/sweeney/voice-agent/internal/handler"
	"github.com/sweeney/voice-agent/internal/metrics"
	"github.com/sweeney/voice-agent/internal/notifier"
	"github.com/sweeney/voice-agent/internal/publisher"
	"github.com/sweeney/voice-agent/internal/session"
	"github.com/sweeney/voice-agent/internal/summary"
)

const (
	shutdownTimeout = 15 * time.Second
	publishTimeout  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults and environment only when empty)")
	envFile := flag.String("env", ".env", "Path to a .env file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("Received signal, shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Voice agent failed")
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	backend := notifier.New(notifier.Options{
		BaseURL:        cfg.Backend.URL,
		APIToken:       cfg.Backend.APIToken,
		Timeout:        cfg.Backend.Timeout,
		WebhookTimeout: cfg.Backend.WebhookTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	defer backend.Close()

	h := handler.New(callstore.NewStore(), backend,
		handler.WithLogger(logger),
		handler.WithMetrics(m),
		handler.WithObserver(lifecycleObserver(pub, cfg.MQTT.TopicPrefix, logger)),
	)

	coord := session.New(session.Options{
		Handler:           h,
		Backend:           backend,
		Summarizer:        newSummarizer(ctx, cfg, logger),
		Logger:            logger,
		Metrics:           m,
		ParticipantPrefix: cfg.Agent.ParticipantPrefix,
		TransferType:      cfg.Agent.TransferType,
	})

	srv := newServer(ctx, serverOptions{
		Coordinator: coord,
		Handler:     h,
		Gatherer:    reg,
		Logger:      logger,
		MetricsPath: cfg.Metrics.Path,
		EventBuffer: cfg.Agent.EventBuffer,
		AckTimeout:  cfg.Agent.TransferTimeout,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Listen).Info("Voice agent listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving %s: %w", cfg.Listen, err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}

	// Sessions finalize on cancellation; wait for them, then for their
	// queued backend notifications.
	srv.wait()
	h.Wait()
	return nil
}

func newPublisher(cfg *config.Config, logger *logrus.Logger) (publisher.Publisher, error) {
	var pubs publisher.Multi
	if cfg.MQTT.Enabled {
		p, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Timeout:  publishTimeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.AMQP.Enabled {
		p, err := publisher.NewAMQPPublisher(publisher.AMQPOptions{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
		})
		if err != nil {
			pubs.Close()
			return nil, err
		}
		logger.WithField("exchange", cfg.AMQP.Exchange).Info("Connected to AMQP broker")
		pubs = append(pubs, p)
	}
	if len(pubs) == 0 {
		logger.Info("No message bus enabled, lifecycle events are not published")
		return publisher.Nop{}, nil
	}
	return pubs, nil
}

func newSummarizer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) summary.Generator {
	if cfg.Summary.Provider != config.ProviderGemini {
		return summary.Unavailable{}
	}
	g, err := summary.NewGemini(ctx, cfg.Summary.APIKey, cfg.Summary.Model)
	if err != nil {
		logger.WithError(err).Warn("Gemini unavailable, call summaries will use the fallback")
		return summary.Unavailable{}
	}
	return g
}

func lifecycleObserver(pub publisher.Publisher, prefix string, logger *logrus.Logger) handler.Observer {
	return func(ctx context.Context, change handler.StatusChange) {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := publishChange(ctx, pub, prefix, change); err != nil {
			logger.WithError(err).WithField("call_id", change.CallID).Warn("Publish error")
		}
	}
}

// lifecyclePayload is the JSON structure published for each status change.
type lifecyclePayload struct {
	Event           string   `json:"event"`
	Description     string   `json:"description"`
	CallID          string   `json:"call_id"`
	RoomName        string   `json:"room_name"`
	Previous        string   `json:"previous"`
	Timestamp       string   `json:"timestamp"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Outcome         string   `json:"outcome,omitempty"`
}

var stateDescriptions = map[callstore.Status]string{
	callstore.StatusPending:      "The call is being set up",
	callstore.StatusRinging:      "The call is ringing and waiting to be answered",
	callstore.StatusConnected:    "The caller is connected to the agent",
	callstore.StatusOnHold:       "The caller is on hold",
	callstore.StatusTransferring: "The call is being transferred",
	callstore.StatusCompleted:    "The call has ended",
	callstore.StatusFailed:       "The call failed",
}

func publishChange(ctx context.Context, pub publisher.Publisher, prefix string, change handler.StatusChange) error {
	topic := fmt.Sprintf("%s/call/%s/%s", prefix, change.CallID, change.To)

	payload := lifecyclePayload{
		Event:       string(change.To),
		Description: stateDescriptions[change.To],
		CallID:      change.CallID,
		RoomName:    change.RoomName,
		Previous:    string(change.From),
		Timestamp:   change.Timestamp.UTC().Format(time.RFC3339),
	}
	if change.To.Terminal() {
		d := change.Duration.Seconds()
		payload.DurationSeconds = &d
		payload.Outcome = change.Outcome
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	return pub.Publish(ctx, topic, data)
}
