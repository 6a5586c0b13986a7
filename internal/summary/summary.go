// Package summary turns a finished call transcript into a short analysis.
// The generator is an external service; every failure degrades to a fixed
// fallback so finalizing a call never waits on it.
package summary

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voice-agent/internal/callstore"
)

// MinTranscriptLength is the shortest rendered transcript worth analyzing.
const MinTranscriptLength = 50

// Analysis is the derived summary of a call.
type Analysis struct {
	Summary   string `json:"summary"`
	Sentiment string `json:"sentiment"`
	Outcome   string `json:"outcome"`
}

var (
	// TooShort is returned for transcripts under MinTranscriptLength.
	TooShort = Analysis{Summary: "Call too short for analysis", Sentiment: "neutral", Outcome: "unknown"}
	// Failed is returned when the generator errors or returns nothing usable.
	Failed = Analysis{Summary: "Analysis failed", Sentiment: "neutral", Outcome: "unknown"}
)

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("summary generator not configured")

// Generator produces an analysis for a rendered transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string) (Analysis, error)
}

// Unavailable is the generator used when no provider is configured.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string) (Analysis, error) {
	return Analysis{}, ErrUnavailable
}

// RenderTranscript formats messages as "Customer:"/"Agent:" lines.
func RenderTranscript(messages []callstore.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		role := "Agent"
		if m.Role == "user" {
			role = "Customer"
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// IsTooShort reports whether transcript has fewer than MinTranscriptLength
// characters.
func IsTooShort(transcript string) bool {
	return utf8.RuneCountInString(transcript) < MinTranscriptLength
}

// Analyze runs gen over transcript and always returns a usable Analysis.
func Analyze(ctx context.Context, gen Generator, transcript string, logger *logrus.Logger) Analysis {
	if IsTooShort(transcript) {
		return TooShort
	}
	if gen == nil {
		return Failed
	}

	a, err := gen.Generate(ctx, transcript)
	if err != nil {
		if logger != nil {
			logger.WithError(err).Error("Error generating call summary")
		}
		return Failed
	}
	if strings.TrimSpace(a.Summary) == "" {
		if logger != nil {
			logger.Warn("Call summary was empty")
		}
		return Failed
	}
	if a.Sentiment == "" {
		a.Sentiment = "neutral"
	}
	if a.Outcome == "" {
		a.Outcome = "unknown"
	}
	return a
}
