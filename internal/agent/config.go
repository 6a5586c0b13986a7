// Package agent builds the per-session agent configuration from the metadata
// the backend attaches to a session.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sweeney/voice-agent/internal/destination"
)

const (
	DefaultName               = "Sarah"
	DefaultVoiceID            = "a0e99841-438c-4a64-b679-ae501e7d6091"
	DefaultTemperature        = 0.7
	DefaultTransferDepartment = "support"
	DefaultOpeningMessage     = "Hi there! This is Sarah from PON-E-LINE. How can I help you today?"
)

const DefaultSystemPrompt = `You are Sarah, a friendly and professional AI voice assistant for PON-E-LINE.
Your role is to help customers with their inquiries in a warm, conversational manner.

Guidelines:
- Be concise but helpful - keep responses under 2-3 sentences when possible
- Use natural, conversational language
- If you don't know something, be honest about it
- Always maintain a positive, helpful tone
- Listen actively and respond to what the customer actually said
- If the customer wants to speak to a human, offer to transfer them

Remember: You're having a phone conversation, so speak naturally as if talking to someone.`

// Config is the immutable configuration of one agent session.
type Config struct {
	Name               string
	VoiceID            string
	SystemPrompt       string
	OpeningMessage     string
	Temperature        float64
	Variables          map[string]string
	Destinations       *destination.Registry
	DefaultDestination string
}

// Default returns the configuration used when a session carries no metadata.
func Default() Config {
	return Config{
		Name:               DefaultName,
		VoiceID:            DefaultVoiceID,
		SystemPrompt:       DefaultSystemPrompt,
		OpeningMessage:     DefaultOpeningMessage,
		Temperature:        DefaultTemperature,
		Variables:          map[string]string{},
		Destinations:       destination.NewRegistry(destination.DefaultDestinations(), DefaultTransferDepartment),
		DefaultDestination: DefaultTransferDepartment,
	}
}

// FromMetadata builds a Config, filling absent fields with defaults.
// The returned warnings describe values that were replaced.
func FromMetadata(m Metadata) (Config, []string) {
	cfg := Default()
	var warnings []string

	if m.AgentName != "" {
		cfg.Name = m.AgentName
	}
	if m.VoiceID != "" {
		cfg.VoiceID = m.VoiceID
	}
	if m.SystemPrompt != "" {
		cfg.SystemPrompt = m.SystemPrompt
	}
	if m.OpeningMessage != "" {
		cfg.OpeningMessage = m.OpeningMessage
	}
	if m.Temperature != nil {
		if t := *m.Temperature; t >= 0 && t <= 2 {
			cfg.Temperature = t
		} else {
			warnings = append(warnings, fmt.Sprintf("temperature %v out of range [0, 2], using %v", t, DefaultTemperature))
		}
	}

	if len(m.Variables) > 0 {
		cfg.Variables = make(map[string]string, len(m.Variables))
		for k, v := range m.Variables {
			if v == nil {
				cfg.Variables[k] = ""
				continue
			}
			if s, ok := v.(string); ok {
				cfg.Variables[k] = s
				continue
			}
			cfg.Variables[k] = fmt.Sprint(v)
		}
	}

	dests := destination.DefaultDestinations()
	if m.Transfer != nil {
		if m.Transfer.DefaultDestination != "" {
			cfg.DefaultDestination = m.Transfer.DefaultDestination
		}
		if len(m.Transfer.Destinations) > 0 {
			dests = m.Transfer.Destinations
		}
	}
	cfg.Destinations = destination.NewRegistry(dests, cfg.DefaultDestination)
	if _, ok := cfg.Destinations.Lookup(cfg.DefaultDestination); !ok {
		warnings = append(warnings, fmt.Sprintf("default destination %q is not configured", cfg.DefaultDestination))
	}

	return cfg, warnings
}

// Interpolate replaces {{key}} placeholders with variable values.
// Unknown placeholders are left as they are.
func (c Config) Interpolate(text string) string {
	if len(c.Variables) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	keys := make([]string, 0, len(c.Variables))
	for k := range c.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", c.Variables[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Opening returns the interpolated opening message.
func (c Config) Opening() string {
	return c.Interpolate(c.OpeningMessage)
}

// Instructions returns the interpolated system prompt.
func (c Config) Instructions() string {
	return c.Interpolate(c.SystemPrompt)
}
