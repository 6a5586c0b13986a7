package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sweeney/voice-agent/internal/destination"
)

// Metadata is the session metadata attached by the backend.
type Metadata struct {
	CallID         string
	AgentName      string
	VoiceID        string
	SystemPrompt   string
	OpeningMessage string
	Temperature    *float64
	Variables      map[string]any
	Transfer       *TransferConfig
	PhoneNumber    string
	CampaignID     string
	AgentID        string
	CustomerData   map[string]any
}

// TransferConfig lists the transfer destinations of a session.
type TransferConfig struct {
	Destinations       []destination.Destination
	DefaultDestination string
}

type rawDestination struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PhoneNumber      string `json:"phoneNumber"`
	PhoneNumberSnake string `json:"phone_number"`
	Description      string `json:"description"`
}

type rawTransfer struct {
	Destinations            []rawDestination `json:"destinations"`
	DefaultDestination      string           `json:"defaultDestination"`
	DefaultDestinationSnake string           `json:"default_destination"`
}

// ParseMetadata decodes session metadata. raw may be a JSON object or a JSON
// string holding one. Empty input yields zero Metadata. The second return
// value lists top-level keys that were not recognized, sorted.
func ParseMetadata(raw []byte) (Metadata, []string, error) {
	var m Metadata
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return m, nil, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return m, nil, fmt.Errorf("decoding metadata string: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return m, nil, nil
		}
		raw = []byte(inner)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return m, nil, fmt.Errorf("decoding metadata: %w", err)
	}

	var unknown []string
	for key, value := range fields {
		var err error
		switch key {
		case "callId", "call_id":
			err = json.Unmarshal(value, &m.CallID)
		case "agent_name", "agentName":
			err = json.Unmarshal(value, &m.AgentName)
		case "voice_id", "voiceId":
			err = json.Unmarshal(value, &m.VoiceID)
		case "system_prompt", "systemPrompt":
			err = json.Unmarshal(value, &m.SystemPrompt)
		case "opening_message", "openingMessage":
			err = json.Unmarshal(value, &m.OpeningMessage)
		case "temperature":
			var t *float64
			if err = json.Unmarshal(value, &t); err == nil {
				m.Temperature = t
			}
		case "variables":
			err = json.Unmarshal(value, &m.Variables)
		case "transferConfig", "transfer_config":
			m.Transfer, err = parseTransfer(value)
		case "phoneNumber", "phone_number":
			err = json.Unmarshal(value, &m.PhoneNumber)
		case "campaignId", "campaign_id":
			err = json.Unmarshal(value, &m.CampaignID)
		case "agentId", "agent_id":
			err = json.Unmarshal(value, &m.AgentID)
		case "customerData", "customer_data":
			err = json.Unmarshal(value, &m.CustomerData)
		default:
			unknown = append(unknown, key)
		}
		if err != nil {
			return Metadata{}, nil, fmt.Errorf("metadata field %s: %w", key, err)
		}
	}
	sort.Strings(unknown)
	return m, unknown, nil
}

func parseTransfer(value json.RawMessage) (*TransferConfig, error) {
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return nil, nil
	}
	var rt rawTransfer
	if err := json.Unmarshal(value, &rt); err != nil {
		return nil, err
	}

	tc := &TransferConfig{DefaultDestination: rt.DefaultDestination}
	if tc.DefaultDestination == "" {
		tc.DefaultDestination = rt.DefaultDestinationSnake
	}
	for _, d := range rt.Destinations {
		phone := d.PhoneNumber
		if phone == "" {
			phone = d.PhoneNumberSnake
		}
		tc.Destinations = append(tc.Destinations, destination.Destination{
			ID:          d.ID,
			Name:        d.Name,
			PhoneNumber: phone,
			Description: d.Description,
		})
	}
	return tc, nil
}
