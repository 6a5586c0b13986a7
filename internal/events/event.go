// Package events defines the session event stream exchanged with the media
// bridge: events flow in, commands flow out.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is a session event type.
type Type string

const (
	SessionStart            Type = "session_start"
	ParticipantConnected    Type = "participant_connected"
	ParticipantDisconnected Type = "participant_disconnected"
	Utterance               Type = "utterance"
	ToolCall                Type = "tool_call"
	SessionEnd              Type = "session_end"
	CommandResult           Type = "command_result"
)

// Event is one message from the media bridge. Only the fields relevant to
// the event type are set.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// session_start
	RoomName     string          `json:"room_name,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Participants []string        `json:"participants,omitempty"`

	// participant_connected, participant_disconnected
	Participant string `json:"participant,omitempty"`

	// utterance
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// tool_call, command_result
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// session_end
	Reason string `json:"reason,omitempty"`

	// command_result
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// Args decodes the tool call arguments into a string map. Non-string values
// are rendered with fmt.Sprint.
func (e Event) Args() map[string]string {
	out := map[string]string{}
	if len(e.Arguments) == 0 {
		return out
	}

	var raw map[string]any
	if err := json.Unmarshal(e.Arguments, &raw); err != nil {
		// Some bridges send the arguments as a JSON-encoded string.
		var s string
		if json.Unmarshal(e.Arguments, &s) != nil || json.Unmarshal([]byte(s), &raw) != nil {
			return out
		}
	}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// CommandType is a command sent to the media bridge.
type CommandType string

const (
	Say        CommandType = "say"
	ToolResult CommandType = "tool_result"
	Transfer   CommandType = "transfer"
)

// Command is one message to the media bridge.
type Command struct {
	Type CommandType `json:"type"`
	ID   string      `json:"id,omitempty"`

	// say
	Text string `json:"text,omitempty"`

	// tool_result
	Output string `json:"output,omitempty"`

	// transfer
	RoomName            string `json:"room_name,omitempty"`
	ParticipantIdentity string `json:"participant_identity,omitempty"`
	TransferTo          string `json:"transfer_to,omitempty"`
	PlayDialtone        bool   `json:"play_dialtone,omitempty"`
}

// TransferRequest asks the media bridge to move a SIP participant.
type TransferRequest struct {
	RoomName            string
	ParticipantIdentity string
	TransferTo          string
	PlayDialtone        bool
}
