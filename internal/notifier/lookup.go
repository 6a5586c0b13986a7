package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

var errNoID = errors.New("response has no id")

// AgentProfile is an agent configuration stored in the backend.
type AgentProfile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	VoiceProvider  string         `json:"voiceProvider"`
	VoiceID        string         `json:"voiceId"`
	LLMProvider    string         `json:"llmProvider"`
	LLMModel       string         `json:"llmModel"`
	SystemPrompt   string         `json:"systemPrompt"`
	OpeningMessage string         `json:"openingMessage"`
	Variables      []any          `json:"variables"`
	Actions        map[string]any `json:"actions"`
}

// Contact is a campaign contact stored in the backend.
type Contact struct {
	ID           string         `json:"id"`
	PhoneNumber  string         `json:"phoneNumber"`
	FirstName    string         `json:"firstName"`
	LastName     string         `json:"lastName"`
	Email        *string        `json:"email"`
	Company      *string        `json:"company"`
	CustomFields map[string]any `json:"customFields"`
}

// GetAgent fetches an agent profile. It reports false when the request fails
// or the response carries no id.
func (n *Notifier) GetAgent(ctx context.Context, agentID string) (*AgentProfile, bool) {
	data, err := n.do(ctx, "agents", http.MethodGet, "/api/agents/"+url.PathEscape(agentID), nil, n.timeout)
	var profile AgentProfile
	if err == nil {
		err = decodeWithID(data, &profile, func() string { return profile.ID })
	}
	if err != nil {
		n.logger.WithError(err).WithField("agent_id", agentID).Error("Failed to fetch agent")
		return nil, false
	}
	return &profile, true
}

// GetCampaignContact fetches one contact of a campaign. It reports false when
// the request fails or the response carries no id.
func (n *Notifier) GetCampaignContact(ctx context.Context, campaignID, contactID string) (*Contact, bool) {
	path := "/api/campaigns/" + url.PathEscape(campaignID) + "/contacts/" + url.PathEscape(contactID)
	data, err := n.do(ctx, "campaign_contacts", http.MethodGet, path, nil, n.timeout)
	var contact Contact
	if err == nil {
		err = decodeWithID(data, &contact, func() string { return contact.ID })
	}
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"contact_id":  contactID,
		}).Error("Failed to fetch contact")
		return nil, false
	}
	return &contact, true
}

func decodeWithID(data []byte, v any, id func() string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if id() == "" {
		return errNoID
	}
	return nil
}
