package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweeney/voice-agent/internal/callstore"
	"github.com/sweeney/voice-agent/internal/destination"
	"github.com/sweeney/voice-agent/internal/events"
	"github.com/sweeney/voice-agent/internal/notifier"
)

// Tool names the media bridge's LLM can call.
const (
	ToolTransferCall    = "transfer_call"
	ToolSendSMS         = "send_sms"
	ToolBookAppointment = "book_appointment"
	ToolEndCall         = "end_call"
	ToolLookupAccount   = "lookup_account"
)

func (c *Coordinator) runTool(ctx context.Context, s *state, media Media, evt events.Event) string {
	args := evt.Args()
	s.log.WithField("tool", evt.Name).Info("Tool called")

	switch evt.Name {
	case ToolTransferCall:
		return c.transfer(ctx, s, media, argOr(args, "department", "support"))
	case ToolSendSMS:
		return c.sendSMS(ctx, s, args["message"])
	case ToolBookAppointment:
		return c.bookAppointment(ctx, s, args)
	case ToolEndCall:
		reason := argOr(args, "reason", "completed")
		s.disposition = reason
		c.handler.AddNote(s.callID, "Call ended by agent: "+reason)
		return "Thank you for calling PON-E-LINE. Have a great day! Goodbye."
	case ToolLookupAccount:
		return c.lookupAccount(ctx, s, args["phone_number"])
	default:
		s.log.WithField("tool", evt.Name).Warn("Unknown tool")
		return "I'm sorry, I can't do that right now. Is there anything else I can help you with?"
	}
}

// transfer resolves department and moves the caller. The returned text is
// spoken to the caller whatever the outcome.
func (c *Coordinator) transfer(ctx context.Context, s *state, media Media, department string) string {
	log := s.log.WithField("department", department)
	log.Info("Transfer requested")

	raw, ok := s.cfg.Destinations.Resolve(department)
	target := destination.FormatTarget(raw)
	if !ok || target == "" {
		c.backend.LogEvent(ctx, s.callID, "transfer_unavailable", map[string]any{"department": department})
		if available := s.cfg.Destinations.AvailableDepartments(); len(available) > 0 {
			return fmt.Sprintf("I'm sorry, I don't have a transfer number for %s. I can transfer you to: %s. Which would you prefer?",
				department, strings.Join(available, ", "))
		}
		return "I'm sorry, call transfers are not currently configured. Is there anything else I can help you with?"
	}

	log = log.WithField("destination", target)
	log.Info("Initiating transfer")

	failed := func(reason string) string {
		c.backend.LogEvent(ctx, s.callID, "transfer_failed", map[string]any{
			"department":  department,
			"destination": target,
			"error":       reason,
		})
		return fmt.Sprintf("I apologize, but I'm having trouble connecting you to %s. Let me try again or provide you with their direct number.", department)
	}

	result := c.handler.TransferCall(ctx, s.callID, target, c.xferType)
	if !result.Success {
		log.WithField("error", result.Error).Error("Transfer failed")
		return failed(result.Error)
	}

	if s.participant == "" {
		log.Warn("No caller participant known, leaving transfer to the backend")
		c.backend.LogEvent(ctx, s.callID, "transfer_pending", map[string]any{
			"department":  department,
			"destination": target,
		})
		s.transferred = true
		return fmt.Sprintf("I'll connect you to our %s team. Please hold while I transfer your call.", department)
	}

	err := media.TransferParticipant(ctx, events.TransferRequest{
		RoomName:            s.room,
		ParticipantIdentity: s.participant,
		TransferTo:          target,
	})
	if err != nil {
		log.WithError(err).Error("SIP transfer failed")
		c.handler.UpdateStatus(ctx, s.callID, callstore.StatusConnected)
		return failed(err.Error())
	}

	s.transferred = true
	c.handler.AddNote(s.callID, fmt.Sprintf("Transferred to %s (%s)", department, target))
	c.backend.LogEvent(ctx, s.callID, "transfer_completed", map[string]any{
		"department":  department,
		"destination": target,
	})
	log.Info("SIP transfer successful")
	return fmt.Sprintf("I'm transferring you to our %s team now. Thank you for calling, and have a great day!", department)
}

func (c *Coordinator) sendSMS(ctx context.Context, s *state, message string) string {
	if strings.TrimSpace(message) == "" {
		return "What would you like me to text you?"
	}
	phone := s.meta.PhoneNumber
	if phone == "" {
		s.log.Warn("No phone number for SMS")
		return "I'm sorry, I don't have a number to text. Is there anything else I can help you with?"
	}
	if !c.backend.SendSMS(ctx, phone, message, s.callID) {
		return "I'm sorry, I wasn't able to send that text message right now."
	}
	c.handler.AddNote(s.callID, "SMS sent: "+message)
	return "I've sent that information to your phone via text message."
}

func (c *Coordinator) bookAppointment(ctx context.Context, s *state, args map[string]string) string {
	date, at := args["date"], args["time"]
	service := argOr(args, "service", "consultation")
	if date == "" || at == "" {
		return "What date and time would work best for you?"
	}

	appt := notifier.Appointment{
		ContactID: contactID(s),
		Date:      date,
		Time:      at,
		Service:   service,
	}
	if notes, ok := args["notes"]; ok && notes != "" {
		appt.Notes = &notes
	}

	result := c.backend.BookAppointment(ctx, appt)
	if !result.Success {
		s.log.WithField("error", result.Error).Warn("Appointment booking failed")
		return "I'm sorry, I couldn't book that appointment right now. Would you like me to have someone call you back?"
	}
	c.handler.AddNote(s.callID, fmt.Sprintf("Booked %s on %s at %s", service, date, at))
	return fmt.Sprintf("I've scheduled your %s appointment for %s at %s. You'll receive a confirmation shortly.", service, date, at)
}

// lookupAccount greets the caller by name when the session belongs to a
// campaign contact the backend knows.
func (c *Coordinator) lookupAccount(ctx context.Context, s *state, phone string) string {
	data := map[string]any{"phone_number": phone, "found": false}
	reply := "I found your account. How can I help you today?"

	if id, ok := customerContactID(s); ok && s.meta.CampaignID != "" {
		if contact, found := c.backend.GetCampaignContact(ctx, s.meta.CampaignID, id); found {
			data["found"] = true
			data["contact_id"] = contact.ID
			if contact.FirstName != "" {
				reply = fmt.Sprintf("Thanks, %s. I found your account. How can I help you today?", contact.FirstName)
			}
		}
	}
	c.backend.LogEvent(ctx, s.callID, "account_lookup", data)
	return reply
}

// contactID picks the backend contact for the caller, falling back to the
// call id.
func contactID(s *state) string {
	if id, ok := customerContactID(s); ok {
		return id
	}
	return s.callID
}

func customerContactID(s *state) (string, bool) {
	for _, key := range []string{"contactId", "contact_id"} {
		if v, ok := s.meta.CustomerData[key]; ok {
			if id := fmt.Sprint(v); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func argOr(args map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(args[key]); v != "" {
		return v
	}
	return fallback
}
