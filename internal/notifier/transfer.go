package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

// TransferResult reports the outcome of a transfer request. Error carries the
// reason on failure so the caller can pick a spoken fallback.
type TransferResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Failed builds a failed TransferResult.
func Failed(reason string) TransferResult {
	return TransferResult{Success: false, Error: reason}
}

// Transfer asks the backend to move the call to destination.
func (n *Notifier) Transfer(ctx context.Context, callID, destination, transferType string) TransferResult {
	body := map[string]any{
		"call_id":       callID,
		"destination":   destination,
		"transfer_type": transferType,
	}
	data, err := n.do(ctx, "calls_transfer", http.MethodPost, "/api/calls/transfer", body, n.timeout)
	result := transferResult(data, err)
	n.logTransfer(callID, destination, result)
	return result
}

// RequestTransfer asks the backend to hand the call to a human agent.
func (n *Notifier) RequestTransfer(ctx context.Context, callID, destination, reason string) TransferResult {
	body := map[string]any{"destination": destination, "reason": nil}
	if reason != "" {
		body["reason"] = reason
	}
	data, err := n.do(ctx, "calls_request_transfer", http.MethodPost, "/api/calls/"+url.PathEscape(callID)+"/transfer", body, n.timeout)
	result := transferResult(data, err)
	n.logTransfer(callID, destination, result)
	return result
}

func (n *Notifier) logTransfer(callID, destination string, result TransferResult) {
	fields := logrus.Fields{"call_id": callID, "destination": destination}
	if result.Success {
		n.logger.WithFields(fields).Info("Call transferred")
		return
	}
	n.logger.WithFields(fields).WithField("error", result.Error).Error("Failed to transfer call")
}

// transferResult interprets a backend response. A 2xx body without a success
// field counts as success.
func transferResult(data []byte, err error) TransferResult {
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if msg := errorMessage(data); msg != "" {
				return Failed(msg)
			}
		}
		return Failed(err.Error())
	}

	var body struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if len(data) == 0 || json.Unmarshal(data, &body) != nil || body.Success == nil {
		return TransferResult{Success: true}
	}
	if *body.Success {
		return TransferResult{Success: true}
	}
	reason := body.Error
	if reason == "" {
		reason = body.Message
	}
	if reason == "" {
		reason = "transfer rejected by backend"
	}
	return Failed(reason)
}

func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}

// SendSMS asks the backend to text the caller.
func (n *Notifier) SendSMS(ctx context.Context, phoneNumber, message, callID string) bool {
	body := map[string]any{"to": phoneNumber, "message": message, "call_id": nil}
	if callID != "" {
		body["call_id"] = callID
	}
	if _, err := n.do(ctx, "sms_send", http.MethodPost, "/api/sms/send", body, n.timeout); err != nil {
		n.logger.WithError(err).WithField("call_id", callID).Error("Failed to send SMS")
		return false
	}
	return true
}

// Appointment is a booking request made on behalf of the caller.
type Appointment struct {
	ContactID string  `json:"contact_id"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Service   string  `json:"service"`
	Notes     *string `json:"notes"`
}

// AppointmentResult is the backend's answer to a booking request.
type AppointmentResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"-"`
}

// BookAppointment books an appointment via the backend.
func (n *Notifier) BookAppointment(ctx context.Context, appt Appointment) AppointmentResult {
	data, err := n.do(ctx, "appointments", http.MethodPost, "/api/appointments", appt, n.timeout)
	if err != nil {
		n.logger.WithError(err).WithField("contact_id", appt.ContactID).Error("Failed to book appointment")
		return AppointmentResult{Success: false, Error: err.Error()}
	}

	result := AppointmentResult{Success: true}
	var body map[string]any
	if json.Unmarshal(data, &body) == nil {
		result.Data = body
		if ok, isBool := body["success"].(bool); isBool && !ok {
			result.Success = false
			result.Error, _ = body["error"].(string)
		}
	}
	return result
}
