package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
)

// decodeStrict parses body into dst, rejecting unknown top-level fields
// and trailing data. Schema drift must fail loudly, not drop fields.
func decodeStrict(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Wrap(apperror.KindBadRequest, "invalid webhook payload", err)
	}
	if dec.More() {
		return apperror.New(apperror.KindBadRequest, "webhook payload must be a single JSON object")
	}
	return nil
}

// twilioStatusPayload is a Twilio delivery status callback.
type twilioStatusPayload struct {
	MessageSid    string `json:"message_sid"`
	MessageStatus string `json:"message_status"`
	ErrorCode     string `json:"error_code,omitempty"`
	To            string `json:"to,omitempty"`
	From          string `json:"from,omitempty"`
}

func (p *twilioStatusPayload) validate() error {
	if p.MessageSid == "" {
		return apperror.New(apperror.KindBadRequest, "message_sid is required")
	}
	if p.MessageStatus == "" {
		return apperror.New(apperror.KindBadRequest, "message_status is required")
	}
	return nil
}

// eventStatus maps Twilio's reported status to an event status.
func (p *twilioStatusPayload) eventStatus() (message.EventStatus, error) {
	switch p.MessageStatus {
	case "delivered":
		return message.EventDelivered, nil
	case "undelivered", "failed":
		return message.EventBounced, nil
	default:
		return "", apperror.New(apperror.KindBadRequest, fmt.Sprintf("unsupported message_status %q", p.MessageStatus))
	}
}

// twilioInboundPayload is an inbound SMS delivered by Twilio, e.g. a
// reply to a sent message. It never matches a scheduled message and is
// recorded as an orphan event.
type twilioInboundPayload struct {
	MessageSid string `json:"message_sid"`
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
}

func (p *twilioInboundPayload) validate() error {
	if p.MessageSid == "" {
		return apperror.New(apperror.KindBadRequest, "message_sid is required")
	}
	if p.From == "" {
		return apperror.New(apperror.KindBadRequest, "from is required")
	}
	return nil
}

// resendEventPayload is a Resend email event callback.
type resendEventPayload struct {
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at,omitempty"`
	Data      resendEventData `json:"data"`
}

type resendEventData struct {
	EmailID string   `json:"email_id"`
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

func (p *resendEventPayload) validate() error {
	if p.Type == "" {
		return apperror.New(apperror.KindBadRequest, "type is required")
	}
	if p.Data.EmailID == "" {
		return apperror.New(apperror.KindBadRequest, "data.email_id is required")
	}
	return nil
}

// eventStatus maps Resend's event type to an event status.
func (p *resendEventPayload) eventStatus() (message.EventStatus, error) {
	switch p.Type {
	case "email.delivered":
		return message.EventDelivered, nil
	case "email.bounced", "email.complained":
		return message.EventBounced, nil
	default:
		return "", apperror.New(apperror.KindBadRequest, fmt.Sprintf("unsupported event type %q", p.Type))
	}
}
