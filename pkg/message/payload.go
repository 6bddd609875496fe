package message

import (
	"encoding/json"
	"fmt"
)

// SMSContent is the payload of an SMS message.
type SMSContent struct {
	Body string `json:"body"`
}

// EmailContent is the payload of an email message.
type EmailContent struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Payload is the per-channel message content, tagged by channel. Exactly one
// of SMS or Email is set, matching the Channel tag.
type Payload struct {
	Channel Channel
	SMS     *SMSContent
	Email   *EmailContent
}

// payloadEnvelope is the flat wire shape of a Payload.
type payloadEnvelope struct {
	Channel Channel `json:"channel"`
	Body    string  `json:"body,omitempty"`
	Subject string  `json:"subject,omitempty"`
	HTML    string  `json:"html,omitempty"`
}

// NewSMSPayload builds an SMS payload.
func NewSMSPayload(body string) Payload {
	return Payload{Channel: ChannelSMS, SMS: &SMSContent{Body: body}}
}

// NewEmailPayload builds an email payload.
func NewEmailPayload(subject, html string) Payload {
	return Payload{Channel: ChannelEmail, Email: &EmailContent{Subject: subject, HTML: html}}
}

// MarshalJSON encodes the payload in its flat wire shape.
func (p Payload) MarshalJSON() ([]byte, error) {
	env := payloadEnvelope{Channel: p.Channel}
	switch p.Channel {
	case ChannelSMS:
		if p.SMS != nil {
			env.Body = p.SMS.Body
		}
	case ChannelEmail:
		if p.Email != nil {
			env.Subject = p.Email.Subject
			env.HTML = p.Email.HTML
		}
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the flat wire shape into the tagged variant.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Channel {
	case ChannelSMS:
		*p = Payload{Channel: ChannelSMS, SMS: &SMSContent{Body: env.Body}}
	case ChannelEmail:
		*p = Payload{Channel: ChannelEmail, Email: &EmailContent{Subject: env.Subject, HTML: env.HTML}}
	default:
		return fmt.Errorf("unknown payload channel %q", env.Channel)
	}
	return nil
}

// Validate checks that the payload content matches its channel tag.
func (p Payload) Validate() error {
	switch p.Channel {
	case ChannelSMS:
		if p.SMS == nil || p.SMS.Body == "" {
			return fmt.Errorf("sms payload requires a body")
		}
	case ChannelEmail:
		if p.Email == nil || p.Email.Subject == "" {
			return fmt.Errorf("email payload requires a subject")
		}
	default:
		return fmt.Errorf("unknown payload channel %q", p.Channel)
	}
	return nil
}
