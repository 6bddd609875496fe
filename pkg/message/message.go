// Package message holds the scheduled-message domain model: the delivery
// state machine, the per-channel payload variant, and the append-only
// message event log.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery channel of a message.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// Status is the lifecycle state of a ScheduledMessage.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
)

// transitions is the full state machine. Terminal statuses have no entry.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusBounced},
}

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusDelivered, StatusBounced:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Patch is the field set a store applies in one conditional write. Nil
// fields are left unchanged.
type Patch struct {
	Status            Status
	Attempts          *int
	ProviderMessageID *string
}

// ScheduledMessage is a tenant-owned message to be delivered at SendAt.
// TenantID is immutable; Status moves only along the state machine.
type ScheduledMessage struct {
	ID                uuid.UUID  `json:"id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	ContactID         uuid.UUID  `json:"contact_id"`
	TemplateID        *uuid.UUID `json:"template_id,omitempty"`
	Channel           Channel    `json:"channel"`
	SendAt            time.Time  `json:"send_at"`
	Payload           Payload    `json:"payload"`
	Status            Status     `json:"status"`
	Attempts          int        `json:"attempts"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// EventStatus classifies a message event row.
type EventStatus string

const (
	EventSent       EventStatus = "sent"
	EventFailed     EventStatus = "failed"
	EventDeadLetter EventStatus = "dead_letter"
	EventDelivered  EventStatus = "delivered"
	EventBounced    EventStatus = "bounced"
	EventInbound    EventStatus = "inbound"
)

// Failure reasons recorded on events.
const (
	ReasonContactNotFound       = "contact_not_found"
	ReasonDestinationMissing    = "destination_missing"
	ReasonProviderConfigMissing = "provider_config_missing"
	ReasonEnqueueError          = "enqueue_error"
)

// Event is one row of the append-only message event log. Rows are never
// updated after creation; reconciliation appends new rows instead.
// ScheduledMessageID is nil for inbound-only (orphan) events.
type Event struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	ScheduledMessageID *uuid.UUID      `json:"scheduled_message_id,omitempty"`
	Provider           string          `json:"provider"`
	ProviderMessageID  *string         `json:"provider_message_id,omitempty"`
	Status             EventStatus     `json:"status"`
	Reason             string          `json:"reason,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
