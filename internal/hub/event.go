package hub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/chathub/internal/models"
)

// EventType identifies the kind of an outbound event or inbound control frame.
type EventType string

// Outbound event types.
const (
	EventMessage        EventType = "message"
	EventMessageUpdate  EventType = "message_update"
	EventMessageDelete  EventType = "message_delete"
	EventTyping         EventType = "typing"
	EventPresence       EventType = "presence"
	EventChannelUpdate  EventType = "channel_update"
	EventChannelJoin    EventType = "channel_join"
	EventChannelLeave   EventType = "channel_leave"
	EventReaction       EventType = "reaction"
	EventNotification   EventType = "notification"
	EventError          EventType = "error"
	EventPong           EventType = "pong"
	EventResyncRequired EventType = "resync_required"
)

// Inbound control frame types.
const (
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventPing        EventType = "ping"
)

// ephemeral events are not worth a resync notice when dropped.
func (t EventType) ephemeral() bool {
	return t == EventTyping || t == EventPong
}

// subscription frames change hub state and are exempt from inbound limits.
func (t EventType) subscription() bool {
	return t == EventSubscribe || t == EventUnsubscribe
}

// Event is the envelope of every outbound notification.
type Event struct {
	Type      EventType  `json:"type"`
	ChannelID *uuid.UUID `json:"channel_id,omitempty"`
	Payload   any        `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewEvent builds an event stamped with ts. A nil channelID is omitted on the wire.
func NewEvent(t EventType, channelID *uuid.UUID, payload any, ts time.Time) *Event {
	return &Event{
		Type:      t,
		ChannelID: channelID,
		Payload:   payload,
		Timestamp: ts.UTC(),
	}
}

// ClientMessage is an inbound control frame.
type ClientMessage struct {
	Type      EventType       `json:"type"`
	ChannelID *uuid.UUID      `json:"channel_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TypingPayload is carried by inbound and outbound typing frames.
type TypingPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

// ReactionPayload wraps a reaction with whether it was added or removed.
type ReactionPayload struct {
	Action   string           `json:"action"` // added, removed
	Reaction *models.Reaction `json:"reaction"`
}

// MembershipPayload is carried by channel_join and channel_leave.
type MembershipPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// ErrorPayload describes a rejected inbound frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResyncPayload tells a client that events were dropped and it should
// reconcile through a full read.
type ResyncPayload struct {
	Dropped int    `json:"dropped"`
	Reason  string `json:"reason"`
}

// Error codes sent in ErrorPayload.
const (
	ErrCodeInvalidFrame     = "invalid_frame"
	ErrCodeMissingChannelID = "missing_channel_id"
	ErrCodeInvalidPayload   = "invalid_payload"
	ErrCodeUnknownType      = "unknown_type"
	ErrCodeRateLimited      = "rate_limited"
)
