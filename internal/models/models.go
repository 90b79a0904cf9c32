// Package models defines the records carried as payloads of real-time chat
// events. Their durable storage lives outside this service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType represents the type of channel.
type ChannelType string

const (
	ChannelTypePublic  ChannelType = "public"
	ChannelTypePrivate ChannelType = "private"
	ChannelTypeDirect  ChannelType = "direct"
)

// PresenceStatus is the user-visible availability of a user.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusDND     PresenceStatus = "dnd"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusDND, StatusOffline:
		return true
	}
	return false
}

// Channel is a named conversation stream.
type Channel struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	Name           string      `json:"name"`
	Slug           string      `json:"slug"`
	Description    string      `json:"description,omitempty"`
	Type           ChannelType `json:"type"`
	Topic          string      `json:"topic,omitempty"`
	IsArchived     bool        `json:"is_archived"`
	CreatedBy      uuid.UUID   `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Message is a chat message as persisted by the REST layer.
type Message struct {
	ID          uuid.UUID      `json:"id"`
	ChannelID   uuid.UUID      `json:"channel_id"`
	UserID      uuid.UUID      `json:"user_id"`
	ParentID    *uuid.UUID     `json:"parent_id,omitempty"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	IsEdited    bool           `json:"is_edited"`
	IsPinned    bool           `json:"is_pinned"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MessageDeleted identifies a message removed from a channel.
type MessageDeleted struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

// Reaction is an emoji reaction to a message.
type Reaction struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is addressed to one user rather than a channel.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"` // mention, dm, reply
	ChannelID uuid.UUID `json:"channel_id"`
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Presence is a user's online status.
type Presence struct {
	UserID     uuid.UUID      `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	StatusText string         `json:"status_text,omitempty"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}
