package domain

import (
	"github.com/google/uuid"
)

// ConversationKind is the kind of a conversation
type ConversationKind string

const (
	ConversationDirect  ConversationKind = "direct"
	ConversationGroup   ConversationKind = "group"
	ConversationChannel ConversationKind = "channel" // broadcast-only, no calls
)

// Conversation is the subset of conversation metadata the call service needs.
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID    uuid.UUID        `json:"conversation_id" db:"conversation_id"`
	Type              ConversationKind `json:"type" db:"type"`
	VideoCallsEnabled bool             `json:"video_calls_enabled" db:"video_calls_enabled"`
}

// SupportsCalls reports whether calls may be started in the conversation
func (c *Conversation) SupportsCalls() bool {
	return c.Type == ConversationDirect || c.Type == ConversationGroup
}
