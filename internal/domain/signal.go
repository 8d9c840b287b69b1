package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SignalType is the kind of WebRTC negotiation message
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
)

// Signal is one WebRTC negotiation message between two call participants.
// From and To use the Identity wire form.
type Signal struct {
	Type      SignalType      `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// SignalEnvelope is the payload of a call:signal event
type SignalEnvelope struct {
	CallID uuid.UUID `json:"callId"`
	Signal Signal    `json:"signal"`
}

// CallRoom is the private channel of one call
func CallRoom(callID uuid.UUID) string {
	return "call:" + callID.String()
}

// ConversationRoom carries lifecycle broadcasts for one conversation
func ConversationRoom(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}
