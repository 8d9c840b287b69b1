package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a requested row does not exist
var ErrNotFound = errors.New("not found")

// CallMode is the media topology of a call
type CallMode string

const (
	CallModeP2P CallMode = "p2p"
	// CallModeSFU is reserved; no session is ever created with it
	CallModeSFU CallMode = "sfu"
)

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

// LiveCallStatuses lists the non-terminal statuses
var LiveCallStatuses = []CallStatus{CallStatusInitiated, CallStatusRinging, CallStatusActive}

// IsTerminal reports whether no further transition is possible
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusMissed || s == CallStatusRejected
}

// IsLive reports whether the status counts against the one-call-per-conversation rule
func (s CallStatus) IsLive() bool {
	return s == CallStatusInitiated || s == CallStatusRinging || s == CallStatusActive
}

// CallType distinguishes audio-only from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// ParticipantRole is the role of a participant within one call
type ParticipantRole string

const (
	RoleInitiator   ParticipantRole = "initiator"
	RoleParticipant ParticipantRole = "participant"
)

// Metadata keys stored on a call session
const (
	MetaCallType  = "callType"
	MetaEndReason = "endReason"
	MetaEndedBy   = "endedBy"
)

// End reasons recorded under MetaEndReason
const (
	EndReasonEnded         = "ended"
	EndReasonLastLeft      = "last_participant_left"
	EndReasonMissed        = "missed"
	EndReasonRejected      = "rejected"
	EndReasonZombieCleanup = "zombie_cleanup"
)

// CallSession represents one call in a conversation
type CallSession struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID uuid.UUID         `json:"conversationId"`
	InitiatorID    uuid.UUID         `json:"initiatorId"`
	Mode           CallMode          `json:"mode"`
	Status         CallStatus        `json:"status"`
	StartedAt      time.Time         `json:"startedAt"`
	AnsweredAt     *time.Time        `json:"answeredAt,omitempty"`
	EndedAt        *time.Time        `json:"endedAt,omitempty"`
	Duration       *int              `json:"duration,omitempty"` // in seconds
	Metadata       map[string]string `json:"metadata"`
}

// CallType returns the call type recorded at initiation
func (c *CallSession) CallType() CallType {
	return CallType(c.Metadata[MetaCallType])
}

// Terminate moves a live session into a terminal status, stamping endedAt,
// the duration since startedAt and the end reason. It is a no-op returning
// false when the session is already terminal.
func (c *CallSession) Terminate(status CallStatus, reason string, at time.Time) bool {
	if c.Status.IsTerminal() || !status.IsTerminal() {
		return false
	}
	seconds := int(at.Sub(c.StartedAt).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	c.Status = status
	c.EndedAt = &at
	c.Duration = &seconds
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[MetaEndReason] = reason
	return true
}

// Clone returns a deep copy
func (c *CallSession) Clone() *CallSession {
	cp := *c
	cp.AnsweredAt = cloneTime(c.AnsweredAt)
	cp.EndedAt = cloneTime(c.EndedAt)
	if c.Duration != nil {
		d := *c.Duration
		cp.Duration = &d
	}
	cp.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// CallParticipant represents one identity's presence in a call.
// Exactly one of UserID and AnonymousID is set.
type CallParticipant struct {
	ID                uuid.UUID       `json:"id"`
	CallSessionID     uuid.UUID       `json:"callSessionId"`
	UserID            *uuid.UUID      `json:"userId,omitempty"`
	AnonymousID       *string         `json:"anonymousId,omitempty"`
	Role              ParticipantRole `json:"role"`
	JoinedAt          time.Time       `json:"joinedAt"`
	LeftAt            *time.Time      `json:"leftAt,omitempty"`
	IsAudioEnabled    bool            `json:"isAudioEnabled"`
	IsVideoEnabled    bool            `json:"isVideoEnabled"`
	ConnectionQuality *string         `json:"connectionQuality,omitempty"`
}

// IsActive reports whether the participant has not left
func (p *CallParticipant) IsActive() bool {
	return p.LeftAt == nil
}

// Identity returns the identity the participant row belongs to
func (p *CallParticipant) Identity() Identity {
	if p.UserID != nil {
		return UserIdentity(*p.UserID)
	}
	if p.AnonymousID != nil {
		return AnonymousIdentity(*p.AnonymousID)
	}
	return Identity{}
}

// Clone returns a deep copy
func (p *CallParticipant) Clone() *CallParticipant {
	cp := *p
	if p.UserID != nil {
		id := *p.UserID
		cp.UserID = &id
	}
	if p.AnonymousID != nil {
		id := *p.AnonymousID
		cp.AnonymousID = &id
	}
	cp.LeftAt = cloneTime(p.LeftAt)
	if p.ConnectionQuality != nil {
		q := *p.ConnectionQuality
		cp.ConnectionQuality = &q
	}
	return &cp
}

// MediaSettings are the initial media flags a participant joins with
type MediaSettings struct {
	AudioEnabled *bool `json:"audioEnabled,omitempty"`
	VideoEnabled *bool `json:"videoEnabled,omitempty"`
}

// Resolve fills unset flags from the call type: audio always on, video on
// only for video calls
func (s MediaSettings) Resolve(callType CallType) (audio, video bool) {
	audio, video = true, callType == CallTypeVideo
	if s.AudioEnabled != nil {
		audio = *s.AudioEnabled
	}
	if s.VideoEnabled != nil {
		video = *s.VideoEnabled && callType == CallTypeVideo
	}
	return audio, video
}

// MediaType names a toggleable media track
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// IceServer is one entry of the RTCPeerConnection iceServers list
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
