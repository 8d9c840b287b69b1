package domain

// Client to server events
const (
	EventCallInitiate    = "call:initiate"
	EventCallJoin        = "call:join"
	EventCallLeave       = "call:leave"
	EventCallEnd         = "call:end"
	EventCallDecline     = "call:decline"
	EventCallSignal      = "call:signal"
	EventCallToggleAudio = "call:toggle-audio"
	EventCallToggleVideo = "call:toggle-video"
)

// Server to client events
const (
	EventCallInitiated         = "call:initiated"
	EventCallJoined            = "call:joined"
	EventCallParticipantJoined = "call:participant-joined"
	EventCallParticipantLeft   = "call:participant-left"
	EventCallEnded             = "call:ended"
	EventCallRejected          = "call:rejected"
	EventCallSignalReceived    = "call:signal-received"
	EventCallMediaToggled      = "call:media-toggled"
	EventCallError             = "call:error"
)

// Conversation channel subscription
const (
	EventConversationSubscribe   = "conversation:subscribe"
	EventConversationUnsubscribe = "conversation:unsubscribe"
	EventConversationSubscribed  = "conversation:subscribed"
)
