// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a connection may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait is the deadline for a single frame write
	WebSocketWriteWait = 10 * time.Second

	// WebSocketMaxMessageSize bounds one inbound frame. It leaves room for a
	// MaxSDPSize offer after JSON escaping so the relay, not the socket,
	// rejects oversized SDP.
	WebSocketMaxMessageSize = 128 * 1024

	// WebSocketSendBuffer is the per-connection outbound queue length
	WebSocketSendBuffer = 256

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Call-related constants
const (
	// MaxP2PParticipants is the number of simultaneously active participants a p2p call allows
	MaxP2PParticipants = 2

	// MaxCallDuration is the age after which a live call is considered abandoned
	MaxCallDuration = 5 * time.Hour

	// ZombieSweepInterval is how often the reaper looks for abandoned calls
	ZombieSweepInterval = 30 * time.Minute

	// RingTimeout is how long an unanswered call rings before it is marked missed
	RingTimeout = 45 * time.Second
)

// Signaling constants
const (
	// MaxSDPSize is the largest accepted offer/answer payload in bytes
	MaxSDPSize = 50 * 1024

	// MaxICECandidateSize is the largest accepted ICE candidate in bytes
	MaxICECandidateSize = 1024
)

// Relay credential constants
const (
	// TurnCredentialTTL is the default lifetime of minted relay credentials
	TurnCredentialTTL = 24 * time.Hour

	// DefaultTurnSecret is the placeholder secret; a relay using it counts as unconfigured
	DefaultTurnSecret = "change-me-turn-secret"
)

// Rate limiter constants
const (
	// RateLimitSweepInterval is how often expired rate limit windows are dropped
	RateLimitSweepInterval = 1 * time.Minute
)
