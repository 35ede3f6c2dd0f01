package domain

import "time"

// Role is the fixed negotiation role of one side of the call. The
// initiator proposes the session description first. Assignment is
// final for the lifetime of a session.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// SessionState is the lifecycle state of one local participant.
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateAdmitting   SessionState = "admitting"
	StateWaiting     SessionState = "waiting"
	StateNegotiating SessionState = "negotiating"
	StateConnected   SessionState = "connected"
	StateFailed      SessionState = "failed"
	StateClosed      SessionState = "closed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateClosed
}

// TransportState is the connection state reported by the peer
// transport, reduced to what the lifecycle cares about.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Terminal reports whether the transport cannot recover on its own.
// Any terminal transport state drives the session to Failed.
func (s TransportState) Terminal() bool {
	return s == TransportDisconnected || s == TransportFailed || s == TransportClosed
}

// StatusUpdate is pushed to the surrounding application on every
// state change and, while connected, with periodic stats samples.
type StatusUpdate struct {
	SessionID SessionID        `json:"session_id"`
	State     SessionState     `json:"state"`
	Stats     *ConnectionStats `json:"stats,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
