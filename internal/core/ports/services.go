package ports

import (
	"context"

	"duocall/internal/core/domain"
)

// JoinResult is the outcome of a room admission attempt. Peer is empty
// while the caller is the sole occupant; the membership watch is the
// authority that eventually binds the peer for the waiting side.
type JoinResult struct {
	Role domain.Role
	Peer domain.ParticipantID
}

// RoomCoordinator owns admission into a two-slot room and the
// deterministic initiator assignment: the side that finds a populated
// room responds, the side that was waiting initiates once the watch
// reports a peer.
type RoomCoordinator interface {
	Join(ctx context.Context, roomID domain.RoomID, self domain.ParticipantID) (JoinResult, error)

	// Leave removes self from the room, deleting the room record when
	// membership drops to zero. Losing the delete race to the peer is
	// success.
	Leave(ctx context.Context, roomID domain.RoomID, self domain.ParticipantID) error

	// WatchMembership reports the other members of the room whenever
	// membership changes, including an empty slice when the peer has
	// left or the room record was deleted.
	WatchMembership(ctx context.Context, roomID domain.RoomID, self domain.ParticipantID, fn func(others []domain.ParticipantID)) (CancelFunc, error)
}

// SignalingRelay publishes the local side's negotiation records and
// applies the peer's records to the transport exactly once, in the
// only valid order.
type SignalingRelay interface {
	// Start subscribes to the peer's collections for the bound role:
	// responders watch offers, initiators watch answers, both watch
	// candidates. Received records are forwarded to the session's
	// inbox, not applied inline.
	Start(ctx context.Context) error

	// SendOffer creates the local offer, applies it locally and
	// publishes it. At most one negotiation round per side.
	SendOffer(ctx context.Context) error

	// PublishCandidate appends one locally gathered candidate record.
	PublishCandidate(ctx context.Context, c domain.CandidatePayload) error

	// HandleRemoteMessage applies a received record to the transport,
	// guarded for exactly-once application. Stale or duplicate records
	// are ignored without error; an offer triggers the local answer
	// synchronously; candidates arriving before the remote description
	// are buffered and flushed once it is accepted.
	HandleRemoteMessage(ctx context.Context, msg domain.SignalingMessage) error

	// Cleanup cancels every watch and deletes every record this
	// session wrote, best effort.
	Cleanup(ctx context.Context)
}

// MetricsRecorder receives coordination-level measurements. A nil-free
// no-op implementation is used when monitoring is disabled.
type MetricsRecorder interface {
	SessionStarted()
	SessionEnded(final domain.SessionState)
	MessageRelayed(kind domain.MessageType)
	StaleMessageDropped()
	StoreOperationFailed(op string)
	NegotiationCompleted(seconds float64)
	RTTSample(seconds float64)
}
