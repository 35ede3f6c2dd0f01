package ports

import (
	"context"

	"duocall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerTransport is the opaque NAT-traversal and encrypted-media
// capability behind one call leg. Implementations own the peer
// connection; the relay and session drive it through this interface
// and never touch ICE or DTLS directly.
type PeerTransport interface {
	// AddTrack attaches a local media track before negotiation.
	AddTrack(track webrtc.TrackLocal) error

	// CreateOffer produces the local offer SDP without applying it.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer produces the local answer SDP. Valid only after a
	// remote offer has been applied.
	CreateAnswer(ctx context.Context) (string, error)

	SetLocalDescription(kind domain.MessageType, sdp string) error
	SetRemoteDescription(kind domain.MessageType, sdp string) error

	// AddRemoteCandidate applies one remote ICE candidate. Duplicate
	// candidates are tolerated by the underlying agent.
	AddRemoteCandidate(c domain.CandidatePayload) error

	// OnLocalCandidate registers the handler for locally gathered
	// candidates. Gathering stops implicitly when the transport closes.
	OnLocalCandidate(fn func(domain.CandidatePayload))

	// OnRemoteTrack fires when remote media arrives; kind is the track
	// kind ("audio" or "video").
	OnRemoteTrack(fn func(kind string))

	OnConnectionStateChange(fn func(domain.TransportState))

	// Stats returns one statistics sample for the connection.
	Stats(ctx context.Context) (domain.ConnectionStats, error)

	Close() error
}

// TransportFactory builds one PeerTransport per negotiation attempt.
type TransportFactory interface {
	NewTransport(ctx context.Context) (PeerTransport, error)
}
