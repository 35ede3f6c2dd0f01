package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// MediaConstraints mirror the capture settings requested from the
// provider.
type MediaConstraints struct {
	Audio AudioConstraints
	Video VideoConstraints
}

type AudioConstraints struct {
	Enabled          bool
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type VideoConstraints struct {
	Enabled bool
	Width   int
	Height  int
}

// MediaProvider supplies local media tracks and mute toggles. Capture
// and rendering are outside the coordination core; providers may be
// synthetic.
type MediaProvider interface {
	// AcquireTracks returns the local tracks to attach to a transport.
	AcquireTracks(ctx context.Context, constraints MediaConstraints) ([]webrtc.TrackLocal, error)

	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool

	Close() error
}
