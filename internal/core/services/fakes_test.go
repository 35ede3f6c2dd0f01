package services

import (
	"context"
	"fmt"
	"sync"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// fakeTransport stands in for a peer connection. Setting the remote
// description fires the remote-track callback, which is how the real
// transport behaves once negotiation lands.
type fakeTransport struct {
	mu sync.Mutex

	offerSDP  string
	answerSDP string

	localKind  domain.MessageType
	localSDP   string
	remoteKind domain.MessageType
	remoteSDP  string

	remoteCandidates []domain.CandidatePayload
	tracks           []webrtc.TrackLocal

	onLocalCandidate func(domain.CandidatePayload)
	onRemoteTrack    func(kind string)
	onStateChange    func(domain.TransportState)

	stats      domain.ConnectionStats
	setRemote  error // forced error for SetRemoteDescription
	closed     bool
	closeCount int
}

var _ ports.PeerTransport = (*fakeTransport)(nil)

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		offerSDP:  "offer-sdp-" + name,
		answerSDP: "answer-sdp-" + name,
	}
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (string, error) {
	return f.offerSDP, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (string, error) {
	return f.answerSDP, nil
}

func (f *fakeTransport) SetLocalDescription(kind domain.MessageType, sdp string) error {
	f.mu.Lock()
	f.localKind = kind
	f.localSDP = sdp
	fn := f.onLocalCandidate
	f.mu.Unlock()

	// Gathering starts once a local description exists.
	if fn != nil {
		fn(domain.CandidatePayload{Candidate: "candidate:fake 1 udp 1 198.51.100.1 9 typ host"})
	}
	return nil
}

func (f *fakeTransport) SetRemoteDescription(kind domain.MessageType, sdp string) error {
	f.mu.Lock()
	if f.setRemote != nil {
		err := f.setRemote
		f.mu.Unlock()
		return err
	}
	f.remoteKind = kind
	f.remoteSDP = sdp
	fn := f.onRemoteTrack
	f.mu.Unlock()

	if fn != nil {
		fn("audio")
	}
	return nil
}

func (f *fakeTransport) AddRemoteCandidate(c domain.CandidatePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteCandidates = append(f.remoteCandidates, c)
	return nil
}

func (f *fakeTransport) OnLocalCandidate(fn func(domain.CandidatePayload)) {
	f.mu.Lock()
	f.onLocalCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnRemoteTrack(fn func(kind string)) {
	f.mu.Lock()
	f.onRemoteTrack = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnConnectionStateChange(fn func(domain.TransportState)) {
	f.mu.Lock()
	f.onStateChange = fn
	f.mu.Unlock()
}

func (f *fakeTransport) fireStateChange(st domain.TransportState) {
	f.mu.Lock()
	fn := f.onStateChange
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakeTransport) Stats(ctx context.Context) (domain.ConnectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return domain.ConnectionStats{}, domain.ErrTransportClosed
	}
	return f.stats, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCount++
	return nil
}

func (f *fakeTransport) remoteDescription() (domain.MessageType, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteKind, f.remoteSDP
}

func (f *fakeTransport) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remoteCandidates)
}

// fakeTransportFactory hands out pre-named transports in creation order
// and remembers them for assertions.
type fakeTransportFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
}

var _ ports.TransportFactory = (*fakeTransportFactory)(nil)

func (f *fakeTransportFactory) NewTransport(ctx context.Context) (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newFakeTransport(fmt.Sprintf("t%d", len(f.created)))
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeTransportFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.created) {
		return nil
	}
	return f.created[i]
}

// fakeMedia returns no tracks; the sessions under test are signaling
// exercises, not media ones.
type fakeMedia struct {
	audio bool
	video bool
}

var _ ports.MediaProvider = (*fakeMedia)(nil)

func (m *fakeMedia) AcquireTracks(ctx context.Context, constraints ports.MediaConstraints) ([]webrtc.TrackLocal, error) {
	return nil, nil
}
func (m *fakeMedia) SetAudioEnabled(enabled bool) { m.audio = enabled }
func (m *fakeMedia) SetVideoEnabled(enabled bool) { m.video = enabled }
func (m *fakeMedia) AudioEnabled() bool           { return m.audio }
func (m *fakeMedia) VideoEnabled() bool           { return m.video }
func (m *fakeMedia) Close() error                 { return nil }
