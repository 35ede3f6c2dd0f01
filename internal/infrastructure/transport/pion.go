package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// Factory builds Pion-backed peer transports from static WebRTC
// configuration.
type Factory struct {
	webrtcConfig webrtc.Configuration
	api          *webrtc.API
	logger       *zap.SugaredLogger
}

var _ ports.TransportFactory = (*Factory)(nil)

// NewFactory translates application config into a Pion API handle.
// With no ICE servers configured the default public STUN set applies.
func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	var iceServers []webrtc.ICEServer
	for _, srv := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: config.DefaultICEServerURLs}}
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.WebRTC.PortRange.Min > 0 && cfg.WebRTC.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(cfg.WebRTC.PortRange.Min, cfg.WebRTC.PortRange.Max)
	}

	return &Factory{
		webrtcConfig: webrtc.Configuration{
			ICEServers:   iceServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
		},
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

// NewTransport creates a fresh peer connection for one negotiation
// attempt.
func (f *Factory) NewTransport(ctx context.Context) (ports.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.webrtcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &Transport{
		pc:     pc,
		logger: f.logger,
		done:   make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering finished
			return
		}
		t.mu.Lock()
		fn := t.onLocalCandidate
		t.mu.Unlock()
		if fn == nil {
			return
		}

		init := c.ToJSON()
		fn(domain.CandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.handleRemoteTrack(track, receiver)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		fn := t.onStateChange
		t.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})

	return t, nil
}

// Transport adapts one *webrtc.PeerConnection to the PeerTransport
// port. Remote tracks are drained on dedicated goroutines; video
// receivers get a periodic PLI so the sender refreshes keyframes.
type Transport struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu               sync.Mutex
	onLocalCandidate func(domain.CandidatePayload)
	onRemoteTrack    func(kind string)
	onStateChange    func(domain.TransportState)
	closed           bool

	done chan struct{}
}

var _ ports.PeerTransport = (*Transport)(nil)

func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	if _, err := t.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add local track: %w", err)
	}
	return nil
}

func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return offer.SDP, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return answer.SDP, nil
}

func (t *Transport) SetLocalDescription(kind domain.MessageType, sdp string) error {
	desc, err := sessionDescription(kind, sdp)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return nil
}

func (t *Transport) SetRemoteDescription(kind domain.MessageType, sdp string) error {
	desc, err := sessionDescription(kind, sdp)
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (t *Transport) AddRemoteCandidate(c domain.CandidatePayload) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	return nil
}

func (t *Transport) OnLocalCandidate(fn func(domain.CandidatePayload)) {
	t.mu.Lock()
	t.onLocalCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnRemoteTrack(fn func(kind string)) {
	t.mu.Lock()
	t.onRemoteTrack = fn
	t.mu.Unlock()
}

func (t *Transport) OnConnectionStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

func (t *Transport) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t.logger.Infow("remote track arrived",
		"track_id", track.ID(),
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	t.mu.Lock()
	fn := t.onRemoteTrack
	t.mu.Unlock()
	if fn != nil {
		fn(track.Kind().String())
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go t.sendPLI(track)
	}
	go t.drainTrack(track)
	go t.drainRTCP(receiver)
}

// drainTrack reads the remote RTP flow. Without a consumer the
// receiver's buffer fills and the connection degrades.
func (t *Transport) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				t.logger.Debugw("remote track read ended",
					"track_id", track.ID(),
					"error", err,
				)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("dropping malformed RTP packet",
				"track_id", track.ID(),
				"error", err,
			)
		}
	}
}

func (t *Transport) drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// sendPLI periodically requests keyframes for a remote video track.
func (t *Transport) sendPLI(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			err := t.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				t.logger.Debugw("failed to send PLI", "error", err)
				return
			}
		}
	}
}

// Stats samples the peer connection. Byte counts come from the
// transport-level stats; RTT from the nominated candidate pair.
func (t *Transport) Stats(ctx context.Context) (domain.ConnectionStats, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ConnectionStats{}, domain.ErrTransportClosed
	}
	t.mu.Unlock()

	report := t.pc.GetStats()

	stats := domain.ConnectionStats{Timestamp: time.Now()}
	for _, entry := range report {
		switch s := entry.(type) {
		case webrtc.TransportStats:
			stats.BytesSent += s.BytesSent
			stats.BytesReceived += s.BytesReceived
		case webrtc.ICECandidatePairStats:
			if s.State == webrtc.StatsICECandidatePairStateSucceeded && s.CurrentRoundTripTime > 0 {
				stats.RoundTripTime = time.Duration(s.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}
	stats.Quality = domain.QualityForRTT(stats.RoundTripTime)
	return stats, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	if err := t.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

func sessionDescription(kind domain.MessageType, sdp string) (webrtc.SessionDescription, error) {
	switch kind {
	case domain.MessageOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
	case domain.MessageAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("message type %q carries no description", kind)
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.TransportState {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.TransportClosed
	default:
		return domain.TransportConnecting
	}
}
