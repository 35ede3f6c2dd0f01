package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duocall/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const sampleInterval = 20 * time.Millisecond

// opusSilence is a minimal valid Opus frame. Pumping it keeps the
// audio m-line alive when the toggle is off or no real capture exists.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticProvider fabricates local tracks without touching capture
// hardware. The audio track carries silence at the standard 20ms
// packetization; the video track is negotiated but idle until a real
// source writes to it.
type SyntheticProvider struct {
	logger *zap.SugaredLogger

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	closed       bool
	done         chan struct{}
}

var _ ports.MediaProvider = (*SyntheticProvider)(nil)

func NewSyntheticProvider(logger *zap.SugaredLogger) *SyntheticProvider {
	return &SyntheticProvider{
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (p *SyntheticProvider) AcquireTracks(ctx context.Context, constraints ports.MediaConstraints) ([]webrtc.TrackLocal, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("media provider closed")
	}
	p.audioEnabled = constraints.Audio.Enabled
	p.videoEnabled = constraints.Video.Enabled
	p.mu.Unlock()

	streamID := "duocall-" + uuid.New().String()[:8]
	var tracks []webrtc.TrackLocal

	if constraints.Audio.Enabled {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio",
			streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		tracks = append(tracks, audio)
		go p.pumpAudio(audio)
	}

	if constraints.Video.Enabled {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video",
			streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	p.logger.Debugw("acquired synthetic tracks",
		"audio", constraints.Audio.Enabled,
		"video", constraints.Video.Enabled,
		"width", constraints.Video.Width,
		"height", constraints.Video.Height,
	)
	return tracks, nil
}

func (p *SyntheticProvider) pumpAudio(track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if !p.AudioEnabled() {
				continue
			}
			err := track.WriteSample(media.Sample{
				Data:     opusSilence,
				Duration: sampleInterval,
			})
			if err != nil {
				p.logger.Debugw("audio pump stopped", "error", err)
				return
			}
		}
	}
}

func (p *SyntheticProvider) SetAudioEnabled(enabled bool) {
	p.mu.Lock()
	p.audioEnabled = enabled
	p.mu.Unlock()
}

func (p *SyntheticProvider) SetVideoEnabled(enabled bool) {
	p.mu.Lock()
	p.videoEnabled = enabled
	p.mu.Unlock()
}

func (p *SyntheticProvider) AudioEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioEnabled
}

func (p *SyntheticProvider) VideoEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoEnabled
}

func (p *SyntheticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}
