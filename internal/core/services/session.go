package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type eventKind int

const (
	evMembership eventKind = iota
	evMessage
	evLocalCandidate
	evTransportState
	evRemoteTrack
	evEnd
)

// sessionEvent is one item on the session's inbound queue. Store watch
// callbacks and transport callbacks all funnel through this queue, so
// handlers for one session never run concurrently.
type sessionEvent struct {
	kind      eventKind
	peers     []domain.ParticipantID
	msg       domain.SignalingMessage
	candidate domain.CandidatePayload
	transport domain.TransportState
	trackKind string
	done      chan struct{}
}

// SessionDeps bundles the collaborators a session needs. One value is
// shared by every session the manager creates.
type SessionDeps struct {
	Store       ports.SignalingStore
	Coordinator ports.RoomCoordinator
	Transports  ports.TransportFactory
	Media       ports.MediaProvider
	Metrics     ports.MetricsRecorder
	Logger      *zap.SugaredLogger
	Constraints ports.MediaConstraints

	// StatsInterval is the sampling period while connected.
	StatsInterval time.Duration

	// TeardownTimeout bounds best-effort store cleanup on close.
	TeardownTimeout time.Duration
}

// Session drives one local participant through a call: admission,
// role assignment, description/candidate relay, connection and
// teardown. It is owned by its creator and never shared through
// ambient state.
type Session struct {
	ID     domain.SessionID
	roomID domain.RoomID
	self   domain.ParticipantID

	deps SessionDeps
	log  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.RWMutex
	state            domain.SessionState
	role             domain.Role
	peer             domain.ParticipantID
	lastStats        *domain.ConnectionStats
	negotiationStart time.Time

	transport        ports.PeerTransport
	relay            ports.SignalingRelay
	membershipCancel ports.CancelFunc

	events  chan sessionEvent
	updates chan domain.StatusUpdate
	closed  chan struct{}
}

func NewSession(roomID domain.RoomID, deps SessionDeps) *Session {
	if deps.StatsInterval <= 0 {
		deps.StatsInterval = time.Second
	}
	if deps.TeardownTimeout <= 0 {
		deps.TeardownTimeout = 5 * time.Second
	}

	id := domain.SessionID(uuid.NewString())
	self := domain.NewParticipantID()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:      id,
		roomID:  roomID,
		self:    self,
		deps:    deps,
		log:     deps.Logger.With("session_id", id, "room_id", roomID, "participant_id", self),
		ctx:     ctx,
		cancel:  cancel,
		state:   domain.StateIdle,
		events:  make(chan sessionEvent, 128),
		updates: make(chan domain.StatusUpdate, 32),
		closed:  make(chan struct{}),
	}
}

// Start joins the room and begins the lifecycle. A RoomFull rejection
// surfaces to the caller and the session never starts.
func (s *Session) Start(ctx context.Context) error {
	ctx, span := tracing.TraceSessionOperation(ctx, "start", string(s.ID))
	defer span.End()

	s.setState(domain.StateAdmitting)

	result, err := s.deps.Coordinator.Join(ctx, s.roomID, s.self)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.abortStart()
		return fmt.Errorf("admission failed: %w", err)
	}

	s.mu.Lock()
	s.role = result.Role
	s.peer = result.Peer
	s.mu.Unlock()

	cancelWatch, err := s.deps.Coordinator.WatchMembership(s.ctx, s.roomID, s.self, func(others []domain.ParticipantID) {
		s.push(sessionEvent{kind: evMembership, peers: others})
	})
	if err != nil {
		// Undo the admission; no partial room state survives a failed
		// start.
		if leaveErr := s.deps.Coordinator.Leave(ctx, s.roomID, s.self); leaveErr != nil {
			s.log.Warnw("failed to leave room after aborted start", "error", leaveErr)
		}
		s.abortStart()
		return fmt.Errorf("failed to watch room membership: %w", err)
	}
	s.membershipCancel = cancelWatch

	s.setState(domain.StateWaiting)
	s.deps.Metrics.SessionStarted()
	go s.run()

	// A responder already knows its peer; the waiting side is promoted
	// by the membership watch. The queue keeps both paths serialized,
	// and the transport guard makes the duplicate delivery harmless.
	if result.Peer != "" {
		s.push(sessionEvent{kind: evMembership, peers: []domain.ParticipantID{result.Peer}})
	}
	return nil
}

// abortStart finalizes a session whose Start never succeeded.
func (s *Session) abortStart() {
	s.cancel()
	s.setState(domain.StateClosed)
	close(s.closed)
	close(s.updates)
}

// End closes the session. Safe to call at any point after Start; a
// second call is a no-op.
func (s *Session) End(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.events <- sessionEvent{kind: evEnd, done: done}:
	case <-s.closed:
		return nil
	}

	select {
	case <-done:
		return nil
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Updates exposes state changes and periodic stats samples to the
// surrounding application. The channel closes when the session does.
func (s *Session) Updates() <-chan domain.StatusUpdate {
	return s.updates
}

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) Peer() domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

func (s *Session) RoomID() domain.RoomID { return s.roomID }

func (s *Session) LastStats() *domain.ConnectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStats
}

// push enqueues an event unless the session has already terminated.
func (s *Session) push(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Session) run() {
	statsTicker := time.NewTicker(s.deps.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case ev := <-s.events:
			switch ev.kind {
			case evMembership:
				if s.handleMembership(ev.peers) {
					return
				}
			case evMessage:
				s.handleMessage(ev.msg)
			case evLocalCandidate:
				s.handleLocalCandidate(ev.candidate)
			case evTransportState:
				if s.handleTransportState(ev.transport) {
					return
				}
			case evRemoteTrack:
				s.handleRemoteTrack(ev.trackKind)
			case evEnd:
				s.teardown(domain.StateClosed)
				close(ev.done)
				return
			}
		case <-statsTicker.C:
			s.sampleStats()
		}
	}
}

// handleMembership reacts to the room's member set changing. Returns
// true when the session terminated.
func (s *Session) handleMembership(others []domain.ParticipantID) bool {
	if len(others) > 0 {
		s.mu.Lock()
		if s.peer == "" {
			s.peer = others[0]
		}
		bound := s.peer
		s.mu.Unlock()

		if bound != others[0] {
			// A different identity in a bound session is a stale record
			// from an earlier occupant; membership is not rebound.
			return false
		}
		s.ensureNegotiation()
		return false
	}

	// Peer vanished. Only meaningful once negotiation started; before
	// that an empty set is just our own half-filled room.
	s.mu.RLock()
	hadPeer := s.peer != "" && s.transport != nil
	s.mu.RUnlock()

	if hadPeer {
		s.log.Infow("peer left room, ending session")
		s.fail()
		return true
	}
	return false
}

// ensureNegotiation creates the transport and relay exactly once.
// The direct join path and a delayed membership notification can both
// land here; the existing-transport guard makes the second a no-op.
func (s *Session) ensureNegotiation() {
	s.mu.Lock()
	if s.transport != nil || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	role := s.role
	peer := s.peer
	s.negotiationStart = time.Now()
	s.mu.Unlock()

	transport, err := s.deps.Transports.NewTransport(s.ctx)
	if err != nil {
		s.log.Errorw("failed to create transport", "error", err)
		return
	}

	tracks, err := s.deps.Media.AcquireTracks(s.ctx, s.deps.Constraints)
	if err != nil {
		// A receive-only call is still a call.
		s.log.Warnw("failed to acquire local media", "error", err)
	}
	for _, track := range tracks {
		if err := transport.AddTrack(track); err != nil {
			s.log.Warnw("failed to add local track", "error", err)
		}
	}

	transport.OnLocalCandidate(func(c domain.CandidatePayload) {
		s.push(sessionEvent{kind: evLocalCandidate, candidate: c})
	})
	transport.OnRemoteTrack(func(kind string) {
		s.push(sessionEvent{kind: evRemoteTrack, trackKind: kind})
	})
	transport.OnConnectionStateChange(func(st domain.TransportState) {
		s.push(sessionEvent{kind: evTransportState, transport: st})
	})

	relay := NewSignalingRelay(
		s.deps.Store, transport, s.roomID, s.self, peer, role,
		func(msg domain.SignalingMessage) {
			s.push(sessionEvent{kind: evMessage, msg: msg})
		},
		s.deps.Metrics, s.log,
	)
	if err := relay.Start(s.ctx); err != nil {
		s.log.Errorw("failed to start relay", "error", err)
		_ = transport.Close()
		return
	}

	s.mu.Lock()
	s.transport = transport
	s.relay = relay
	s.mu.Unlock()

	s.setState(domain.StateNegotiating)
	s.log.Infow("negotiating", "role", role, "peer_id", peer)

	if role == domain.RoleInitiator {
		if err := relay.SendOffer(s.ctx); err != nil {
			s.log.Errorw("failed to send offer", "error", err)
		}
	}
}

func (s *Session) handleMessage(msg domain.SignalingMessage) {
	s.mu.RLock()
	relay := s.relay
	s.mu.RUnlock()
	if relay == nil {
		return
	}

	if err := relay.HandleRemoteMessage(s.ctx, msg); err != nil {
		// The transport's own state change will fail the session if
		// negotiation is truly broken.
		s.log.Warnw("failed to apply remote message", "kind", msg.Type, "error", err)
	}
}

func (s *Session) handleLocalCandidate(c domain.CandidatePayload) {
	s.mu.RLock()
	relay := s.relay
	s.mu.RUnlock()
	if relay == nil {
		return
	}

	if err := relay.PublishCandidate(s.ctx, c); err != nil {
		s.log.Warnw("failed to publish candidate", "error", err)
	}
}

func (s *Session) handleTransportState(st domain.TransportState) bool {
	s.log.Debugw("transport state changed", "transport_state", st)
	if !st.Terminal() {
		return false
	}
	if s.State() == domain.StateClosed {
		return false
	}

	s.log.Infow("transport reached terminal state", "transport_state", st)
	s.fail()
	return true
}

func (s *Session) handleRemoteTrack(kind string) {
	if s.State() != domain.StateNegotiating {
		return
	}

	s.setState(domain.StateConnected)

	s.mu.RLock()
	started := s.negotiationStart
	s.mu.RUnlock()
	if !started.IsZero() {
		s.deps.Metrics.NegotiationCompleted(time.Since(started).Seconds())
	}
	s.log.Infow("remote media arrived", "track_kind", kind)
}

func (s *Session) sampleStats() {
	s.mu.RLock()
	transport := s.transport
	connected := s.state == domain.StateConnected
	s.mu.RUnlock()
	if !connected || transport == nil {
		return
	}

	stats, err := transport.Stats(s.ctx)
	if err != nil {
		s.log.Debugw("failed to sample stats", "error", err)
		return
	}

	s.mu.Lock()
	s.lastStats = &stats
	s.mu.Unlock()

	if stats.RoundTripTime > 0 {
		s.deps.Metrics.RTTSample(stats.RoundTripTime.Seconds())
	}
	s.notify(domain.StatusUpdate{
		SessionID: s.ID,
		State:     domain.StateConnected,
		Stats:     &stats,
		Timestamp: time.Now(),
	})
}

// fail reports the failure state and then runs the full close path:
// no partial state is left behind for the coordinator.
func (s *Session) fail() {
	s.setState(domain.StateFailed)
	s.teardown(domain.StateClosed)
}

func (s *Session) teardown(final domain.SessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.TeardownTimeout)
	defer cancel()

	if s.membershipCancel != nil {
		s.membershipCancel()
	}

	s.mu.Lock()
	relay := s.relay
	transport := s.transport
	s.relay = nil
	s.transport = nil
	s.mu.Unlock()

	if relay != nil {
		relay.Cleanup(ctx)
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			s.log.Debugw("transport close failed", "error", err)
		}
	}

	if err := s.deps.Coordinator.Leave(ctx, s.roomID, s.self); err != nil {
		s.log.Warnw("failed to leave room", "error", err)
	}

	s.cancel()
	s.setState(final)
	s.deps.Metrics.SessionEnded(final)
	close(s.closed)
	close(s.updates)
	s.log.Infow("session ended", "final_state", final)
}

func (s *Session) setState(st domain.SessionState) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	s.notify(domain.StatusUpdate{SessionID: s.ID, State: st, Timestamp: time.Now()})
}

// notify pushes an update without ever blocking the event loop; a slow
// consumer loses samples, not the session.
func (s *Session) notify(update domain.StatusUpdate) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.updates <- update:
	default:
	}
}
