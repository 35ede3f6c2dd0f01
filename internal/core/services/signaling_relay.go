package services

import (
	"context"
	"fmt"
	"sync"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// signalingRelay publishes local negotiation records and applies the
// peer's records to the transport. Write-once applied flags, not store
// delivery order, are what guarantee descriptions land before
// candidates: the store offers no ordering across collections.
type signalingRelay struct {
	store     ports.SignalingStore
	transport ports.PeerTransport
	roomID    domain.RoomID
	self      domain.ParticipantID
	peer      domain.ParticipantID
	role      domain.Role

	// inbox forwards received records to the owning session's event
	// queue so application happens serialized with every other handler.
	inbox func(domain.SignalingMessage)

	logger   *zap.SugaredLogger
	metrics  ports.MetricsRecorder
	retryCfg retry.Config

	mu            sync.Mutex
	offerSent     bool
	localApplied  bool
	remoteApplied bool
	pending       []domain.CandidatePayload
	written       []string
	cancels       []ports.CancelFunc
	stopped       bool
}

func NewSignalingRelay(
	store ports.SignalingStore,
	transport ports.PeerTransport,
	roomID domain.RoomID,
	self domain.ParticipantID,
	peer domain.ParticipantID,
	role domain.Role,
	inbox func(domain.SignalingMessage),
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) ports.SignalingRelay {
	return &signalingRelay{
		store:     store,
		transport: transport,
		roomID:    roomID,
		self:      self,
		peer:      peer,
		role:      role,
		inbox:     inbox,
		metrics:   metrics,
		logger:    logger,
		retryCfg:  retry.DefaultConfig(),
	}
}

// Start subscribes to the collections the bound role consumes: the
// responder watches offers, the initiator watches answers, both watch
// candidates.
func (r *signalingRelay) Start(ctx context.Context) error {
	descKind := domain.MessageAnswer
	if r.role == domain.RoleResponder {
		descKind = domain.MessageOffer
	}

	descCancel, err := r.store.Watch(ctx, domain.DescriptionPrefix(r.roomID, descKind), r.onStoreEvent)
	if err != nil {
		return fmt.Errorf("failed to watch %s collection: %w", descKind, err)
	}

	candCancel, err := r.store.Watch(ctx, domain.CandidatesPrefix(r.roomID), r.onStoreEvent)
	if err != nil {
		descCancel()
		return fmt.Errorf("failed to watch candidate collection: %w", err)
	}

	r.mu.Lock()
	r.cancels = append(r.cancels, descCancel, candCancel)
	r.mu.Unlock()

	r.logger.Debugw("relay watching",
		"room_id", r.roomID,
		"role", r.role,
		"description_kind", descKind,
	)
	return nil
}

// onStoreEvent decodes and pre-filters a store notification, then
// hands it to the session inbox. The store echoes local writes; those
// and records from unknown senders are dropped here.
func (r *signalingRelay) onStoreEvent(ev ports.StoreEvent) {
	if ev.Kind != ports.EventPut {
		return
	}

	msg, err := domain.DecodeSignalingMessage(ev.Doc.Value)
	if err != nil {
		r.metrics.StaleMessageDropped()
		r.logger.Debugw("dropping undecodable record", "key", ev.Doc.Key, "error", err)
		return
	}

	if msg.From == r.self || msg.From != r.peer {
		return
	}
	if msg.To != "" && msg.To != r.self {
		return
	}

	r.inbox(msg)
}

// SendOffer runs the initiator's half of the description exchange:
// create, apply locally, publish. At most one round per side.
func (r *signalingRelay) SendOffer(ctx context.Context) error {
	r.mu.Lock()
	if r.offerSent {
		r.mu.Unlock()
		return nil
	}
	r.offerSent = true
	r.mu.Unlock()

	sdp, err := r.transport.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := r.transport.SetLocalDescription(domain.MessageOffer, sdp); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}

	r.mu.Lock()
	r.localApplied = true
	r.mu.Unlock()

	return r.publishDescription(ctx, domain.NewOffer(r.self, r.peer, sdp))
}

func (r *signalingRelay) publishDescription(ctx context.Context, msg domain.SignalingMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	key := domain.DescriptionKey(r.roomID, msg.Type, r.self)
	if err := retry.Do(ctx, r.retryCfg, func() error {
		return r.store.Set(ctx, key, data)
	}); err != nil {
		r.metrics.StoreOperationFailed("set")
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}

	r.recordWrite(key)
	r.metrics.MessageRelayed(msg.Type)
	r.logger.Infow("published description", "kind", msg.Type, "room_id", r.roomID, "to", msg.To)
	return nil
}

// PublishCandidate appends one locally gathered candidate record
// addressed to the bound peer.
func (r *signalingRelay) PublishCandidate(ctx context.Context, c domain.CandidatePayload) error {
	msg := domain.NewCandidate(r.self, r.peer, c)
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	key := domain.CandidateKey(r.roomID, uuid.NewString())
	if err := retry.Do(ctx, r.retryCfg, func() error {
		return r.store.Set(ctx, key, data)
	}); err != nil {
		r.metrics.StoreOperationFailed("set")
		return fmt.Errorf("failed to publish candidate: %w", err)
	}

	r.recordWrite(key)
	r.metrics.MessageRelayed(domain.MessageCandidate)
	return nil
}

// HandleRemoteMessage applies one received record. Records that fail
// the applied guard are duplicates or out-of-phase deliveries and are
// dropped silently; that tolerance is what makes the protocol correct
// without cross-collection ordering.
func (r *signalingRelay) HandleRemoteMessage(ctx context.Context, msg domain.SignalingMessage) error {
	switch msg.Type {
	case domain.MessageOffer, domain.MessageAnswer:
		return r.handleRemoteDescription(ctx, msg)
	case domain.MessageCandidate:
		return r.handleRemoteCandidate(msg)
	default:
		r.metrics.StaleMessageDropped()
		return nil
	}
}

func (r *signalingRelay) handleRemoteDescription(ctx context.Context, msg domain.SignalingMessage) error {
	expected := domain.MessageAnswer
	if r.role == domain.RoleResponder {
		expected = domain.MessageOffer
	}

	r.mu.Lock()
	if r.remoteApplied || msg.Type != expected {
		r.mu.Unlock()
		r.metrics.StaleMessageDropped()
		return nil
	}
	r.mu.Unlock()

	if err := r.transport.SetRemoteDescription(msg.Type, msg.SDP); err != nil {
		return fmt.Errorf("failed to apply remote %s: %w", msg.Type, err)
	}

	r.mu.Lock()
	r.remoteApplied = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	r.metrics.MessageRelayed(msg.Type)
	r.logger.Infow("applied remote description", "kind", msg.Type, "from", msg.From)

	if msg.Type == domain.MessageOffer {
		if err := r.sendAnswer(ctx, msg.From); err != nil {
			return err
		}
	}

	// Candidates that arrived ahead of the description are valid now.
	for _, c := range pending {
		if err := r.transport.AddRemoteCandidate(c); err != nil {
			r.logger.Debugw("buffered candidate rejected by transport", "error", err)
		}
	}
	return nil
}

func (r *signalingRelay) sendAnswer(ctx context.Context, to domain.ParticipantID) error {
	sdp, err := r.transport.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := r.transport.SetLocalDescription(domain.MessageAnswer, sdp); err != nil {
		return fmt.Errorf("failed to set local answer: %w", err)
	}

	r.mu.Lock()
	r.localApplied = true
	r.mu.Unlock()

	return r.publishDescription(ctx, domain.NewAnswer(r.self, to, sdp))
}

func (r *signalingRelay) handleRemoteCandidate(msg domain.SignalingMessage) error {
	r.mu.Lock()
	if !r.remoteApplied {
		// Candidate before description: defer, never apply out of order.
		r.pending = append(r.pending, msg.Candidate)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.transport.AddRemoteCandidate(msg.Candidate); err != nil {
		// Duplicate delivery from the store shows up as a transport
		// rejection; that is a no-op, not a failure.
		r.logger.Debugw("candidate rejected by transport", "error", err)
		return nil
	}

	r.metrics.MessageRelayed(domain.MessageCandidate)
	return nil
}

func (r *signalingRelay) recordWrite(key string) {
	r.mu.Lock()
	r.written = append(r.written, key)
	r.mu.Unlock()
}

// Cleanup cancels the watches and deletes every record this session
// wrote. The room is being abandoned, so deletion failures are logged
// and swallowed.
func (r *signalingRelay) Cleanup(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancels := r.cancels
	written := r.written
	r.cancels = nil
	r.written = nil
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	for _, key := range written {
		if err := r.store.Delete(ctx, key); err != nil {
			r.metrics.StoreOperationFailed("delete")
			r.logger.Warnw("failed to delete signaling record", "key", key, "error", err)
		}
	}

	r.logger.Debugw("relay cleaned up", "room_id", r.roomID, "records_deleted", len(written))
}
