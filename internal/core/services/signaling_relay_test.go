package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/internal/infrastructure/signalstore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type relayFixture struct {
	store     *memory.Store
	transport *fakeTransport
	relay     ports.SignalingRelay

	mu    sync.Mutex
	inbox []domain.SignalingMessage
}

func newRelayFixture(t *testing.T, store *memory.Store, self, peer domain.ParticipantID, role domain.Role) *relayFixture {
	t.Helper()

	f := &relayFixture{
		store:     store,
		transport: newFakeTransport(string(self)),
	}
	f.relay = NewSignalingRelay(
		store, f.transport, "RELAY1", self, peer, role,
		func(msg domain.SignalingMessage) {
			f.mu.Lock()
			f.inbox = append(f.inbox, msg)
			f.mu.Unlock()
		},
		NopMetrics{},
		zaptest.NewLogger(t).Sugar(),
	)
	return f
}

func (f *relayFixture) received() []domain.SignalingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SignalingMessage, len(f.inbox))
	copy(out, f.inbox)
	return out
}

func TestSendOffer_PublishesOncePerSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	f := newRelayFixture(t, store, "alice", "bob", domain.RoleInitiator)

	require.NoError(t, f.relay.SendOffer(ctx))

	value, err := store.Get(ctx, domain.OfferKey("RELAY1", "alice"))
	require.NoError(t, err)
	msg, err := domain.DecodeSignalingMessage(value)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageOffer, msg.Type)
	assert.Equal(t, f.transport.offerSDP, msg.SDP)
	assert.Equal(t, domain.ParticipantID("bob"), msg.To)
	assert.Equal(t, domain.MessageOffer, f.transport.localKind)

	// Second call is a no-op, not a second negotiation round.
	require.NoError(t, f.relay.SendOffer(ctx))
	docs, err := store.List(ctx, domain.OffersPrefix("RELAY1"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestResponder_AppliesOfferAndAnswers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	f := newRelayFixture(t, store, "bob", "alice", domain.RoleResponder)
	require.NoError(t, f.relay.Start(ctx))

	offer := domain.NewOffer("alice", "bob", "offer-from-alice")
	data, err := offer.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.OfferKey("RELAY1", "alice"), data))

	require.Eventually(t, func() bool {
		return len(f.received()) == 1
	}, time.Second, 5*time.Millisecond, "watched offer should reach the inbox")

	require.NoError(t, f.relay.HandleRemoteMessage(ctx, f.received()[0]))

	kind, sdp := f.transport.remoteDescription()
	assert.Equal(t, domain.MessageOffer, kind)
	assert.Equal(t, "offer-from-alice", sdp)

	// The answer is created, applied locally and published in one step.
	value, err := store.Get(ctx, domain.AnswerKey("RELAY1", "bob"))
	require.NoError(t, err)
	answer, err := domain.DecodeSignalingMessage(value)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageAnswer, answer.Type)
	assert.Equal(t, f.transport.answerSDP, answer.SDP)
	assert.Equal(t, domain.ParticipantID("alice"), answer.To)
}

func TestHandleRemoteMessage_DuplicateDescriptionDropped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	f := newRelayFixture(t, store, "bob", "alice", domain.RoleResponder)

	offer := domain.NewOffer("alice", "bob", "first-offer")
	require.NoError(t, f.relay.HandleRemoteMessage(ctx, offer))

	dup := domain.NewOffer("alice", "bob", "replayed-offer")
	require.NoError(t, f.relay.HandleRemoteMessage(ctx, dup))

	_, sdp := f.transport.remoteDescription()
	assert.Equal(t, "first-offer", sdp, "replay must not reapply the description")

	// Only one answer was published.
	docs, err := store.List(ctx, domain.AnswersPrefix("RELAY1"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestHandleRemoteMessage_WrongPhaseDescriptionDropped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	// A responder expects an offer; a stray answer is out of phase.
	f := newRelayFixture(t, store, "bob", "alice", domain.RoleResponder)

	answer := domain.NewAnswer("alice", "bob", "unexpected-answer")
	require.NoError(t, f.relay.HandleRemoteMessage(ctx, answer))

	_, sdp := f.transport.remoteDescription()
	assert.Empty(t, sdp)
}

func TestHandleRemoteMessage_CandidatesBufferedUntilDescription(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	f := newRelayFixture(t, store, "bob", "alice", domain.RoleResponder)

	early := domain.NewCandidate("alice", "bob", domain.CandidatePayload{Candidate: "candidate:early"})
	require.NoError(t, f.relay.HandleRemoteMessage(ctx, early))
	assert.Zero(t, f.transport.candidateCount(), "candidate must wait for the description")

	offer := domain.NewOffer("alice", "bob", "offer-sdp")
	require.NoError(t, f.relay.HandleRemoteMessage(ctx, offer))
	assert.Equal(t, 1, f.transport.candidateCount(), "buffered candidate flushes after the description")

	late := domain.NewCandidate("alice", "bob", domain.CandidatePayload{Candidate: "candidate:late"})
	require.NoError(t, f.relay.HandleRemoteMessage(ctx, late))
	assert.Equal(t, 2, f.transport.candidateCount())
}

func TestOnStoreEvent_FiltersEchoAndStrangers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	f := newRelayFixture(t, store, "bob", "alice", domain.RoleResponder)
	require.NoError(t, f.relay.Start(ctx))

	// Echo of our own write
	own := domain.NewCandidate("bob", "alice", domain.CandidatePayload{Candidate: "candidate:own"})
	ownData, err := own.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.CandidateKey("RELAY1", "own"), ownData))

	// Record from an unknown sender
	stranger := domain.NewCandidate("mallory", "bob", domain.CandidatePayload{Candidate: "candidate:stranger"})
	strangerData, err := stranger.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.CandidateKey("RELAY1", "stranger"), strangerData))

	// Record addressed to someone else
	misaddressed := domain.NewCandidate("alice", "carol", domain.CandidatePayload{Candidate: "candidate:misaddressed"})
	misData, err := misaddressed.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.CandidateKey("RELAY1", "mis"), misData))

	// Garbled record
	require.NoError(t, store.Set(ctx, domain.CandidateKey("RELAY1", "junk"), []byte("junk")))

	// The one legitimate record
	legit := domain.NewCandidate("alice", "bob", domain.CandidatePayload{Candidate: "candidate:legit"})
	legitData, err := legit.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.CandidateKey("RELAY1", "legit"), legitData))

	require.Eventually(t, func() bool {
		return len(f.received()) >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	msgs := f.received()
	require.Len(t, msgs, 1, "only the peer's addressed record survives filtering")
	assert.Equal(t, "candidate:legit", msgs[0].Candidate.Candidate)
}

func TestCleanup_DeletesEverythingWritten(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	f := newRelayFixture(t, store, "alice", "bob", domain.RoleInitiator)
	require.NoError(t, f.relay.Start(ctx))
	require.NoError(t, f.relay.SendOffer(ctx))
	require.NoError(t, f.relay.PublishCandidate(ctx, domain.CandidatePayload{Candidate: "candidate:one"}))
	require.NoError(t, f.relay.PublishCandidate(ctx, domain.CandidatePayload{Candidate: "candidate:two"}))

	offers, err := store.List(ctx, domain.OffersPrefix("RELAY1"))
	require.NoError(t, err)
	require.Len(t, offers, 1)
	candidates, err := store.List(ctx, domain.CandidatesPrefix("RELAY1"))
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	f.relay.Cleanup(ctx)

	offers, err = store.List(ctx, domain.OffersPrefix("RELAY1"))
	require.NoError(t, err)
	assert.Empty(t, offers)
	candidates, err = store.List(ctx, domain.CandidatesPrefix("RELAY1"))
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// Second cleanup is a no-op.
	f.relay.Cleanup(ctx)
}
