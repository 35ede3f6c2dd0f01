package services

import (
	"context"
	"testing"
	"time"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/internal/infrastructure/signalstore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSessionDeps(t *testing.T, store *memory.Store) (SessionDeps, *fakeTransportFactory) {
	t.Helper()

	factory := &fakeTransportFactory{}
	return SessionDeps{
		Store:           store,
		Coordinator:     NewRoomCoordinator(store, zaptest.NewLogger(t).Sugar()),
		Transports:      factory,
		Media:           &fakeMedia{},
		Metrics:         NopMetrics{},
		Logger:          zaptest.NewLogger(t).Sugar(),
		StatsInterval:   10 * time.Millisecond,
		TeardownTimeout: time.Second,
	}, factory
}

func TestSession_TwoPartyCallConnects(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	depsA, factoryA := newSessionDeps(t, store)
	depsB, factoryB := newSessionDeps(t, store)

	alice := NewSession("CALL1", depsA)
	require.NoError(t, alice.Start(ctx))
	assert.Equal(t, domain.RoleInitiator, alice.Role())
	assert.Equal(t, domain.StateWaiting, alice.State())

	bob := NewSession("CALL1", depsB)
	require.NoError(t, bob.Start(ctx))
	assert.Equal(t, domain.RoleResponder, bob.Role())

	require.Eventually(t, func() bool {
		return alice.State() == domain.StateConnected && bob.State() == domain.StateConnected
	}, 3*time.Second, 10*time.Millisecond, "both sides should reach connected")

	// Both transports applied the other side's description.
	kindA, sdpA := factoryA.transport(0).remoteDescription()
	assert.Equal(t, domain.MessageAnswer, kindA)
	assert.Equal(t, factoryB.transport(0).answerSDP, sdpA)

	kindB, sdpB := factoryB.transport(0).remoteDescription()
	assert.Equal(t, domain.MessageOffer, kindB)
	assert.Equal(t, factoryA.transport(0).offerSDP, sdpB)

	// Candidates flowed in both directions.
	require.Eventually(t, func() bool {
		return factoryA.transport(0).candidateCount() > 0 &&
			factoryB.transport(0).candidateCount() > 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.End(ctx))
	require.Eventually(t, func() bool {
		return bob.State() == domain.StateClosed
	}, 3*time.Second, 10*time.Millisecond, "survivor ends once the peer vanishes")

	// No call debris: room record and signaling collections are gone.
	_, err := store.Get(ctx, domain.RoomKey("CALL1"))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	for _, prefix := range []string{
		domain.OffersPrefix("CALL1"),
		domain.AnswersPrefix("CALL1"),
		domain.CandidatesPrefix("CALL1"),
	} {
		docs, listErr := store.List(ctx, prefix)
		require.NoError(t, listErr)
		assert.Empty(t, docs, "prefix %s should be empty after teardown", prefix)
	}
}

func TestSession_ThirdJoinerRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	depsA, _ := newSessionDeps(t, store)
	depsB, _ := newSessionDeps(t, store)
	depsC, _ := newSessionDeps(t, store)

	alice := NewSession("FULL1", depsA)
	require.NoError(t, alice.Start(ctx))
	defer alice.End(ctx)

	bob := NewSession("FULL1", depsB)
	require.NoError(t, bob.Start(ctx))
	defer bob.End(ctx)

	carol := NewSession("FULL1", depsC)
	err := carol.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	assert.Equal(t, domain.StateClosed, carol.State())
}

func TestSession_TransportFailureEndsSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	depsA, factoryA := newSessionDeps(t, store)
	depsB, _ := newSessionDeps(t, store)

	alice := NewSession("FAIL1", depsA)
	require.NoError(t, alice.Start(ctx))
	bob := NewSession("FAIL1", depsB)
	require.NoError(t, bob.Start(ctx))
	defer bob.End(ctx)

	require.Eventually(t, func() bool {
		return alice.State() == domain.StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	factoryA.transport(0).fireStateChange(domain.TransportFailed)

	require.Eventually(t, func() bool {
		return alice.State() == domain.StateClosed
	}, 3*time.Second, 10*time.Millisecond)

	// The transport was closed during teardown.
	tr := factoryA.transport(0)
	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	assert.True(t, closed)
}

func TestSession_StatsSampling(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	depsA, factoryA := newSessionDeps(t, store)
	depsB, _ := newSessionDeps(t, store)

	alice := NewSession("STAT1", depsA)
	require.NoError(t, alice.Start(ctx))
	defer alice.End(ctx)
	bob := NewSession("STAT1", depsB)
	require.NoError(t, bob.Start(ctx))
	defer bob.End(ctx)

	require.Eventually(t, func() bool {
		return alice.State() == domain.StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	tr := factoryA.transport(0)
	tr.mu.Lock()
	tr.stats = domain.ConnectionStats{
		BytesSent:     4096,
		BytesReceived: 8192,
		RoundTripTime: 30 * time.Millisecond,
		Quality:       domain.QualityExcellent,
		Timestamp:     time.Now(),
	}
	tr.mu.Unlock()

	require.Eventually(t, func() bool {
		stats := alice.LastStats()
		return stats != nil && stats.BytesSent == 4096
	}, 3*time.Second, 10*time.Millisecond, "stats loop should surface transport samples")
}

func TestSession_EndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	deps, _ := newSessionDeps(t, store)
	session := NewSession("IDEM1", deps)
	require.NoError(t, session.Start(ctx))

	require.NoError(t, session.End(ctx))
	require.NoError(t, session.End(ctx))
	assert.Equal(t, domain.StateClosed, session.State())
}

func TestSession_UpdatesChannelClosesOnEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	deps, _ := newSessionDeps(t, store)
	session := NewSession("UPD1", deps)
	require.NoError(t, session.Start(ctx))

	require.NoError(t, session.End(ctx))

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-session.Updates():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("updates channel never closed")
		}
	}
}

func TestSessionManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	deps, _ := newSessionDeps(t, store)
	manager := NewSessionManager(deps)

	session, err := manager.StartSession(ctx, "")
	require.NoError(t, err)
	assert.Len(t, string(session.RoomID()), 9, "blank room id should be generated")

	got, err := manager.GetSession(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, got)

	require.NoError(t, manager.EndSession(ctx, session.ID))
	_, err = manager.GetSession(session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = manager.GetSession("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionManager_NormalizesRoomID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defer store.Close()

	deps, _ := newSessionDeps(t, store)
	manager := NewSessionManager(deps)

	session, err := manager.StartSession(ctx, "  call42xyz ")
	require.NoError(t, err)
	defer manager.EndSession(ctx, session.ID)

	assert.Equal(t, domain.RoomID("CALL42XYZ"), session.RoomID())
}

var _ ports.MetricsRecorder = NopMetrics{}
