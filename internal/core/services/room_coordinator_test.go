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

func newTestCoordinator(t *testing.T) (ports.RoomCoordinator, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	t.Cleanup(func() { store.Close() })
	return NewRoomCoordinator(store, zaptest.NewLogger(t).Sugar()), store
}

func TestJoin_FirstOccupantWaitsAsInitiator(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	result, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInitiator, result.Role)
	assert.Empty(t, result.Peer, "sole occupant has no peer yet")
}

func TestJoin_SecondOccupantResponds(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)

	result, err := coordinator.Join(ctx, "ROOM1", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleResponder, result.Role)
	assert.Equal(t, domain.ParticipantID("alice"), result.Peer)
}

func TestJoin_ThirdOccupantRejected(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)
	_, err = coordinator.Join(ctx, "ROOM1", "bob")
	require.NoError(t, err)

	_, err = coordinator.Join(ctx, "ROOM1", "carol")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
}

func TestJoin_ReentrantKeepsBinding(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)
	_, err = coordinator.Join(ctx, "ROOM1", "bob")
	require.NoError(t, err)

	again, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInitiator, again.Role)
	assert.Equal(t, domain.ParticipantID("bob"), again.Peer)

	// Membership unchanged
	_, err = coordinator.Join(ctx, "ROOM1", "carol")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
}

func TestJoin_ConcurrentJoinsYieldOneInitiator(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]ports.JoinResult, 2)
	errs := make([]error, 2)
	ids := []domain.ParticipantID{"alice", "bob"}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coordinator.Join(ctx, "RACE1", ids[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	initiators := 0
	for _, r := range results {
		if r.Role == domain.RoleInitiator {
			initiators++
		}
	}
	assert.Equal(t, 1, initiators, "exactly one side must lead the negotiation")
}

func TestLeave_LastOccupantDeletesRoom(t *testing.T) {
	coordinator, store := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)
	_, err = coordinator.Join(ctx, "ROOM1", "bob")
	require.NoError(t, err)

	require.NoError(t, coordinator.Leave(ctx, "ROOM1", "bob"))

	value, err := store.Get(ctx, domain.RoomKey("ROOM1"))
	require.NoError(t, err, "room survives while one member remains")
	assert.Contains(t, string(value), "alice")

	require.NoError(t, coordinator.Leave(ctx, "ROOM1", "alice"))
	_, err = store.Get(ctx, domain.RoomKey("ROOM1"))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestLeave_AbsentRoomIsSuccess(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	assert.NoError(t, coordinator.Leave(context.Background(), "GONE1", "alice"))
}

func TestWatchMembership_ReportsJoinsAndDeparture(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coordinator.Join(ctx, "ROOM1", "alice")
	require.NoError(t, err)

	var mu sync.Mutex
	var snapshots [][]domain.ParticipantID
	cancel, err := coordinator.WatchMembership(ctx, "ROOM1", "alice", func(others []domain.ParticipantID) {
		mu.Lock()
		snapshots = append(snapshots, others)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	_, err = coordinator.Join(ctx, "ROOM1", "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range snapshots {
			if len(s) == 1 && s[0] == "bob" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "watch should report the peer joining")

	require.NoError(t, coordinator.Leave(ctx, "ROOM1", "bob"))
	require.NoError(t, coordinator.Leave(ctx, "ROOM1", "alice"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) > 0 && len(snapshots[len(snapshots)-1]) == 0
	}, time.Second, 5*time.Millisecond, "watch should report the room emptying")
}
