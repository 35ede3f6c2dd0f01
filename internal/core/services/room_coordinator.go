package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/pkg/tracing"

	"go.uber.org/zap"
)

type roomCoordinator struct {
	store  ports.SignalingStore
	logger *zap.SugaredLogger
}

func NewRoomCoordinator(store ports.SignalingStore, logger *zap.SugaredLogger) ports.RoomCoordinator {
	return &roomCoordinator{
		store:  store,
		logger: logger,
	}
}

// Join admits self into the room, creating the room record on first
// contact. The side that finds an existing occupant is designated
// responder; a first occupant waits and is promoted to initiator by
// the membership watch. Role follows join order, so re-entrant joins
// return the same binding.
func (c *roomCoordinator) Join(ctx context.Context, roomID domain.RoomID, self domain.ParticipantID) (ports.JoinResult, error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(roomID))
	defer span.End()

	var result ports.JoinResult

	err := c.store.Update(ctx, domain.RoomKey(roomID), func(old []byte) ([]byte, error) {
		room := domain.Room{ID: roomID, Created: time.Now()}
		if old != nil {
			if err := json.Unmarshal(old, &room); err != nil {
				return nil, fmt.Errorf("failed to unmarshal room %s: %w", roomID, err)
			}
		}

		if room.Has(self) {
			// Already a member: rebind without mutating.
			result = bindingFor(&room, self)
			return old, nil
		}

		others := room.Others(self)
		if len(others) >= domain.MaxRoomMembers {
			return nil, domain.ErrRoomFull
		}

		room.Users = append(room.Users, self)
		result = bindingFor(&room, self)

		data, err := json.Marshal(&room)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal room %s: %w", roomID, err)
		}
		return data, nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return ports.JoinResult{}, err
	}

	c.logger.Infow("joined room",
		"room_id", roomID,
		"participant_id", self,
		"role", result.Role,
		"peer_id", result.Peer,
	)
	return result, nil
}

// bindingFor derives the role from join order: the first occupant
// leads the negotiation once a peer appears, the second responds.
func bindingFor(room *domain.Room, self domain.ParticipantID) ports.JoinResult {
	result := ports.JoinResult{Role: domain.RoleInitiator}
	if len(room.Users) > 0 && room.Users[0] != self {
		result.Role = domain.RoleResponder
	}
	if others := room.Others(self); len(others) > 0 {
		result.Peer = others[0]
	}
	return result
}

// Leave removes self from membership and deletes the room record when
// it empties. The peer may be tearing down at the same instant; an
// already-gone room is success, not an error.
func (c *roomCoordinator) Leave(ctx context.Context, roomID domain.RoomID, self domain.ParticipantID) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "leave", string(roomID))
	defer span.End()

	err := c.store.Update(ctx, domain.RoomKey(roomID), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, nil
		}

		var room domain.Room
		if err := json.Unmarshal(old, &room); err != nil {
			// Unreadable room record during teardown: drop it.
			return nil, nil
		}

		remaining := room.Others(self)
		if len(remaining) == 0 {
			return nil, nil
		}

		room.Users = remaining
		return json.Marshal(&room)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to leave room %s: %w", roomID, err)
	}

	c.logger.Infow("left room", "room_id", roomID, "participant_id", self)
	return nil
}

func (c *roomCoordinator) WatchMembership(ctx context.Context, roomID domain.RoomID, self domain.ParticipantID, fn func(others []domain.ParticipantID)) (ports.CancelFunc, error) {
	key := domain.RoomKey(roomID)

	return c.store.Watch(ctx, key, func(ev ports.StoreEvent) {
		if ev.Doc.Key != key {
			return
		}
		if ev.Kind == ports.EventDelete {
			fn(nil)
			return
		}

		var room domain.Room
		if err := json.Unmarshal(ev.Doc.Value, &room); err != nil {
			c.logger.Warnw("skipping unreadable room record",
				"room_id", roomID,
				"error", err,
			)
			return
		}
		fn(room.Others(self))
	})
}
