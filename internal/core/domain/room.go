package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RoomID string
type ParticipantID string
type SessionID string

// Room is the two-slot rendezvous record shared through the signaling
// store. Users holds at most two participant ids in join order.
type Room struct {
	ID      RoomID          `json:"id"`
	Created time.Time       `json:"created"`
	Users   []ParticipantID `json:"users"`
}

const MaxRoomMembers = 2

// NormalizeRoomID upper-cases and trims a caller-supplied room id.
func NormalizeRoomID(raw string) RoomID {
	return RoomID(strings.ToUpper(strings.TrimSpace(raw)))
}

const roomIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateRoomID returns a random 9-character room id.
func GenerateRoomID() RoomID {
	b := make([]byte, 9)
	for i := range b {
		b[i] = roomIDAlphabet[rand.Intn(len(roomIDAlphabet))]
	}
	return RoomID(b)
}

// NewParticipantID generates a process-unique participant identity.
// The wall-clock prefix keeps ids readable in the store; the uuid
// suffix rules out same-instant collisions between two joiners.
func NewParticipantID() ParticipantID {
	return ParticipantID(fmt.Sprintf("user_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8]))
}

// Has reports whether id is a member of the room.
func (r *Room) Has(id ParticipantID) bool {
	for _, u := range r.Users {
		if u == id {
			return true
		}
	}
	return false
}

// Others returns the members of the room excluding self, in join order.
func (r *Room) Others(self ParticipantID) []ParticipantID {
	var others []ParticipantID
	for _, u := range r.Users {
		if u != self {
			others = append(others, u)
		}
	}
	return others
}

func (r *Room) Full() bool {
	return len(r.Users) >= MaxRoomMembers
}
