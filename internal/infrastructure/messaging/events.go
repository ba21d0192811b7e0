package messaging

import (
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
)

const (
	RoomsQueue      = "rooms"
	DeadLetterQueue = "dead_letter_queue"
)

type RoomEventData struct {
	RoomCode      string       `json:"roomCode"`
	ParticipantID string       `json:"participantId,omitempty"`
	Room          *domain.Room `json:"room,omitempty"`
	OccurredAt    time.Time    `json:"occurredAt"`
}
