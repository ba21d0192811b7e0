package contracts

// AmqpMessage is the message structure for AMQP.
type AmqpMessage struct {
	RoomCode string `json:"roomCode"`
	Data     []byte `json:"data"`
}

// Routing keys for room lifecycle events
const (
	EventRoomCreated       = "room.created"
	EventRoomDeleted       = "room.deleted"
	EventRoomEmptied       = "room.emptied"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
	EventParticipantKicked = "participant.kicked"
)

// RoomEvents lists every routing key a room publisher emits.
var RoomEvents = []string{
	EventRoomCreated,
	EventRoomDeleted,
	EventRoomEmptied,
	EventParticipantJoined,
	EventParticipantLeft,
	EventParticipantKicked,
}
