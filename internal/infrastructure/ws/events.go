package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hilthontt/pokersync/internal/domain"
)

// Inbound event names.
const (
	EventJoin                    = "Join"
	EventChangeName              = "ChangeName"
	EventVote                    = "Vote"
	EventUpdateVotingDescription = "UpdateVotingDescription"
	EventKick                    = "Kick"
	EventStartVoting             = "StartVoting"
	EventStopVoting              = "StopVoting"
	EventCloseRoom               = "CloseRoom"
)

// Outbound event names.
const (
	EventConnected  = "Connected"
	EventRoomUpdate = "RoomUpdate"
	EventKicked     = "Kicked"
	EventRoomClosed = "RoomClosed"
	EventError      = "Error"
)

// Heartbeat frames travel as bare text, never as JSON.
const (
	PingMessage = "PING"
	PongMessage = "PONG"
)

var inboundEvents = map[string]struct{}{
	EventJoin:                    {},
	EventChangeName:              {},
	EventVote:                    {},
	EventUpdateVotingDescription: {},
	EventKick:                    {},
	EventStartVoting:             {},
	EventStopVoting:              {},
	EventCloseRoom:               {},
}

// eventLabel bounds the metric label set to the known event names.
func eventLabel(event string) string {
	if _, ok := inboundEvents[event]; ok {
		return event
	}
	return "Unknown"
}

// InboundEvent is every client frame other than PING and PONG. Each event
// uses at most one of the payload fields.
type InboundEvent struct {
	Event  string `json:"event"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Target string `json:"target,omitempty"`
}

type ConnectedEvent struct {
	Event      string `json:"event"`
	UserID     string `json:"userId"`
	RoomExists bool   `json:"roomExists"`
}

// RoomUpdateEvent always carries the whole room.
type RoomUpdateEvent struct {
	Event    string       `json:"event"`
	RoomData *domain.Room `json:"roomData"`
}

type NoticeEvent struct {
	Event string `json:"event"`
}

type ErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutboundEvent is the union a client decodes before switching on Event.
type OutboundEvent struct {
	Event      string       `json:"event"`
	UserID     string       `json:"userId,omitempty"`
	RoomExists bool         `json:"roomExists,omitempty"`
	RoomData   *domain.Room `json:"roomData,omitempty"`
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
}

func NewConnectedEvent(userID string, roomExists bool) ConnectedEvent {
	return ConnectedEvent{Event: EventConnected, UserID: userID, RoomExists: roomExists}
}

func NewRoomUpdateEvent(room *domain.Room) RoomUpdateEvent {
	return RoomUpdateEvent{Event: EventRoomUpdate, RoomData: room}
}

func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Event: EventError, Code: domain.Code(err), Message: domain.PublicMessage(err)}
}

// DecodeInbound parses a client frame. Unknown fields are ignored so older
// clients keep working, but the event name is required.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(bytes.TrimSpace(data), &ev); err != nil {
		return InboundEvent{}, domain.Invalid(fmt.Errorf("malformed event: %w", err))
	}
	if ev.Event == "" {
		return InboundEvent{}, domain.Invalid(errors.New("event: this field is required"))
	}
	return ev, nil
}

// DecodeOutbound parses a server frame on the client side.
func DecodeOutbound(data []byte) (OutboundEvent, error) {
	var ev OutboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return OutboundEvent{}, err
	}
	return ev, nil
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
