package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/contracts"
	"github.com/hilthontt/pokersync/internal/infrastructure/messaging"
)

// RoomEvents announces room lifecycle changes to the outside world.
type RoomEvents interface {
	RoomCreated(ctx context.Context, room *domain.Room) error
	RoomDeleted(ctx context.Context, roomCode string) error
	RoomEmptied(ctx context.Context, roomCode string) error
	ParticipantJoined(ctx context.Context, room *domain.Room, participantID string) error
	ParticipantLeft(ctx context.Context, room *domain.Room, participantID string) error
	ParticipantKicked(ctx context.Context, room *domain.Room, participantID string) error
}

type RoomPublisher struct {
	publisher messaging.Publisher
	now       func() time.Time
}

func NewRoomPublisher(publisher messaging.Publisher) *RoomPublisher {
	return &RoomPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

func (p *RoomPublisher) publish(ctx context.Context, routingKey string, payload messaging.RoomEventData) error {
	payload.OccurredAt = p.now().UTC()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return p.publisher.PublishMessage(ctx, routingKey, contracts.AmqpMessage{
		RoomCode: payload.RoomCode,
		Data:     data,
	})
}

func (p *RoomPublisher) RoomCreated(ctx context.Context, room *domain.Room) error {
	return p.publish(ctx, contracts.EventRoomCreated, messaging.RoomEventData{
		RoomCode: room.RoomCode,
		Room:     room,
	})
}

func (p *RoomPublisher) RoomDeleted(ctx context.Context, roomCode string) error {
	return p.publish(ctx, contracts.EventRoomDeleted, messaging.RoomEventData{
		RoomCode: roomCode,
	})
}

func (p *RoomPublisher) RoomEmptied(ctx context.Context, roomCode string) error {
	return p.publish(ctx, contracts.EventRoomEmptied, messaging.RoomEventData{
		RoomCode: roomCode,
	})
}

func (p *RoomPublisher) ParticipantJoined(ctx context.Context, room *domain.Room, participantID string) error {
	return p.publish(ctx, contracts.EventParticipantJoined, messaging.RoomEventData{
		RoomCode:      room.RoomCode,
		ParticipantID: participantID,
		Room:          room,
	})
}

func (p *RoomPublisher) ParticipantLeft(ctx context.Context, room *domain.Room, participantID string) error {
	return p.publish(ctx, contracts.EventParticipantLeft, messaging.RoomEventData{
		RoomCode:      room.RoomCode,
		ParticipantID: participantID,
		Room:          room,
	})
}

func (p *RoomPublisher) ParticipantKicked(ctx context.Context, room *domain.Room, participantID string) error {
	return p.publish(ctx, contracts.EventParticipantKicked, messaging.RoomEventData{
		RoomCode:      room.RoomCode,
		ParticipantID: participantID,
		Room:          room,
	})
}

type nopPublisher struct{}

// NewNopPublisher drops every event. Used when no broker is configured.
func NewNopPublisher() RoomEvents {
	return nopPublisher{}
}

func (nopPublisher) RoomCreated(context.Context, *domain.Room) error               { return nil }
func (nopPublisher) RoomDeleted(context.Context, string) error                     { return nil }
func (nopPublisher) RoomEmptied(context.Context, string) error                     { return nil }
func (nopPublisher) ParticipantJoined(context.Context, *domain.Room, string) error { return nil }
func (nopPublisher) ParticipantLeft(context.Context, *domain.Room, string) error   { return nil }
func (nopPublisher) ParticipantKicked(context.Context, *domain.Room, string) error { return nil }
