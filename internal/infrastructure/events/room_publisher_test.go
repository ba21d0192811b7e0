package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/contracts"
	"github.com/hilthontt/pokersync/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key     string
	message contracts.AmqpMessage
}

type fakeBroker struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (b *fakeBroker) PublishMessage(_ context.Context, key string, message contracts.AmqpMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, published{key: key, message: message})
	return nil
}

func (b *fakeBroker) ConsumeMessages(ctx context.Context, _ string, handler messaging.MessageHandler) error {
	b.mu.Lock()
	sent := append([]published(nil), b.sent...)
	b.mu.Unlock()

	for _, p := range sent {
		body, err := json.Marshal(p.message)
		if err != nil {
			return err
		}
		if err := handler(ctx, amqp.Delivery{RoutingKey: p.key, Body: body}); err != nil {
			return err
		}
	}
	return nil
}

func TestRoomPublisherRoutingKeys(t *testing.T) {
	broker := &fakeBroker{}
	p := NewRoomPublisher(broker)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	room := &domain.Room{ID: "id-1", RoomCode: "ABCD"}
	ctx := context.Background()

	require.NoError(t, p.RoomCreated(ctx, room))
	require.NoError(t, p.ParticipantJoined(ctx, room, "p1"))
	require.NoError(t, p.ParticipantKicked(ctx, room, "p2"))
	require.NoError(t, p.ParticipantLeft(ctx, room, "p1"))
	require.NoError(t, p.RoomEmptied(ctx, "ABCD"))
	require.NoError(t, p.RoomDeleted(ctx, "ABCD"))

	var keys []string
	for _, s := range broker.sent {
		keys = append(keys, s.key)
		assert.Equal(t, "ABCD", s.message.RoomCode)
	}
	assert.Equal(t, []string{
		contracts.EventRoomCreated,
		contracts.EventParticipantJoined,
		contracts.EventParticipantKicked,
		contracts.EventParticipantLeft,
		contracts.EventRoomEmptied,
		contracts.EventRoomDeleted,
	}, keys)
}

func TestRoomConsumerDecodesEvents(t *testing.T) {
	broker := &fakeBroker{}
	p := NewRoomPublisher(broker)
	require.NoError(t, p.ParticipantKicked(context.Background(), &domain.Room{RoomCode: "WXYZ"}, "p9"))

	var got []messaging.RoomEventData
	c := NewRoomConsumer(broker, messaging.RoomsQueue)
	err := c.Listen(context.Background(), func(key string, event messaging.RoomEventData) error {
		assert.Equal(t, contracts.EventParticipantKicked, key)
		got = append(got, event)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WXYZ", got[0].RoomCode)
	assert.Equal(t, "p9", got[0].ParticipantID)
	assert.False(t, got[0].OccurredAt.IsZero())
}

func TestRoomPublisherPropagatesBrokerErrors(t *testing.T) {
	broker := &fakeBroker{err: errors.New("channel closed")}
	p := NewRoomPublisher(broker)

	assert.Error(t, p.RoomDeleted(context.Background(), "ABCD"))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("nope"))
	assert.Error(t, err)
}
