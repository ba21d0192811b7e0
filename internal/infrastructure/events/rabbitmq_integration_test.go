//go:build integration

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/contracts"
	"github.com/hilthontt/pokersync/internal/infrastructure/messaging"
	"github.com/hilthontt/pokersync/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	key   string
	event messaging.RoomEventData
}

func TestRoomEventsOverRabbitMQ(t *testing.T) {
	uri := testutils.StartRabbitMQ(t)
	const exchange = "pokersync.test"

	consumerConn, err := messaging.NewRabbitMQ(uri, exchange)
	require.NoError(t, err)
	t.Cleanup(consumerConn.Close)
	require.NoError(t, consumerConn.DeclareAndBindQueue(messaging.RoomsQueue, contracts.RoomEvents))
	require.NoError(t, consumerConn.Healthy())

	publisherConn, err := messaging.NewRabbitMQ(uri, exchange)
	require.NoError(t, err)
	t.Cleanup(publisherConn.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := make(chan received, 8)
	done := make(chan error, 1)
	go func() {
		done <- NewRoomConsumer(consumerConn, messaging.RoomsQueue).Listen(ctx, func(key string, ev messaging.RoomEventData) error {
			got <- received{key: key, event: ev}
			return nil
		})
	}()

	room, err := domain.NewRoom(nil)
	require.NoError(t, err)

	pub := NewRoomPublisher(publisherConn)
	require.NoError(t, pub.RoomCreated(ctx, room))
	require.NoError(t, pub.ParticipantKicked(ctx, room, "p-2"))
	require.NoError(t, pub.RoomDeleted(ctx, room.RoomCode))

	var keys []string
	for range 3 {
		select {
		case r := <-got:
			keys = append(keys, r.key)
			assert.Equal(t, room.RoomCode, r.event.RoomCode)
			if r.key == contracts.EventParticipantKicked {
				assert.Equal(t, "p-2", r.event.ParticipantID)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("only received %v", keys)
		}
	}
	assert.Equal(t, []string{
		contracts.EventRoomCreated,
		contracts.EventParticipantKicked,
		contracts.EventRoomDeleted,
	}, keys)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	publisherConn.Close()
	assert.Error(t, publisherConn.Healthy())
}
