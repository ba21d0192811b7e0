package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/pokersync/internal/infrastructure/contracts"
	"github.com/hilthontt/pokersync/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer interface {
	ConsumeMessages(ctx context.Context, queueName string, handler messaging.MessageHandler) error
}

// RoomEventHandler receives one decoded lifecycle event.
type RoomEventHandler func(routingKey string, event messaging.RoomEventData) error

type RoomConsumer struct {
	consumer Consumer
	queue    string
}

func NewRoomConsumer(consumer Consumer, queue string) *RoomConsumer {
	return &RoomConsumer{
		consumer: consumer,
		queue:    queue,
	}
}

func (c *RoomConsumer) Listen(ctx context.Context, handle RoomEventHandler) error {
	return c.consumer.ConsumeMessages(ctx, c.queue, func(ctx context.Context, msg amqp.Delivery) error {
		event, err := Decode(msg.Body)
		if err != nil {
			return err
		}
		return handle(msg.RoutingKey, event)
	})
}

// Decode unwraps an AMQP envelope into its room event payload.
func Decode(body []byte) (messaging.RoomEventData, error) {
	var message contracts.AmqpMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return messaging.RoomEventData{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	var payload messaging.RoomEventData
	if err := json.Unmarshal(message.Data, &payload); err != nil {
		return messaging.RoomEventData{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return payload, nil
}
