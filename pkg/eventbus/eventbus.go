// Package eventbus publishes execution lifecycle events to the message bus
// and hands inbound events to subscribers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/callwise/callflow/pkg/events"
)

// EventHandler processes one execution lifecycle event.
type EventHandler func(ctx context.Context, event *events.ExecutionEvent) error

type EventBus interface {
	Publish(ctx context.Context, event *events.ExecutionEvent) error
	Subscribe(ctx context.Context, handler EventHandler) error
	Close() error
}

// WatermillEventBus routes execution events over any watermill transport.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
	}
}

func (eb *WatermillEventBus) Publish(_ context.Context, event *events.ExecutionEvent) error {
	if event.ID == "" {
		event.ID = watermill.NewULID()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	msg := message.NewMessage(event.ID, payload)
	// Keyed by execution so a partitioned transport preserves per-execution
	// event order.
	msg.Metadata.Set("execution_id", event.ExecutionID)

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, handler EventHandler) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.Topic, err)
	}

	go func() {
		for msg := range messages {
			var event events.ExecutionEvent

			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, &event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}
