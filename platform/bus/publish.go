package bus

import (
	"context"
	"fmt"

	"github.com/Nobert1/event-driven-systems/platform/event"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// PublishEvent encodes e and publishes it to the topic of its kind, keyed by
// the order id so one order stays on one partition.
func PublishEvent(ctx context.Context, p Publisher, e event.Event) error {
	topic := event.TopicOf(e)
	if topic == "" {
		return fmt.Errorf("publish: no topic for kind %s", e.Kind())
	}

	body, err := event.Encode(e)
	if err != nil {
		return err
	}

	ctx, span := observability.StartPublishSpan(ctx, topic, string(e.Kind()))
	err = p.Publish(ctx, Message{
		Topic:   topic,
		Key:     e.CorrelationID(),
		Body:    body,
		Headers: observability.InjectHeaders(ctx, map[string]string{"kind": string(e.Kind())}),
	})
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", e.Kind(), topic, err)
	}
	return nil
}
