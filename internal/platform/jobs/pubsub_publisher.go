package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/deshtopup/storefront/internal/services"
)

// PubSubCartEventPublisher publishes cart mutations to a Pub/Sub topic for downstream analytics.
type PubSubCartEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

func NewPubSubCartEventPublisher(topic *pubsub.Topic) (*PubSubCartEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub cart publisher: topic is required")
	}
	return &PubSubCartEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishCartEvent blocks until the server acknowledges the message.
func (p *PubSubCartEventPublisher) PublishCartEvent(ctx context.Context, event services.CartEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub cart publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal cart event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "ownerKind", ownerKind(event.OwnerKey))
	setAttr(attrs, "itemId", event.ItemID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(p.topic, event.OwnerKey),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish cart event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubCartEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func ownerKind(ownerKey string) string {
	kind, _, ok := strings.Cut(ownerKey, ":")
	if !ok {
		return ""
	}
	return kind
}

func orderingKey(topic *pubsub.Topic, ownerKey string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return ownerKey
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
