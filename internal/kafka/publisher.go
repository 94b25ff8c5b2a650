package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cpsocial/internal/imtypes"
)

// DomainEventPublisher produces domain events keyed by the user they are
// about, so each user's events stay ordered.
type DomainEventPublisher struct {
	producer MessageProducer
	topic    string
}

func NewDomainEventPublisher(producer MessageProducer, topic string) *DomainEventPublisher {
	return &DomainEventPublisher{producer: producer, topic: topic}
}

func (p *DomainEventPublisher) Publish(ctx context.Context, evt imtypes.DomainEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal domain event: %w", err)
	}
	return p.producer.SendMessage(ctx, p.topic, uintKey(evt.TargetID), payload)
}

// RoomEventPublisher produces persisted room events keyed by room id. One
// partition per key keeps every room's events in commit order.
type RoomEventPublisher struct {
	producer MessageProducer
	topic    string
}

func NewRoomEventPublisher(producer MessageProducer, topic string) *RoomEventPublisher {
	return &RoomEventPublisher{producer: producer, topic: topic}
}

func (p *RoomEventPublisher) PublishRoomEvent(ctx context.Context, evt imtypes.RoomEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	return p.producer.SendMessage(ctx, p.topic, uintKey(evt.RoomID), payload)
}

func uintKey(id uint) []byte {
	return []byte(strconv.FormatUint(uint64(id), 10))
}
