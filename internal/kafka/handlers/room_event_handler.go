package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"cpsocial/internal/imtypes"
)

// RoomDeliverer broadcasts an already persisted event to local members of a
// room.
type RoomDeliverer interface {
	DeliverToRoom(roomID uint, env imtypes.Envelope)
}

// RoomEventHandler relays room events produced by other gateway instances.
type RoomEventHandler struct {
	instanceID string
	rooms      RoomDeliverer
	log        *zap.Logger
}

// NewRoomEventHandler ignores events whose origin is instanceID; those were
// already delivered locally.
func NewRoomEventHandler(instanceID string, rooms RoomDeliverer, log *zap.Logger) *RoomEventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomEventHandler{instanceID: instanceID, rooms: rooms, log: log.Named("room_relay")}
}

func (h *RoomEventHandler) Handle(_ context.Context, msg *kafka.Message) error {
	var evt imtypes.RoomEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.log.Warn("skipping malformed room event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}
	if evt.Origin == h.instanceID || evt.RoomID == 0 {
		return nil
	}
	h.rooms.DeliverToRoom(evt.RoomID, evt.Envelope)
	return nil
}
