package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"cpsocial/internal/imtypes"
)

// UserNotifier delivers an envelope to every local connection of a user and
// drops those connections from rooms the user has left.
type UserNotifier interface {
	NotifyUser(userID uint, env imtypes.Envelope) int
	EvictFromRoom(userID, roomID uint) int
}

// DomainEventHandler turns domain events from the API server into
// notification envelopes for the affected user.
type DomainEventHandler struct {
	notifier UserNotifier
	log      *zap.Logger
}

func NewDomainEventHandler(notifier UserNotifier, log *zap.Logger) *DomainEventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DomainEventHandler{notifier: notifier, log: log.Named("domain_events")}
}

// Handle is a kafka.MessageHandler. Malformed messages are skipped so they do
// not block the partition.
func (h *DomainEventHandler) Handle(_ context.Context, msg *kafka.Message) error {
	var evt imtypes.DomainEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.log.Warn("skipping malformed domain event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}
	if evt.TargetID == 0 || evt.Type == "" {
		return nil
	}
	if evt.Type == imtypes.DomainRoomMemberRemoved && evt.ObjectID != 0 {
		evicted := h.notifier.EvictFromRoom(evt.TargetID, evt.ObjectID)
		h.log.Debug("member evicted from room",
			zap.Uint("target", evt.TargetID),
			zap.Uint("room", evt.ObjectID),
			zap.Int("connections", evicted))
	}

	env, err := imtypes.NewEnvelope(imtypes.EventNotification, evt)
	if err != nil {
		return err
	}
	delivered := h.notifier.NotifyUser(evt.TargetID, env)
	h.log.Debug("domain event delivered",
		zap.String("type", evt.Type),
		zap.Uint("target", evt.TargetID),
		zap.Int("connections", delivered))
	return nil
}
