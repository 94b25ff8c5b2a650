package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"cpsocial/internal/config"
)

// MessageHandler processes one consumed message. Returning nil commits its
// offset.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	offset   string
	log      *zap.Logger
}

// NewConfluentKafkaConsumer creates a consumer. The underlying client is
// created in Consume, once the group id is known. offsetReset is used when
// the group has no committed offset ("earliest" or "latest").
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, offsetReset string, log *zap.Logger) MessageConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	if offsetReset == "" {
		offsetReset = "earliest"
	}
	return &confluentKafkaConsumer{cfg: cfg, offset: offsetReset, log: log.Named("kafka.consumer")}
}

// Consume blocks until ctx is canceled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID
	log := c.log.With(zap.String("group", groupID))

	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.cfg.Brokers, ","),
		"group.id":           c.groupID,
		"auto.offset.reset":  c.offset,
		"enable.auto.commit": "false",
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}
	log.Info("kafka consumer started", zap.Strings("topics", topics))

	for {
		select {
		case <-ctx.Done():
			log.Info("kafka consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case *kafka.Message:
			fields := []zap.Field{zap.Stringp("topic", e.TopicPartition.Topic), zap.String("offset", e.TopicPartition.Offset.String())}
			if err := handler(ctx, e); err != nil {
				log.Error("processing kafka message failed", append(fields, zap.Error(err))...)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Warn("commit offset failed", append(fields, zap.Error(err))...)
			}
		case kafka.Error:
			if e.IsFatal() {
				log.Error("fatal kafka error", zap.Error(e))
				return e
			}
			log.Warn("kafka consumer error", zap.Error(e), zap.Bool("retriable", e.IsRetriable()))
		case kafka.AssignedPartitions:
			log.Info("partitions assigned", zap.Int("count", len(e.Partitions)))
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("partitions revoked", zap.Int("count", len(e.Partitions)))
			_ = c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.log.Warn("closing kafka consumer failed", zap.String("group", c.groupID), zap.Error(err))
	}
	c.consumer = nil
}
