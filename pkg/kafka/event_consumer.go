package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/jobqueue"
)

// EventConsumer reads domain events off the platform event topic and turns
// each into a plan-notification job. Planning itself runs on the worker
// pool, so a slow plan never stalls the consumer group.
type EventConsumer struct {
	consumer sarama.ConsumerGroup
	topic    string
	queue    jobqueue.Queue
	logger   *zap.Logger
}

func NewEventConsumer(brokers []string, groupID, topic string, queue jobqueue.Queue, logger *zap.Logger) (*EventConsumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &EventConsumer{
		consumer: consumer,
		topic:    topic,
		queue:    queue,
		logger:   logger,
	}, nil
}

func (c *EventConsumer) Start(ctx context.Context) error {
	handler := &eventHandler{queue: c.queue, logger: c.logger}

	for {
		if err := c.consumer.Consume(ctx, []string{c.topic}, handler); err != nil {
			c.logger.Error("event consumer error", zap.Error(err))
		}
		if ctx.Err() != nil {
			c.logger.Info("context cancelled, shutting down event consumer")
			return nil
		}
	}
}

func (c *EventConsumer) Close() error {
	return c.consumer.Close()
}

type eventHandler struct {
	queue  jobqueue.Queue
	logger *zap.Logger
}

func (h *eventHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("event consumer session started")
	return nil
}

func (h *eventHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("event consumer session ended")
	return nil
}

func (h *eventHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var ev domain.DomainEvent
		if err := json.Unmarshal(message.Value, &ev); err != nil {
			h.logger.Warn("skip undecodable domain event",
				zap.Int64("offset", message.Offset), zap.Error(err))
			session.MarkMessage(message, "")
			continue
		}
		if ev.TenantID == "" || ev.EventType == "" {
			h.logger.Warn("skip domain event without tenant or type",
				zap.String("event_id", ev.EventID))
			session.MarkMessage(message, "")
			continue
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			session.MarkMessage(message, "")
			continue
		}

		ctx, cancel := context.WithTimeout(session.Context(), 5*time.Second)
		err = h.queue.Enqueue(ctx, jobqueue.Job{
			Type:    jobqueue.TypePlanNotification,
			Payload: payload,
		}, jobqueue.Options{Priority: "high"})
		cancel()
		if err != nil {
			// Leave the message unmarked so the group redelivers it.
			h.logger.Error("enqueue plan job failed",
				zap.String("event_id", ev.EventID), zap.Error(err))
			return err
		}

		session.MarkMessage(message, "")
	}
	return nil
}
