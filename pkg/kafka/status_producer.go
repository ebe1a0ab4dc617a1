package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// DeliveryStatusMessage is published on every terminal delivery transition
// for downstream audit consumers.
type DeliveryStatusMessage struct {
	TenantID      string    `json:"tenant_id"`
	MessageID     string    `json:"message_id"`
	DeliveryID    string    `json:"delivery_id"`
	Channel       string    `json:"channel"`
	ProviderCode  string    `json:"provider_code"`
	Status        string    `json:"status"`
	AttemptCount  int       `json:"attempt_count"`
	ErrorCategory string    `json:"error_category,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatusProducer publishes delivery status events. Callers treat publishes
// as non-critical writes: failures are logged by the caller and never
// propagate into the delivery path.
type StatusProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewStatusProducer(brokers []string, topic string) (*StatusProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create status producer: %w", err)
	}

	return &StatusProducer{producer: producer, topic: topic}, nil
}

func (p *StatusProducer) Publish(msg *DeliveryStatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.DeliveryID), // keep one delivery's events ordered
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	return nil
}

func (p *StatusProducer) Close() error {
	return p.producer.Close()
}
