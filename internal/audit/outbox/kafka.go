package outbox

import (
	"context"

	"certo/internal/platform/kafka"
)

// Producer is the part of kafka.Producer the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, records []kafka.Record) error
}

// KafkaPublisher publishes outbox messages keyed by certificate id, so all
// entries for one certificate land on one partition in order.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(p Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	records := make([]kafka.Record, len(msgs))
	for i, m := range msgs {
		records[i] = kafka.Record{Key: []byte(m.Key), Value: m.Payload}
	}
	return k.producer.ProduceSync(ctx, records)
}
