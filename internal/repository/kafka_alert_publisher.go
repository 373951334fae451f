package repository

import (
	"context"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	pkgkafka "InsiderWatch/pkg/kafka"
)

// KafkaAlertPublisher publishes alert transitions keyed by entity, so every
// transition of one alert stays in order on one partition.
type KafkaAlertPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaAlertPublisher(producer *pkgkafka.Producer, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

func (p *KafkaAlertPublisher) PublishTransitions(ctx context.Context, ts []models.AlertTransition) error {
	if len(ts) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(ts))
	for i, t := range ts {
		msgs[i] = pkgkafka.Message{Key: []byte(t.EntityKey), Value: t}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaAlertPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.AlertSink = (*KafkaAlertPublisher)(nil)
