package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	pkgkafka "InsiderWatch/pkg/kafka"
)

// EventSubmitter is the pipeline entry point used by transports.
type EventSubmitter interface {
	Do(ctx context.Context, raw *models.RawTradeEvent) (models.EventResult, error)
}

// KafkaTradesHandler feeds trade messages into the pipeline. It returns only after the
// event is processed, so offsets are committed for handled events only.
type KafkaTradesHandler struct {
	topic    string
	pipeline EventSubmitter
	metrics  domrepo.Metrics
}

func NewKafkaTradesHandler(topic string, pipeline EventSubmitter, metrics domrepo.Metrics) *KafkaTradesHandler {
	return &KafkaTradesHandler{topic: topic, pipeline: pipeline, metrics: metrics}
}

func (h *KafkaTradesHandler) Topic() string { return h.topic }

// Handle returns models.ErrBackpressure when the partition is full; the consumer
// retries it.
func (h *KafkaTradesHandler) Handle(ctx context.Context, b []byte) error {
	var raw models.RawTradeEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &models.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if _, err := h.pipeline.Do(ctx, &raw); err != nil {
		return fmt.Errorf("submit %s: %w", raw.EventID, err)
	}
	return nil
}

// DisclosureProcessor accepts corporate events.
type DisclosureProcessor interface {
	ProcessDisclosure(raw *models.RawDisclosureEvent) (*models.DisclosureEvent, bool, error)
}

type KafkaDisclosuresHandler struct {
	topic   string
	proc    DisclosureProcessor
	metrics domrepo.Metrics
}

func NewKafkaDisclosuresHandler(topic string, proc DisclosureProcessor, metrics domrepo.Metrics) *KafkaDisclosuresHandler {
	return &KafkaDisclosuresHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaDisclosuresHandler) Topic() string { return h.topic }

func (h *KafkaDisclosuresHandler) Handle(_ context.Context, b []byte) error {
	var raw models.RawDisclosureEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &models.ValidationError{Field: "payload", Reason: err.Error()}
	}
	_, _, err := h.proc.ProcessDisclosure(&raw)
	return err
}

// IsPermanent reports errors that no retry can fix.
func IsPermanent(err error) bool {
	var ve *models.ValidationError
	return errors.As(err, &ve)
}

var (
	_ pkgkafka.MessageHandler = (*KafkaTradesHandler)(nil)
	_ pkgkafka.MessageHandler = (*KafkaDisclosuresHandler)(nil)
)

// IsBackpressure reports errors that clear once the pipeline catches up.
func IsBackpressure(err error) bool {
	return errors.Is(err, models.ErrBackpressure)
}
