package repository

import (
	"context"
	"time"

	"InsiderWatch/internal/domain/models"
)

// SeenStore remembers processed event ids. MarkSeen reports true the first time an id is seen.
type SeenStore interface {
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type AlertSink interface {
	PublishTransitions(ctx context.Context, transitions []models.AlertTransition) error
}

type DispositionSink interface {
	RecordDispositions(ctx context.Context, dispositions []models.Disposition) error
}

type AggregateSink interface {
	StoreAggregates(ctx context.Context, aggregates []models.WindowAggregate) error
}

// AuditStore is the append-only persistence for everything the pipeline emits.
type AuditStore interface {
	Init(ctx context.Context) error
	AlertSink
	DispositionSink
	AggregateSink
	Health(ctx context.Context) error
	Close() error
}

type MetadataSource interface {
	Load(ctx context.Context) (*models.MetadataSnapshot, error)
}

type Metrics interface {
	RecordEvent(state string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordQueueDepth(partition int, depth int)
	RecordAlertTransition(kind string)
	SetOpenAlerts(n int)
}
