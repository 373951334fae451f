package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	domsvc "InsiderWatch/internal/domain/service"
	"InsiderWatch/internal/services/alerts"
	"InsiderWatch/internal/services/metadata"
	"InsiderWatch/internal/services/normalizer"
	"InsiderWatch/internal/services/window"
	"InsiderWatch/pkg/logger"
)

// codePartialWindow marks a scored event that some trader window could not take.
const codePartialWindow = "partial_window"

// Scorer combines detector outputs for one feature vector.
type Scorer interface {
	Score(ctx context.Context, fv *models.FeatureVector) (models.AnomalyScore, error)
}

// EventProcessor runs one event through every stage synchronously. Callers must route
// all events of a security to the same partition.
type EventProcessor struct {
	normalizer *normalizer.Normalizer
	windows    *window.Store
	features   domsvc.FeatureEngine
	scorer     Scorer
	alerts     *alerts.Registry
	meta       *metadata.Holder
	metrics    domrepo.Metrics
	log        *logger.Logger
	hardCutoff time.Duration
	now        func() time.Time
}

func NewEventProcessor(
	n *normalizer.Normalizer,
	windows *window.Store,
	features domsvc.FeatureEngine,
	scorer Scorer,
	registry *alerts.Registry,
	meta *metadata.Holder,
	metrics domrepo.Metrics,
	log *logger.Logger,
	hardCutoff time.Duration,
) *EventProcessor {
	return &EventProcessor{
		normalizer: n,
		windows:    windows,
		features:   features,
		scorer:     scorer,
		alerts:     registry,
		meta:       meta,
		metrics:    metrics,
		log:        log,
		hardCutoff: hardCutoff,
		now:        time.Now,
	}
}

// WithClock replaces the clock used to stamp dispositions.
func (p *EventProcessor) WithClock(now func() time.Time) *EventProcessor {
	p.now = now
	return p
}

// Process normalizes raw and runs it on the given partition.
func (p *EventProcessor) Process(ctx context.Context, partition int, raw *models.RawTradeEvent) models.EventResult {
	start := time.Now()
	p.metrics.RecordEvent(string(models.StateReceived))

	ev, dup, err := p.normalizer.Normalize(ctx, raw)
	if err != nil {
		id := ""
		if raw != nil {
			id = raw.EventID
		}
		return p.finish(models.EventResult{Disposition: p.disposition(id, "", models.StateRejected, 1, err)}, start)
	}
	key := models.PairKey(ev.TraderID, ev.SecurityID)
	if dup {
		return p.finish(models.EventResult{Event: ev, Disposition: p.disposition(ev.EventID, key, models.StateDuplicate, 1, nil)}, start)
	}
	p.metrics.RecordEvent(string(models.StateNormalized))

	return p.finish(p.run(ctx, partition, ev, 1), start)
}

// Retry runs a deferred event a second and final time.
func (p *EventProcessor) Retry(ctx context.Context, partition int, ev *models.TradeEvent) models.EventResult {
	return p.finish(p.run(ctx, partition, ev, 2), time.Now())
}

func (p *EventProcessor) run(ctx context.Context, partition int, ev *models.TradeEvent, attempt int) models.EventResult {
	keys := models.KeysFor(ev)
	pair := keys[0]
	res := models.EventResult{Event: ev}

	if err := ctx.Err(); err != nil {
		if rerr := p.normalizer.Release(context.WithoutCancel(ctx), ev.EventID); rerr != nil {
			p.log.Warn("release canceled event", logger.String("event_id", ev.EventID), logger.Error(rerr))
		}
		res.Disposition = p.disposition(ev.EventID, pair, models.StateCanceled, attempt, err)
		return res
	}

	// pair and security keys live in this partition and are updated atomically. A
	// deferred event gets the hard cutoff as its tolerance on the second attempt.
	var closed []models.WindowAggregate
	var err error
	if attempt == 1 {
		closed, err = p.windows.UpdateAll(keys[:2], ev)
	} else {
		closed, err = p.windows.UpdateAllWithTolerance(keys[:2], ev, p.hardCutoff)
	}
	if err != nil {
		var late *models.LateEventError
		switch {
		case errors.As(err, &late) && attempt == 1 && late.Lateness <= p.hardCutoff:
			res.Disposition = p.disposition(ev.EventID, pair, models.StateDeferred, attempt, err)
		case errors.As(err, &late) && attempt > 1:
			res.Disposition = p.disposition(ev.EventID, pair, models.StateDropped, attempt, err)
		default:
			res.Disposition = p.disposition(ev.EventID, pair, models.StateRejected, attempt, err)
		}
		return res
	}
	// trader keys are fed by every partition, so they take the event in whichever of
	// their rings still hold its bucket
	more, missed := p.windows.Merge(keys[2], ev)
	res.Aggregates = append(closed, more...)
	var partial string
	if len(missed) > 0 {
		partial = fmt.Sprintf("%s windows %s already closed past revision", keys[2], durations(missed))
		p.log.Warn("trader window missed late event",
			logger.String("event_id", ev.EventID),
			logger.String("entity_key", string(keys[2])),
			logger.String("missed", durations(missed)),
		)
	}
	p.metrics.RecordEvent(string(models.StateWindowed))

	fv, err := p.features.Compute(ev)
	if err != nil {
		res.Disposition = p.disposition(ev.EventID, pair, models.StateRejected, attempt, err)
		return res
	}
	p.metrics.RecordEvent(string(models.StateFeatured))

	score, err := p.scorer.Score(ctx, fv)
	if err != nil {
		state := models.StateRejected
		if ctx.Err() != nil {
			state = models.StateCanceled
		}
		res.Disposition = p.disposition(ev.EventID, pair, state, attempt, err)
		return res
	}
	res.Score = &score
	p.metrics.RecordEvent(string(models.StateScored))

	// last point at which cancellation is honored
	if err := ctx.Err(); err != nil {
		res.Disposition = p.disposition(ev.EventID, pair, models.StateCanceled, attempt, err)
		return res
	}

	res.Alert = p.alerts.Partition(partition).Ingest(score)
	res.Disposition = p.disposition(ev.EventID, pair, models.StateScored, attempt, nil)
	if partial != "" {
		res.Disposition.Code, res.Disposition.Reason = codePartialWindow, partial
	}
	if res.Alert != nil {
		res.Disposition.State = models.StateAlerted
		res.Disposition.AlertID = res.Alert.AlertID
	}
	return res
}

// ProcessDisclosure adds a corporate event to the live metadata calendar.
func (p *EventProcessor) ProcessDisclosure(raw *models.RawDisclosureEvent) (*models.DisclosureEvent, bool, error) {
	d, err := p.normalizer.NormalizeDisclosure(raw)
	if err != nil {
		p.metrics.RecordError(models.ErrorCode(err))
		return nil, false, err
	}
	added := p.meta.AddDisclosure(*d)
	p.log.Info("disclosure received",
		logger.String("disclosure_id", d.DisclosureID),
		logger.String("security_id", d.SecurityID),
		logger.Bool("material", d.Material),
		logger.Bool("added", added),
	)
	return d, added, nil
}

func (p *EventProcessor) disposition(id string, key models.EntityKey, state models.EventState, attempt int, err error) models.Disposition {
	d := models.Disposition{
		EventID:   id,
		EntityKey: key,
		State:     state,
		Attempt:   attempt,
		At:        p.now().UTC(),
	}
	if err != nil {
		d.Reason = err.Error()
		d.Code = models.ErrorCode(err)
	}
	return d
}

func (p *EventProcessor) finish(res models.EventResult, start time.Time) models.EventResult {
	d := res.Disposition
	p.metrics.RecordEvent(string(d.State))
	p.metrics.RecordLatency("event_process", time.Since(start).Seconds())
	if d.Code != "" {
		p.metrics.RecordError(d.Code)
	}

	fields := []logger.Field{
		logger.String("event_id", d.EventID),
		logger.String("entity_key", string(d.EntityKey)),
		logger.String("state", string(d.State)),
		logger.Int("attempt", d.Attempt),
	}
	switch d.State {
	case models.StateAlerted:
		p.log.Info("alert opened", append(fields, logger.String("alert_id", d.AlertID), logger.Float64("score", res.Score.CombinedScore))...)
	case models.StateRejected, models.StateDropped:
		p.log.Warn("event not scored", append(fields, logger.String("code", d.Code), logger.String("reason", d.Reason))...)
	default:
		p.log.Debug("event processed", fields...)
	}
	return res
}

func durations(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
