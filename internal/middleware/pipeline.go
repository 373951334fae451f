package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	"InsiderWatch/pkg/logger"
)

// Proc is the per-event processor the pipeline drives.
type Proc interface {
	Process(ctx context.Context, partition int, raw *models.RawTradeEvent) models.EventResult
	Retry(ctx context.Context, partition int, ev *models.TradeEvent) models.EventResult
}

// Collector receives every result the pipeline produces.
type Collector interface {
	Collect(res models.EventResult)
}

// Pipeline fans events out to partition workers keyed by security. Events of one
// security are processed one at a time in arrival order.
type Pipeline struct {
	proc    Proc
	out     Collector
	metrics domrepo.Metrics
	log     *logger.Logger

	partitions int
	queueDepth int
	parts      []*partition

	ctx      context.Context
	mu       sync.RWMutex
	started  bool
	closed   bool
	stopping chan struct{}
	senders  sync.WaitGroup
	wg       sync.WaitGroup
}

type partition struct {
	idx      int
	queue    chan job
	deferred []*models.TradeEvent
}

type job struct {
	raw   *models.RawTradeEvent
	ctx   context.Context
	reply chan<- models.EventResult
	flush chan struct{}
}

type PipelineOption func(*Pipeline)

// WithPartitions sets the number of partition workers.
func WithPartitions(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.partitions = n
		}
	}
}

// WithQueueDepth sets the bounded queue size of each partition.
func WithQueueDepth(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

func NewPipeline(proc Proc, out Collector, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		proc:       proc,
		out:        out,
		metrics:    metrics,
		log:        log,
		partitions: 8,
		queueDepth: 1024,
		ctx:        context.Background(),
		stopping:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.parts = make([]*partition, p.partitions)
	for i := range p.parts {
		p.parts[i] = &partition{idx: i, queue: make(chan job, p.queueDepth)}
	}
	return p
}

// Partitions reports the partition count.
func (p *Pipeline) Partitions() int { return p.partitions }

// PartitionFor maps a security id to its partition.
func (p *Pipeline) PartitionFor(securityID string) int {
	sec := strings.ToUpper(strings.TrimSpace(securityID))
	return int(xxhash.Sum64String(sec) % uint64(p.partitions))
}

// Start launches the partition workers. Events are processed under ctx; cancel it only
// after Close to let queued events finish.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.ctx = ctx
	for _, part := range p.parts {
		p.wg.Add(1)
		go p.work(part)
	}
	p.log.Info("pipeline started", logger.Int("partitions", p.partitions), logger.Int("queue_depth", p.queueDepth))
}

// Submit enqueues raw without blocking. A full partition queue yields
// models.ErrBackpressure; the caller may retry later.
func (p *Pipeline) Submit(raw *models.RawTradeEvent) error {
	return p.enqueue(nil, p.jobFor(raw, nil))
}

// Enqueue blocks until raw is queued or ctx is done.
func (p *Pipeline) Enqueue(ctx context.Context, raw *models.RawTradeEvent) error {
	return p.enqueue(ctx, p.jobFor(raw, nil))
}

// Do submits raw without blocking and waits for its result. The event is processed
// under ctx as well as the pipeline context, so a caller that gives up cancels it.
func (p *Pipeline) Do(ctx context.Context, raw *models.RawTradeEvent) (models.EventResult, error) {
	reply := make(chan models.EventResult, 1)
	j := p.jobFor(raw, reply)
	j.ctx = ctx
	if err := p.enqueue(nil, j); err != nil {
		return models.EventResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return models.EventResult{}, ctx.Err()
	}
}

func (p *Pipeline) jobFor(raw *models.RawTradeEvent, reply chan<- models.EventResult) job {
	return job{raw: raw, reply: reply}
}

func (p *Pipeline) enqueue(ctx context.Context, j job) error {
	sec := ""
	if j.raw != nil {
		sec = j.raw.SecurityID
	}
	part := p.parts[p.PartitionFor(sec)]
	if err := p.send(ctx, part, j); err != nil {
		if errors.Is(err, models.ErrBackpressure) {
			p.metrics.RecordError("backpressure")
		}
		return err
	}
	p.metrics.RecordQueueDepth(part.idx, len(part.queue))
	return nil
}

// send queues j on part. A nil ctx makes it non-blocking. Close never waits on a
// blocked sender: it signals stopping first and closes the queues once every sender
// has returned.
func (p *Pipeline) send(ctx context.Context, part *partition, j job) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return models.ErrClosed
	}
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	if ctx == nil {
		select {
		case part.queue <- j:
			return nil
		case <-p.stopping:
			return models.ErrClosed
		default:
			return models.ErrBackpressure
		}
	}
	select {
	case part.queue <- j:
		return nil
	case <-p.stopping:
		return models.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every event queued before the call is processed and retries all
// deferred events. It needs running workers and fails with models.ErrNotStarted
// before Start.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return models.ErrNotStarted
	}

	waits := make([]chan struct{}, 0, len(p.parts))
	for _, part := range p.parts {
		done := make(chan struct{})
		if err := p.send(ctx, part, job{flush: done}); err != nil {
			return err
		}
		waits = append(waits, done)
	}
	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops intake, drains the queues, retries deferred events and waits for the
// workers.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopping)
	started := p.started
	p.mu.Unlock()

	p.senders.Wait()
	for _, part := range p.parts {
		close(part.queue)
	}

	if !started {
		for _, part := range p.parts {
			p.drain(part)
		}
		return
	}
	p.wg.Wait()
	p.log.Info("pipeline stopped")
}

func (p *Pipeline) work(part *partition) {
	defer p.wg.Done()
	p.drain(part)
}

func (p *Pipeline) drain(part *partition) {
	for j := range part.queue {
		if j.flush != nil {
			p.retryDeferred(part)
			close(j.flush)
			continue
		}

		pending := part.deferred
		part.deferred = nil

		res := p.process(part, j)
		p.emit(res)
		if j.reply != nil {
			j.reply <- res
		}
		if res.Disposition.State == models.StateDeferred && res.Event != nil {
			part.deferred = append(part.deferred, res.Event)
		}
		for _, ev := range pending {
			p.emit(p.proc.Retry(p.ctx, part.idx, ev))
		}
		p.metrics.RecordQueueDepth(part.idx, len(part.queue))
	}
	p.retryDeferred(part)
}

// process runs one event under the pipeline context, also cancelled when the
// submitting caller's context is.
func (p *Pipeline) process(part *partition, j job) models.EventResult {
	if j.ctx == nil {
		return p.proc.Process(p.ctx, part.idx, j.raw)
	}
	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()
	return p.proc.Process(ctx, part.idx, j.raw)
}

func (p *Pipeline) retryDeferred(part *partition) {
	pending := part.deferred
	part.deferred = nil
	for _, ev := range pending {
		p.emit(p.proc.Retry(p.ctx, part.idx, ev))
	}
}

func (p *Pipeline) emit(res models.EventResult) {
	if p.out != nil {
		p.out.Collect(res)
	}
}
