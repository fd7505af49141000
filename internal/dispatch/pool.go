package dispatch

import (
	"context"
	"sync"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/retry"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

type Handler interface {
	Dispatch(ctx context.Context, evt *models.InboundEvent) (Summary, error)
}

type PoolConfig struct {
	Workers   int
	QueueSize int
}

type job struct {
	ctx context.Context
	evt *models.InboundEvent
}

// Pool dispatches events on a fixed set of workers. When the queue is full the caller
// runs the dispatch itself, so intake never drops an event.
type Pool struct {
	handler Handler
	cfg     PoolConfig
	logger  logger.Logger

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewPool(handler Handler, cfg PoolConfig, log logger.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Pool{
		handler: handler,
		cfg:     cfg,
		logger:  log,
		jobs:    make(chan job, cfg.QueueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Infow("Dispatch workers started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		metrics.SetWorkerQueueSize(len(p.jobs))
		p.run(j.ctx, j.evt)
	}
	p.logger.Debugw("Dispatch worker stopped", "worker", id, "reason", ctx.Err())
}

// Submit queues the event without blocking. It returns false when the pool is stopped,
// not started or full.
func (p *Pool) Submit(ctx context.Context, evt *models.InboundEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.closed {
		return false
	}

	select {
	case p.jobs <- job{ctx: context.WithoutCancel(ctx), evt: evt}:
		metrics.SetWorkerQueueSize(len(p.jobs))
		return true
	default:
		return false
	}
}

// Process queues the event, falling back to an inline dispatch on the caller's
// goroutine when the queue cannot take it.
func (p *Pool) Process(ctx context.Context, evt *models.InboundEvent) error {
	if p.Submit(ctx, evt) {
		return nil
	}
	metrics.IncInlineFallback("queue_full")
	p.logger.WarnwCtx(ctx, "Dispatch queue unavailable, processing inline", "event_type", evt.EventType)
	return p.run(ctx, evt)
}

func (p *Pool) run(ctx context.Context, evt *models.InboundEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic recovered during dispatch", "error", err)
		}
	}()

	if _, err = p.handler.Dispatch(ctx, evt); err != nil {
		if retry.IsFatal(err) {
			p.logger.InfowCtx(ctx, "Event not delivered", "reason", err)
			return nil
		}
		p.logger.ErrorwCtx(ctx, "Dispatch failed", "error", err)
	}
	return err
}

// HandleEnvelope is the broker handler for the inbound topic. Events are dispatched
// inline so retryable failures reach the consumer's retry and DLQ path.
func (p *Pool) HandleEnvelope(ctx context.Context, msg models.Envelope) error {
	evt, err := models.ParseInboundEvent(msg.Payload)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Dropping malformed inbound event", "error", err, "message_id", msg.ID)
		return retry.NewFatalError(err)
	}
	return p.run(ctx, evt)
}

// Stop closes intake and waits for queued events to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	metrics.SetWorkerQueueSize(0)
}
