// Package batcher implements the C6 inference batcher: it coalesces
// concurrent single-item score(features) calls into batchScore([...]) calls
// against the active Scorer, amortizing per-call overhead.
package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
)

var tracer = otel.Tracer("adapter.batcher")

type pendingCall struct {
	features []float32
	resultCh chan scoreResult
}

type scoreResult struct {
	score float32
	err   error
}

// pendingBatch accumulates calls while OPEN; once handed to dispatch it is
// FLUSHING and accepts no further calls.
type pendingBatch struct {
	calls     []*pendingCall
	startedAt time.Time
}

// Batcher is the C6 capability implementation. A per-batcher mutex guards
// the accumulation buffer; a semaphore of width Workers bounds concurrent
// batchScore executions, the same shared-resource discipline the
// mutex-guarded counter structs elsewhere in this codebase use for
// background work.
type Batcher struct {
	cfg    config.Config
	scorer domain.Scorer

	mu      sync.Mutex
	current *pendingBatch
	timer   *time.Timer

	sem chan struct{}

	pendingDepth    atomic.Int64
	batchesFlushed  atomic.Int64
	itemsScored     atomic.Int64
	timeouts        atomic.Int64
	overloads       atomic.Int64
	inferenceErrors atomic.Int64
}

// New constructs a Batcher over scorer.
func New(cfg config.Config, scorer domain.Scorer) *Batcher {
	workers := cfg.BatcherWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Batcher{
		cfg:    cfg,
		scorer: scorer,
		sem:    make(chan struct{}, workers),
	}
}

func (b *Batcher) maxQueueDepth() int64 {
	mult := b.cfg.BatcherMaxQueueMult
	if mult <= 0 {
		mult = 8
	}
	size := b.cfg.BatcherMaxBatchSize
	if size <= 0 {
		size = 64
	}
	return int64(mult * size)
}

// Score enqueues features and blocks until the enclosing batch is scored,
// the per-call deadline elapses, or ctx is cancelled.
func (b *Batcher) Score(ctx domain.Context, features []float32) (float32, error) {
	ctx, span := tracer.Start(ctx, "batcher.Score")
	defer span.End()

	if b.pendingDepth.Load() >= b.maxQueueDepth() {
		b.overloads.Add(1)
		observability.BatcherErrorsTotal.WithLabelValues("overloaded").Inc()
		return 0, domain.NewError(domain.KindOverloaded, "inference batcher queue full", domain.ErrOverloaded)
	}

	call := &pendingCall{features: features, resultCh: make(chan scoreResult, 1)}
	b.enqueue(call)
	b.pendingDepth.Add(1)

	deadline := b.cfg.BatcherCallDeadline
	if deadline <= 0 {
		deadline = time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	select {
	case res := <-call.resultCh:
		b.pendingDepth.Add(-1)
		if res.err != nil {
			return 0, res.err
		}
		return res.score, nil
	case <-callCtx.Done():
		b.pendingDepth.Add(-1)
		b.timeouts.Add(1)
		observability.BatcherErrorsTotal.WithLabelValues("timeout").Inc()
		return 0, domain.NewError(domain.KindTimeout, "inference batcher call deadline exceeded", domain.ErrTimeout)
	}
}

// enqueue appends call to the open batch, opening a new one and arming its
// timeout timer if none is open, and flushing immediately if the batch just
// reached maxBatchSize.
func (b *Batcher) enqueue(call *pendingCall) {
	maxSize := b.cfg.BatcherMaxBatchSize
	if maxSize <= 0 {
		maxSize = 64
	}
	timeout := b.cfg.BatcherTimeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}

	var toDispatch *pendingBatch
	b.mu.Lock()
	if b.current == nil {
		b.current = &pendingBatch{startedAt: time.Now()}
		b.timer = time.AfterFunc(timeout, b.onTimerFlush)
	}
	b.current.calls = append(b.current.calls, call)
	if len(b.current.calls) >= maxSize {
		toDispatch = b.current
		b.current = nil
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
	b.mu.Unlock()

	if toDispatch != nil {
		observability.BatcherFlushesTotal.WithLabelValues("size").Inc()
		go b.dispatch(toDispatch)
	}
}

func (b *Batcher) onTimerFlush() {
	b.mu.Lock()
	toDispatch := b.current
	b.current = nil
	b.timer = nil
	b.mu.Unlock()

	if toDispatch != nil {
		observability.BatcherFlushesTotal.WithLabelValues("timeout").Inc()
		go b.dispatch(toDispatch)
	}
}

// dispatch runs batchScore for one sealed batch, bounded to sem's width
// concurrent executions, and fans results back out in submission order.
func (b *Batcher) dispatch(batch *pendingBatch) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	observability.BatcherBatchSize.Observe(float64(len(batch.calls)))
	b.batchesFlushed.Add(1)

	features := make([][]float32, len(batch.calls))
	for i, c := range batch.calls {
		features[i] = c.features
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.BatcherCallDeadline)
	defer cancel()
	scores, err := b.scorer.BatchScore(ctx, features)
	if err != nil {
		// A well-typed domain error (e.g. the scorer being unloaded) passes
		// through as-is so callers can distinguish SERVICE_UNAVAILABLE from an
		// ordinary per-batch inference failure; anything else is wrapped.
		var outErr error
		if domain.KindOf(err) != domain.KindInternal {
			outErr = err
		} else {
			b.inferenceErrors.Add(1)
			observability.BatcherErrorsTotal.WithLabelValues("inference_error").Inc()
			outErr = domain.NewError(domain.KindInferenceError, "batch scoring failed", err)
		}
		for _, c := range batch.calls {
			c.resultCh <- scoreResult{err: outErr}
		}
		return
	}

	b.itemsScored.Add(int64(len(batch.calls)))
	for i, c := range batch.calls {
		if i < len(scores) {
			c.resultCh <- scoreResult{score: scores[i]}
		} else {
			c.resultCh <- scoreResult{err: domain.NewError(domain.KindInferenceError, "scorer returned fewer results than requested", domain.ErrInternal)}
		}
	}
}

// Stats surfaces batcher health for STATS()/HEALTH().
func (b *Batcher) Stats() domain.BatcherStats {
	return domain.BatcherStats{
		PendingDepth:    int(b.pendingDepth.Load()),
		BatchesFlushed:  b.batchesFlushed.Load(),
		ItemsScored:     b.itemsScored.Load(),
		Timeouts:        b.timeouts.Load(),
		Overloads:       b.overloads.Load(),
		InferenceErrors: b.inferenceErrors.Load(),
	}
}
