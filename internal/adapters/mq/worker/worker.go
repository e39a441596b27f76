// Package worker runs partition jobs: load a partition, transform it and emit
// the resulting batch.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/loanlabel/internal/adapters/mq/queue"
	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/record"
	"github.com/okian/loanlabel/pkg/logger"
	"github.com/okian/loanlabel/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = queue.Job

// Loader returns the records of one partition.
type Loader interface {
	Load(ctx context.Context, partition int) ([]record.RawRecord, error)
}

// Transformer turns one partition's records into a batch of output rows.
type Transformer interface {
	Transform(partition int, records []record.RawRecord) model.Batch
}

// Emitter hands a finished batch to the consumer.
type Emitter interface {
	Emit(ctx context.Context, b model.Batch) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, b model.Batch) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, b model.Batch) error { return f(ctx, b) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes partition jobs.
type Worker interface {
	// Run starts the worker loop until the queue is drained or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing partition jobs.
type InMemoryWorker struct {
	queue       Queue
	loader      Loader
	transformer Transformer
	emitter     Emitter
	name        string

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, l Loader, t Transformer, e Emitter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		loader:      l,
		transformer: t,
		emitter:     e,
		name:        "worker",
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	metrics.AddWorkerActive(1)
	defer metrics.AddWorkerActive(-1)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.processJob(ctx, job); err != nil {
				w.logger.Error(ctx, "error processing partition",
					logger.Int("partition", job.Partition),
					logger.Error(err),
				)
			}
		}
	}
}

func (w *InMemoryWorker) stop() { w.shutdownOnce.Do(func() { close(w.shutdown) }) }

// Shutdown stops the worker after its current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob loads, transforms and emits one partition. A load failure is
// emitted as a batch carrying the error so the consumer decides the run's fate.
func (w *InMemoryWorker) processJob(ctx context.Context, job Job) error {
	start := time.Now()

	records, err := w.loader.Load(ctx, job.Partition)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "load_failed")
		loadErr := fmt.Errorf("load partition %d: %w", job.Partition, err)
		if emitErr := w.emitter.Emit(ctx, model.Batch{Partition: job.Partition, Err: loadErr}); emitErr != nil {
			return emitErr
		}
		return loadErr
	}

	batch := w.transformer.Transform(job.Partition, records)

	latency := float64(time.Since(start).Microseconds()) / 1000
	metrics.RecordPartitionProcessed(latency, len(records))
	w.logger.Debug(ctx, "partition reduced",
		logger.Int("partition", job.Partition),
		logger.Int("records", len(records)),
		logger.Int64("loans", batch.Stats.Loans),
		logger.Int64("kept", batch.Stats.Kept),
		logger.Float64("latency_ms", latency),
	)

	if err := w.emitter.Emit(ctx, batch); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "emit_failed")
		return fmt.Errorf("emit partition %d: %w", job.Partition, err)
	}

	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	done    chan struct{}
	start   sync.Once

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive count uses one worker per CPU.
func NewPool(workerCount int, q Queue, l Loader, t Transformer, e Emitter) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		done:    make(chan struct{}),
		logger:  logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, l, t, e, WithName("worker-"+strconv.Itoa(i)))
	}

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool. Later calls do nothing.
func (p *Pool) Start(ctx context.Context) {
	p.start.Do(func() {
		for _, worker := range p.workers {
			go worker.Run(ctx)
		}
		go func() {
			p.Wait()
			close(p.done)
		}()
	})
}

// Done is closed once every started worker has returned.
func (p *Pool) Done() <-chan struct{} { return p.done }

// Wait blocks until every worker has returned, which happens once the queue
// is closed and drained or the Start context is cancelled.
func (p *Pool) Wait() {
	for _, worker := range p.workers {
		<-worker.done
	}
}

// Shutdown closes the queue, asks every worker to stop after its current job
// and waits for them, giving up after poolShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	// First close the queue to stop new jobs
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for _, worker := range p.workers {
		worker.stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		if err := worker.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker %d: %w", i, err)
		}
	}

	return nil
}
