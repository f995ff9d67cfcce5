package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

// ============================================
// go-pkgz/pool based worker pool
// ============================================

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int           // number of workers
	WorkerChanSize int           // per-worker channel buffer
	BatchSize      int           // batch accumulation size
	JobTimeout     time.Duration // per-job timeout
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		WorkerChanSize: 100,
		BatchSize:      10,
		JobTimeout:     60 * time.Second,
	}
}

// InboundProcessor handles one inbound event end to end.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, msg *domain.InboundMessage) error
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed int64
	JobsFailed    int64
	JobsDropped   int64
}

// Pool fans inbound jobs out to workers. Jobs are chunked on conversation
// id: events of the same conversation always land on the same worker and
// therefore process in arrival order.
type Pool struct {
	engine InboundProcessor
	config *PoolConfig

	pool *pool.WorkerGroup[*Job]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

// jobWorker implements pool.Worker for Job processing.
type jobWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *jobWorker) Do(ctx context.Context, job *Job) error {
	return w.pool.processJob(ctx, job)
}

// NewPool creates a new worker pool.
func NewPool(engine InboundProcessor, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		engine: engine,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	worker := &jobWorker{pool: p}
	p.pool = pool.New[*Job](p.config.Workers, worker).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithBatchSize(p.config.BatchSize).
		WithChunkFn(func(job *Job) string { return job.ChunkKey() }).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		return err
	}

	p.started = true
	p.log.Info().
		Int("workers", p.config.Workers).
		Dur("job_timeout", p.config.JobTimeout).
		Msg("worker pool started")
	return nil
}

// Stop gracefully stops the worker pool.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := p.pool.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit submits a job to the pool. Returns false when the pool is not
// running; the caller then leaves the event unacknowledged for redelivery.
func (p *Pool) Submit(job *Job) bool {
	p.mu.Lock()
	if !p.started || p.pool == nil {
		p.mu.Unlock()
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		return false
	}
	p.mu.Unlock()

	p.pool.Submit(job)
	return true
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed: atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:    atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:   atomic.LoadInt64(&p.metrics.JobsDropped),
	}
}

// processJob runs one job with the configured timeout and reports the
// result back to the submitter.
func (p *Pool) processJob(ctx context.Context, job *Job) error {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.engine.HandleInbound(jobCtx, job.Message)
	if err != nil {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		p.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("event_id", job.Message.EventID).
			Dur("elapsed", time.Since(start)).
			Msg("job failed")
	} else {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		p.log.Debug().
			Str("job_id", job.ID).
			Str("event_id", job.Message.EventID).
			Dur("elapsed", time.Since(start)).
			Msg("job processed")
	}

	job.finish(err)
	return err
}
