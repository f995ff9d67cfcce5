package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/adapter/in/worker"
	"github.com/clubhousegolfcanada/response-engine/adapter/out/messaging"
	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/pkg/logger"
)

// Worker runs the inbound pipeline: the Redis Stream consumer feeds the
// worker pool, and the review sweeper expires stale queue items.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger

	sweepInterval time.Duration
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "response-engine-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := deps.Zlog.With().Str("component", "worker").Logger()

	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = worker.DefaultPoolConfig().Workers
	}
	chanSize := cfg.WorkerQueueSize / workers
	if chanSize <= 0 {
		chanSize = worker.DefaultPoolConfig().WorkerChanSize
	}
	pool := worker.NewPool(deps.Engine, &worker.PoolConfig{
		Workers:        workers,
		WorkerChanSize: chanSize,
		BatchSize:      worker.DefaultPoolConfig().BatchSize,
		JobTimeout:     time.Duration(cfg.JobTimeoutSec) * time.Second,
	}, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:          pool,
		deps:          deps,
		ctx:           ctx,
		cancel:        cancel,
		zlog:          zlog,
		sweepInterval: time.Duration(cfg.ReviewSweepIntervalM) * time.Minute,
	}

	processor := worker.NewStreamProcessor(pool, zlog)
	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:                "response-engine",
		Consumer:             cfg.NodeID,
		Streams:              []string{messaging.StreamInbound},
		Handler:              processor,
		Logger:               zlog,
		BatchSize:            int64(cfg.ConsumerBatchSize),
		BlockTime:            time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		MaxRetries:           cfg.ConsumerMaxRetries,
	})

	return w, cleanup, nil
}

func (w *Worker) Start() {
	if err := w.pool.Start(); err != nil {
		w.zlog.Error().Err(err).Msg("worker pool failed to start")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("starting inbound stream consumer")
		if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
			w.zlog.Error().Err(err).Msg("stream consumer stopped")
		}
	}()

	// Review expiry sweeper
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deps.ReviewService.RunSweeper(w.ctx, w.sweepInterval)
	}()

	// Periodic pool metrics
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				m := w.pool.Metrics()
				w.zlog.Info().
					Int64("processed", m.JobsProcessed).
					Int64("failed", m.JobsFailed).
					Int64("dropped", m.JobsDropped).
					Msg("pool metrics")
			}
		}
	}()

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Metrics() worker.PoolMetrics {
	return w.pool.Metrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
