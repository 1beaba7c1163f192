package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"neptuneload/internal/checkpoint"
	"neptuneload/internal/metrics"

	"go.uber.org/zap"
)

// Pool manages a pool of workers
type Pool struct {
	size       int
	config     Config
	newClient  ClientFactory
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
	inflight   atomic.Int32
}

// NewPool creates a new worker pool. checkpointStore may be nil.
func NewPool(
	size int,
	config Config,
	newClient ClientFactory,
	checkpointStore checkpoint.Store,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:       size,
		config:     config,
		newClient:  newClient,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		logger:     logger,
	}
}

// Start starts the worker pool. Workers exit when tasks is closed or ctx
// is done.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, results, wg)
	}
}

// Run processes tasks and returns one result per task that was started,
// in completion order.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	p.Start(ctx, taskCh, resultCh, &wg)

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(resultCh)

	results := make([]Result, 0, len(tasks))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := &TaskProcessor{
		config:     p.config,
		newClient:  p.newClient,
		checkpoint: p.checkpoint,
		metrics:    p.metrics,
		logger:     logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}

			p.metrics.SetInflightTasks(int(p.inflight.Add(1)))
			result := processor.Process(ctx, task)
			p.metrics.SetInflightTasks(int(p.inflight.Add(-1)))

			results <- result

		case <-ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}
