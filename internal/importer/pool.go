package importer

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs a fixed number of workers against a shared queue. Worker itself
// keeps no per-item state, so the same Worker value serves every goroutine.
type Pool struct {
	worker *Worker
	size   int
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewPool constructs a Pool with size concurrent workers.
func NewPool(worker *Worker, size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{worker: worker, size: size, logger: logger}
}

// Start launches the worker goroutines. They exit when ctx finishes.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting import workers", zap.Int("count", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker.Run(ctx)
		}()
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("import workers stopped")
}
