package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is a long-lived background component that stops when ctx is
// cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// ErrRunner adapts a component whose Run returns an error, such as the cron
// schedulers. The error is logged.
func ErrRunner(name string, run func(ctx context.Context) error, logger *zap.Logger) Runner {
	return RunnerFunc(func(ctx context.Context) {
		if err := run(ctx); err != nil {
			logger.Error("background component exited", zap.String("component", name), zap.Error(err))
		}
	})
}

// Pool manages the lifecycle of every background component: the queue
// consumers, the janitor and the cron schedulers.
type Pool struct {
	runners []Runner
	wg      sync.WaitGroup
}

func NewPool(runners ...Runner) *Pool {
	return &Pool{runners: runners}
}

// Add registers r. It must be called before Start.
func (p *Pool) Add(r Runner) {
	p.runners = append(p.runners, r)
}

// Start launches every runner as a goroutine.
// Cancelling ctx triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, r := range p.runners {
		p.wg.Add(1)
		go func(r Runner) {
			defer p.wg.Done()
			r.Run(ctx)
		}(r)
	}
}

// Wait blocks until every runner has returned after ctx is cancelled.
// In-flight jobs are settled before their worker returns.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() when runners are
// still settling jobs at the deadline; those goroutines keep running.
func (p *Pool) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Runner = (*Worker)(nil)
	_ Runner = (*JanitorWorker)(nil)
)
