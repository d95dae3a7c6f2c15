// Package worker provides the bounded parallel-task pool shared by scan,
// hash, copy, and download stages across preprocessors.
package worker

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultSize returns max(1, cpu_count-1), the default pool size per §5,
// unless overridden by configuration.
func DefaultSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// Pool runs bounded-concurrency tasks, each independent and with errors
// collected rather than aborting the batch, since per-item I/O failures
// are recorded by the failure tracker instead of terminating a run.
type Pool struct {
	size int
}

// New constructs a Pool with the given concurrency; a size <= 0 uses
// DefaultSize().
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	return &Pool{size: size}
}

// Task is one unit of work submitted to the pool. A returned error is
// collected in Run's result slice at the task's index; it does not
// cancel sibling tasks.
type Task func(ctx context.Context) error

// Run executes all tasks with bounded concurrency and returns one error
// per task, in submission order, nil where the task succeeded.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			errs[i] = task(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// RunUntilError executes all tasks with bounded concurrency and stops
// launching new tasks once one fails, returning the first error. Used by
// operations where a validation failure makes continuing pointless (for
// example a missing required subdirectory discovered mid-scan).
func (p *Pool) RunUntilError(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}
