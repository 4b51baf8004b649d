package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, spec Spec) (*Output, error)

func (f Func) Run(ctx context.Context, spec Spec) (*Output, error) {
	return f(ctx, spec)
}

// Counting wraps a Runner and records every spawn. It is used to prove that
// rejected requests never reach a process.
type Counting struct {
	Next Runner

	count atomic.Int64
	mu    sync.Mutex
	specs []Spec
}

// NewCounting wraps next.
func NewCounting(next Runner) *Counting {
	return &Counting{Next: next}
}

func (c *Counting) Run(ctx context.Context, spec Spec) (*Output, error) {
	c.count.Add(1)
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.mu.Unlock()
	return c.Next.Run(ctx, spec)
}

// Count returns the number of Run calls.
func (c *Counting) Count() int {
	return int(c.count.Load())
}

// Specs returns a copy of every spec passed to Run.
func (c *Counting) Specs() []Spec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Spec(nil), c.specs...)
}
