package processor

import (
	"context"
	"sync"
)

// ConcLimiter bounds the number of goroutines working at once. Every
// successful Increase must be matched by a Decrease.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel <= 0 {
		cLevel = 1
	}
	var wg sync.WaitGroup
	return &ConcLimiter{&wg, make(chan struct{}, cLevel)}
}

// Increase blocks until a slot is free.
func (c *ConcLimiter) Increase() {
	c.Add(1)
	c.Pool <- struct{}{}
}

// IncreaseContext is Increase giving up once ctx is done.
func (c *ConcLimiter) IncreaseContext(ctx context.Context) error {
	select {
	case c.Pool <- struct{}{}:
		c.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}
