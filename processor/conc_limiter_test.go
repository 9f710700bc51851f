package processor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcLimiter(t *testing.T) {
	c := NewConcLimiter(2)
	var running, peak int32
	for i := 0; i < 10; i++ {
		c.Increase()
		go func() {
			defer c.Decrease()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}()
	}
	c.Wait()
	if peak > 2 {
		t.Errorf("%d goroutines ran at once", peak)
	}
}

func TestConcLimiterContext(t *testing.T) {
	c := NewConcLimiter(1)
	if err := c.IncreaseContext(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.IncreaseContext(ctx); err == nil {
		t.Error("acquired a slot of a full limiter")
	}

	c.Decrease()
	c.Wait()
}
