package git

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPool_LimitsConcurrency(t *testing.T) {
	p := NewPool(2)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	gate := make(chan struct{})

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), func() error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				<-gate
				current.Add(-1)
				return nil
			})
		}()
	}

	close(gate)
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPool_NilRunsDirectly(t *testing.T) {
	var p *Pool
	ran := false
	if err := p.Run(context.Background(), func() error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("fn did not run on nil pool")
	}
}

func TestPool_CancelledContext(t *testing.T) {
	p := NewPool(1)
	acquired := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Run(context.Background(), func() error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, func() error { return nil })
	close(release)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
