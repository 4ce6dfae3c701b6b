package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Create(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 4, 4},
		{"zero", 0, runtime.GOMAXPROCS(0)},
		{"negative", -5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers)
			defer p.Close()
			if p.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", p.Workers(), tt.want)
			}
		})
	}
}

func TestPool_RunVisitsEveryIndexOnce(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	const n = 257
	var hits [n]atomic.Int32
	p.Run(n, func(i int) {
		hits[i].Add(1)
	})
	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Fatalf("index %d ran %d times", i, got)
		}
	}
}

func TestPool_RunZero(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	called := false
	p.Run(0, func(int) { called = true })
	if called {
		t.Error("fn called for n = 0")
	}
}

func TestPool_RunWaitsForSlowItems(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var done atomic.Int32
	p.Run(8, func(i int) {
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		done.Add(1)
	})
	if got := done.Load(); got != 8 {
		t.Errorf("Run returned after %d items, want 8", got)
	}
}

func TestPool_RunAfterClose(t *testing.T) {
	p := NewPool(2)
	p.Close()
	p.Close()

	var sum atomic.Int64
	p.Run(4, func(i int) { sum.Add(int64(i)) })
	if got := sum.Load(); got != 6 {
		t.Errorf("sum = %d, want 6", got)
	}
}

func TestPool_RunConcurrentWithClose(t *testing.T) {
	for range 50 {
		p := NewPool(2)
		const runs, n = 4, 64

		var total atomic.Int64
		finished := make(chan struct{}, runs)
		for range runs {
			go func() {
				p.Run(n, func(int) { total.Add(1) })
				finished <- struct{}{}
			}()
		}
		p.Close()

		timeout := time.After(5 * time.Second)
		for range runs {
			select {
			case <-finished:
			case <-timeout:
				t.Fatal("Run did not return after Close")
			}
		}
		if got := total.Load(); got != runs*n {
			t.Fatalf("ran %d items, want %d", got, runs*n)
		}
	}
}
