package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestProcess_Success(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	items := []WorkItem[string]{
		{ID: "db1", Execute: func(ctx context.Context) (string, error) { return "relations1", nil }},
		{ID: "db2", Execute: func(ctx context.Context) (string, error) { return "relations2", nil }},
		{ID: "db3", Execute: func(ctx context.Context) (string, error) { return "relations3", nil }},
	}

	results := Process(context.Background(), pool, items, nil)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byID := make(map[string]string)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("item %s failed: %v", r.ID, r.Err)
		}
		byID[r.ID] = r.Result
	}
	if byID["db1"] != "relations1" || byID["db2"] != "relations2" || byID["db3"] != "relations3" {
		t.Errorf("unexpected results: %v", byID)
	}
}

func TestProcess_WithErrors(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, nil)

	expectedErr := errors.New("list failed")
	items := []WorkItem[int]{
		{ID: "ok", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "bad", Execute: func(ctx context.Context) (int, error) { return 0, expectedErr }},
	}

	results := Process(context.Background(), pool, items, nil)

	byID := make(map[string]WorkResult[int])
	for _, r := range results {
		byID[r.ID] = r
	}
	if byID["ok"].Err != nil {
		t.Errorf("ok should succeed, got %v", byID["ok"].Err)
	}
	if !errors.Is(byID["bad"].Err, expectedErr) {
		t.Errorf("bad should fail with expectedErr, got %v", byID["bad"].Err)
	}
}

func TestProcess_EmptyItems(t *testing.T) {
	pool := New(DefaultConfig(), zap.NewNop())
	if results := Process[int](context.Background(), pool, nil, nil); results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}

func TestProcess_ConcurrencyLimit(t *testing.T) {
	maxConcurrent := 3
	pool := New(Config{MaxConcurrent: maxConcurrent}, zap.NewNop())

	var current, maxObserved atomic.Int32
	items := make([]WorkItem[struct{}], 10)
	for i := range items {
		items[i] = WorkItem[struct{}]{
			ID: fmt.Sprintf("item%d", i),
			Execute: func(ctx context.Context) (struct{}, error) {
				n := current.Add(1)
				defer current.Add(-1)
				for {
					m := maxObserved.Load()
					if n <= m || maxObserved.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				return struct{}{}, nil
			},
		}
	}

	var mu sync.Mutex
	var progress []int
	results := Process(context.Background(), pool, items, func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, completed)
	})

	if len(results) != 10 {
		t.Errorf("expected 10 results, got %d", len(results))
	}
	if got := maxObserved.Load(); got > int32(maxConcurrent) {
		t.Errorf("concurrency limit violated: observed %d, limit %d", got, maxConcurrent)
	}
	if len(progress) != 10 || progress[9] != 10 {
		t.Errorf("unexpected progress updates: %v", progress)
	}
}

func TestProcess_ContextCancelledBeforeSlot(t *testing.T) {
	pool := New(Config{MaxConcurrent: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Hold the only slot so every item must wait on ctx.
	if err := pool.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	results := Process(ctx, pool, []WorkItem[int]{
		{ID: "a", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
	}, nil)

	if len(results) != 1 || !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("expected cancellation, got %+v", results)
	}
}

func TestGo_SharesSlots(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		pool.Go(context.Background(), func(ctx context.Context) error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				m := peak.Load()
				if n <= m || peak.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		}, func(err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			wg.Done()
		})
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
	if pool.Size() != 2 {
		t.Errorf("Size() = %d, want 2", pool.Size())
	}
}
