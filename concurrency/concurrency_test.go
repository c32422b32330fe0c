package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestThreadExecutorProcessesAllItems(t *testing.T) {
	exe := NewThreadExecutor[int, int](nil)
	items := []int{1, 2, 3, 4, 5}

	var mu sync.Mutex
	var sum int
	err := exe.Run(context.Background(), SliceProducer(items), Options{MaxWorkers: 3}, func(_ context.Context, in int) (int, error) {
		return in * 2, nil
	}, func(out int) error {
		mu.Lock()
		sum += out
		mu.Unlock()
		return nil
	}, func(int, error) {
		t.Fatal("did not expect any errors")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 30 {
		t.Fatalf("sum = %d, want 30", sum)
	}
}

func TestThreadExecutorCollectsErrorsWithoutFailFast(t *testing.T) {
	exe := NewThreadExecutor[int, int](nil)
	items := []int{1, 2, 3}

	var mu sync.Mutex
	var errCount int
	err := exe.Run(context.Background(), SliceProducer(items), Options{MaxWorkers: 2}, func(_ context.Context, in int) (int, error) {
		if in == 2 {
			return 0, errors.New("boom")
		}
		return in, nil
	}, func(int) error { return nil }, func(_ int, _ error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected run error without fail_fast: %v", err)
	}
	if errCount != 1 {
		t.Fatalf("errCount = %d, want 1", errCount)
	}
}

func TestThreadExecutorFailFastAbortsRun(t *testing.T) {
	exe := NewThreadExecutor[int, int](nil)
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	err := exe.Run(context.Background(), SliceProducer(items), Options{MaxWorkers: 1, FailFast: true}, func(_ context.Context, in int) (int, error) {
		if in == 2 {
			return 0, errors.New("boom")
		}
		return in, nil
	}, func(int) error { return nil }, func(int, error) {})
	if err == nil {
		t.Fatal("expected fail_fast run to return an error")
	}
}

func TestResolveKindAutoSelectsProcessOnlyWhenHeavy(t *testing.T) {
	if got := ResolveKind(KindAuto, false, false); got != KindThread {
		t.Fatalf("expected thread when nothing is heavy, got %v", got)
	}
	if got := ResolveKind(KindAuto, true, false); got != KindThread {
		t.Fatalf("expected thread without a heavy source, got %v", got)
	}
	if got := ResolveKind(KindAuto, true, true); got != KindProcess {
		t.Fatalf("expected process when both heavy handlers and a heavy source are present, got %v", got)
	}
	if got := ResolveKind(KindThread, true, true); got != KindThread {
		t.Fatalf("explicit kind should not be overridden by auto rule, got %v", got)
	}
}
