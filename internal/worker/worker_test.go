package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunCollectsPerTaskErrors(t *testing.T) {
	p := New(4)
	var count int32
	tasks := []Task{
		func(ctx context.Context) error { atomic.AddInt32(&count, 1); return nil },
		func(ctx context.Context) error { atomic.AddInt32(&count, 1); return errors.New("boom") },
		func(ctx context.Context) error { atomic.AddInt32(&count, 1); return nil },
	}
	errs := p.Run(context.Background(), tasks)
	if count != 3 {
		t.Fatalf("expected all 3 tasks to run, got %d", count)
	}
	if errs[0] != nil || errs[2] != nil {
		t.Fatalf("expected successful tasks to report nil error, got %v", errs)
	}
	if errs[1] == nil {
		t.Fatal("expected task 1 to report its error")
	}
}

func TestDefaultSizeAtLeastOne(t *testing.T) {
	if DefaultSize() < 1 {
		t.Fatal("DefaultSize must be at least 1")
	}
}
