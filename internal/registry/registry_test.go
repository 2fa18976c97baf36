package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownRunsInPriorityOrder(t *testing.T) {
	t.Parallel()

	r := New(nil)
	var order []string

	r.Register(30, "storage", func(ctx context.Context) error {
		order = append(order, "storage")
		return nil
	})
	r.Register(0, "detectors", func(ctx context.Context) error {
		order = append(order, "detectors")
		return nil
	})
	r.Register(20, "signalmanager", func(ctx context.Context) error {
		order = append(order, "signalmanager")
		return nil
	})
	r.Register(10, "preprocessor", func(ctx context.Context) error {
		order = append(order, "preprocessor")
		return nil
	})

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"detectors", "preprocessor", "signalmanager", "storage"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestShutdownCollectsErrorsAndContinues(t *testing.T) {
	t.Parallel()

	r := New(nil)
	ran := 0

	r.Register(0, "a", func(ctx context.Context) error {
		ran++
		return errors.New("boom")
	})
	r.Register(1, "b", func(ctx context.Context) error {
		ran++
		return nil
	})

	if err := r.Shutdown(context.Background()); err == nil {
		t.Fatal("expected a non-nil error")
	}
	if ran != 2 {
		t.Errorf("ran = %d, want 2 (b must still run after a fails)", ran)
	}
}

func TestShutdownRespectsExpiredDeadline(t *testing.T) {
	t.Parallel()

	r := New(nil)
	ran := false
	r.Register(0, "late", func(ctx context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	if err := r.Shutdown(ctx); err == nil {
		t.Fatal("expected a deadline-exceeded error")
	}
	if ran {
		t.Error("cleanup ran after context deadline expired")
	}
}
