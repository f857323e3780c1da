package bounded

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// TestCall_ReturnsResultUnchanged verifies fast calls pass through verbatim.
func TestCall_ReturnsResultUnchanged(t *testing.T) {
	got, err := Call(context.Background(), time.Second, func() (string, error) {
		return "/tmp/container", nil
	})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if got != "/tmp/container" {
		t.Errorf("Call() = %q, want %q", got, "/tmp/container")
	}
}

// TestCall_ForwardsDomainError verifies the operation's own error is not replaced.
func TestCall_ForwardsDomainError(t *testing.T) {
	want := errors.New("not signed in")
	_, err := Call(context.Background(), time.Second, func() (int, error) {
		return 0, want
	})
	if err != want {
		t.Errorf("Call() error = %v, want %v", err, want)
	}
}

// TestCall_Timeout verifies a blocked operation fails within the bound.
func TestCall_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	bound := 50 * time.Millisecond
	start := time.Now()
	_, err := Call(context.Background(), bound, func() (string, error) {
		<-block
		return "late", nil
	})
	elapsed := time.Since(start)

	if !errors.Is(err, cloud.ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}

	var te *TimeoutError
	if !errors.As(err, &te) || te.After != bound {
		t.Errorf("Call() error = %#v, want *TimeoutError{After: %v}", err, bound)
	}

	if elapsed < bound {
		t.Errorf("Call() returned after %v, before the %v bound", elapsed, bound)
	}
	if elapsed > bound+time.Second {
		t.Errorf("Call() returned after %v, far past the %v bound", elapsed, bound)
	}
}

// TestCall_AbandonedWorkerDoesNotPanic verifies a late result is silently dropped.
func TestCall_AbandonedWorkerDoesNotPanic(t *testing.T) {
	finished := make(chan struct{})

	_, err := Call(context.Background(), 10*time.Millisecond, func() (string, error) {
		defer close(finished)
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	if !errors.Is(err, cloud.ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned worker never finished")
	}
}

// TestCall_ContextCancelled verifies the caller can give up early.
func TestCall_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Call(ctx, time.Second, func() (string, error) {
		<-block
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
}

// TestCall_Panic verifies a panicking operation becomes an error.
func TestCall_Panic(t *testing.T) {
	_, err := Call(context.Background(), time.Second, func() (string, error) {
		panic("objc exception")
	})
	if err == nil {
		t.Fatal("Call() should return an error for a panicking op")
	}
}

// TestCall_DefaultBound verifies a zero duration falls back to DefaultTimeout.
func TestCall_DefaultBound(t *testing.T) {
	got, err := Call(context.Background(), 0, func() (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("Call() = %d, %v, want 42, nil", got, err)
	}
}
