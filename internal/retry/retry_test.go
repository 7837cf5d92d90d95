package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond}

	calls := 0
	sentinel := errors.New("still failing")
	err := p.Do(context.Background(), func() error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want %v", err, sentinel)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	p := Policy{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		Retryable:       func(err error) bool { return !errors.Is(err, fatal) },
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	p := Policy{MaxAttempts: 100, InitialInterval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	if err == nil {
		t.Fatal("Expected error after context cancel, got nil")
	}
	if calls >= 100 {
		t.Errorf("calls = %d, expected cancellation to stop retries early", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	var p Policy

	calls := 0
	if err := p.Do(context.Background(), func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
