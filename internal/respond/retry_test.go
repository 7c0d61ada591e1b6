package respond

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetriesEventualSuccess(t *testing.T) {
	calls := 0
	result, err := withRetries(context.Background(), 5, time.Millisecond,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("withRetries: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("result = %q after %d calls", result, calls)
	}
}

func TestWithRetriesExhaustion(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0
	_, err := withRetries(context.Background(), 4, time.Millisecond,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, sentinel
		})
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped sentinel", err)
	}
}

func TestWithRetriesContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withRetries(ctx, 5, time.Minute,
		func(ctx context.Context) (int, error) {
			return 0, errors.New("fail once, then sleep")
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
