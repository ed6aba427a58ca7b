package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/agentflow/workflow"
)

func TestRetryReinvokesUpToMaxAttempts(t *testing.T) {
	attempts := 0
	failing := Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		attempts++
		return Response{}, errors.New("boom")
	})

	wrapped := Retry(failing, "Researcher", 3, NopLog)
	_, err := wrapped.Run(context.Background(), nil)

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	attempts := 0
	flaky := Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		attempts++
		if attempts < 2 {
			return Response{}, errors.New("transient")
		}
		return Response{Result: "ok"}, nil
	})

	wrapped := Retry(flaky, "Brief", 3, NopLog)
	resp, err := wrapped.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Result != "ok" {
		t.Errorf("Result = %q, want ok", resp.Result)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryAbortsImmediatelyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	failing := Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		attempts++
		return Response{}, errors.New("boom")
	})

	wrapped := Retry(failing, "Researcher", 5, NopLog)
	_, err := wrapped.Run(ctx, nil)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0 on pre-cancelled context", attempts)
	}
}

func TestTimingLogsWarningOverThreshold(t *testing.T) {
	var warned bool
	log := func(msg string, fields map[string]any) {
		if msg == "stage exceeded timing threshold" {
			warned = true
		}
	}
	slow := Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		time.Sleep(5 * time.Millisecond)
		return Response{}, nil
	})

	wrapped := Timing(slow, "Brief", time.Millisecond, log)
	if _, err := wrapped.Run(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !warned {
		t.Error("expected a timing-threshold warning to be logged")
	}
}

func TestDecorateOrderRetryOutermost(t *testing.T) {
	attempts := 0
	failing := Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		attempts++
		return Response{}, errors.New("boom")
	})

	wrapped := Decorate(failing, Config{AgentID: "Researcher", MaxAttempts: 3})
	_, err := wrapped.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (retry must be outermost and drive all attempts)", attempts)
	}
}

func TestBackoffDurationGrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},
		{10, 2 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDuration(c.attempt); got != c.want {
			t.Errorf("backoffDuration(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
