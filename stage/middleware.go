package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/agentflow/workflow"
)

// LogFunc is the structured-logging hook middleware reports through. It is
// deliberately minimal (no bare log.Printf) so wiring layers can route
// middleware diagnostics through the C5 observer fan-out's LogObserver.
type LogFunc func(msg string, fields map[string]any)

// NopLog discards every record; useful in tests that don't care about
// middleware diagnostics.
func NopLog(string, map[string]any) {}

// defaultRetryBackoffCap is the 2s ceiling from §4.2's back-off formula.
const defaultRetryBackoffCap = 2 * time.Second

// defaultRetryBackoffBase is the 100ms unit from §4.2's back-off formula.
const defaultRetryBackoffBase = 100 * time.Millisecond

// Logging wraps next with entry/exit structured log records: agent id and
// input summary on entry, success/error and message count on exit. It holds
// no state of its own.
func Logging(next Stage, agentID string, log LogFunc) Stage {
	if log == nil {
		log = NopLog
	}
	return Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		log("stage entry", map[string]any{"agent_id": agentID, "input_messages": len(messages)})
		resp, err := next.Run(ctx, messages)
		if err != nil {
			log("stage error", map[string]any{"agent_id": agentID, "error": err.Error()})
			return resp, err
		}
		log("stage exit", map[string]any{"agent_id": agentID, "output_messages": len(resp.Messages)})
		return resp, nil
	})
}

// Timing wraps next and measures wall-clock latency; if it exceeds
// threshold, a warning is logged tagged with the elapsed time. It never
// alters the response.
func Timing(next Stage, agentID string, threshold time.Duration, log LogFunc) Stage {
	if log == nil {
		log = NopLog
	}
	return Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		start := time.Now()
		resp, err := next.Run(ctx, messages)
		elapsed := time.Since(start)
		if threshold > 0 && elapsed > threshold {
			log("stage exceeded timing threshold", map[string]any{
				"agent_id": agentID, "elapsed_ms": elapsed.Milliseconds(), "threshold_ms": threshold.Milliseconds(),
			})
		}
		return resp, err
	})
}

// Retry re-invokes next up to maxAttempts times on error. Attempt k waits at
// least min(2^k * 100ms, 2s) before retrying; ctx cancellation aborts
// immediately without a further attempt. After the final failure the
// original error is re-raised unchanged.
func Retry(next Stage, agentID string, maxAttempts int, log LogFunc) Stage {
	if log == nil {
		log = NopLog
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return Response{}, err
			}
			resp, err := next.Run(ctx, messages)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if attempt == maxAttempts {
				break
			}
			log("retrying stage after error", map[string]any{
				"agent_id": agentID, "attempt": attempt, "max_attempts": maxAttempts, "error": err.Error(),
			})
			if !sleepBackoff(ctx, attempt) {
				return Response{}, ctx.Err()
			}
		}
		return Response{}, lastErr
	})
}

// sleepBackoff waits the back-off duration for the given attempt, returning
// false if ctx was cancelled while waiting.
func sleepBackoff(ctx context.Context, attempt int) bool {
	wait := backoffDuration(attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDuration implements §4.2's "attempt k waits at least
// min(2^k * 100ms, 2s)" before retrying.
func backoffDuration(attempt int) time.Duration {
	d := defaultRetryBackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= defaultRetryBackoffCap {
			return defaultRetryBackoffCap
		}
	}
	return d
}

// Config bundles the per-agent middleware settings the executor applies
// when wrapping a raw Stage.
type Config struct {
	AgentID         string
	MaxAttempts     int
	TimingThreshold time.Duration
	Log             LogFunc
}

// Decorate composes the three required middlewares around base in the
// mandated order: Retry → Timing → Logging → Stage.
func Decorate(base Stage, cfg Config) Stage {
	log := cfg.Log
	if log == nil {
		log = NopLog
	}
	threshold := cfg.TimingThreshold
	if threshold == 0 {
		threshold = 60 * time.Second
	}
	wrapped := Logging(base, cfg.AgentID, log)
	wrapped = Timing(wrapped, cfg.AgentID, threshold, log)
	wrapped = Retry(wrapped, cfg.AgentID, cfg.MaxAttempts, log)
	return wrapped
}

// ErrTimeout is returned by the per-stage timeout wrapper (wired in by the
// executor) when a stage exceeds its configured hard timeout.
var ErrTimeout = fmt.Errorf("stage exceeded its configured timeout")

// WithTimeout wraps next so that a context.DeadlineExceeded from the
// per-stage timeout context is reported as ErrTimeout, matching the
// teacher's executeNodeWithTimeout convention of translating a deadline
// expiry into a named stage error.
func WithTimeout(next Stage, timeout time.Duration) Stage {
	if timeout <= 0 {
		return next
	}
	return Func(func(ctx context.Context, messages []workflow.Message) (Response, error) {
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, err := next.Run(stageCtx, messages)
		if err != nil && stageCtx.Err() == context.DeadlineExceeded {
			return Response{}, ErrTimeout
		}
		return resp, err
	})
}
