// Package stage implements C2: the uniform agent/stage contract and the
// logging, timing and retry middleware that decorate it. The composition
// order is always Retry → Timing → Logging → Stage (outermost to innermost),
// so retry decisions see raw stage errors and every individual attempt gets
// its own timing and log entry.
package stage

import (
	"context"

	"github.com/dshills/agentflow/workflow"
)

// Response is what a Stage returns on success: the assistant message(s) to
// append to the workflow's log, plus the textual result recorded in the
// stage-result map.
type Response struct {
	Messages []workflow.Message
	Result   string
}

// Stage is the only capability required of an agent: run once against the
// accumulated message log and either produce a Response or fail. A Stage
// must be safe to call again with identical input — middleware (in
// particular Retry) depends on that.
type Stage interface {
	Run(ctx context.Context, messages []workflow.Message) (Response, error)
}

// Func adapts a plain function to the Stage interface, mirroring the
// teacher's NodeFunc adapter.
type Func func(ctx context.Context, messages []workflow.Message) (Response, error)

func (f Func) Run(ctx context.Context, messages []workflow.Message) (Response, error) {
	return f(ctx, messages)
}
