package executor

import "fmt"

// Paused is not an error in the ordinary sense — it is the control-flow
// signal §9 describes as "a distinguished sum-type variant or a sentinel
// exception". It is modeled here as an error so it can flow back through
// Start/Resume's normal return path without a parallel non-error channel;
// callers distinguish it from a real failure with errors.As, never by
// string-matching Error().
type Paused struct {
	WorkflowID   string
	CheckpointID string
	Reason       string
}

func (p *Paused) Error() string {
	return fmt.Sprintf("workflow %s paused at checkpoint %s: %s", p.WorkflowID, p.CheckpointID, p.Reason)
}
