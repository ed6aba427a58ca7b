// Package control implements C4: the global registry of per-workflow
// signals and execution states, and the sole arbiter of workflow-state
// transitions. It has no direct teacher analogue — the teacher's
// human-in-the-loop example models a one-shot approval gate, not a
// pause/resume/cancel registry — so its concurrency idiom is borrowed from
// graph/scheduler.go's Frontier (one mutex guarding parallel maps) and
// graph/engine.go's runConcurrent (context.WithCancel per unit of work).
package control

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/agentflow/corerr"
	"github.com/dshills/agentflow/observer"
	"github.com/dshills/agentflow/workflow"
)

// Signal is the mutable per-workflow pause/cancel request state.
type Signal struct {
	PauseRequested bool
	CancelRequested bool
	UpdatedAt      time.Time
	Reason         string
}

// ExecutionState is the live view GetExecutionState returns: everything an
// external caller (the out-of-scope HTTP layer) needs to answer GetStatus.
type ExecutionState struct {
	WorkflowID          string
	WorkflowType        string
	State               workflow.State
	CurrentAgentID      string
	CurrentStageIndex   int
	CompletedAgents     []string
	StartedAt           time.Time
	PausedAt            *time.Time
	LatestCheckpointID  string
}

// Elapsed returns the time since StartedAt, or zero if the workflow has not
// started.
func (e ExecutionState) Elapsed() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	return time.Since(e.StartedAt)
}

// Controller is the C4 implementation. All mutations to the three
// registries happen under a single mutex; observer notifications happen
// strictly after the mutex is released, per §4.4's synchronization rule.
type Controller struct {
	mu      sync.Mutex
	signals map[string]*Signal
	states  map[string]*ExecutionState
	cancels map[string]context.CancelFunc
	ctxs    map[string]context.Context

	subject *observer.Subject
}

// New creates an empty Controller. subject may be nil, in which case
// transitions are still tracked but no observer notification fires — tests
// that don't care about the fan-out can construct a fresh Controller per
// case this way, per §9's "tests should construct a fresh controller"
// guidance.
func New(subject *observer.Subject) *Controller {
	return &Controller{
		signals: map[string]*Signal{},
		states:  map[string]*ExecutionState{},
		cancels: map[string]context.CancelFunc{},
		ctxs:    map[string]context.Context{},
		subject: subject,
	}
}

// Register creates the Queued execution state for a workflow and resets its
// signal to zero, except that a workflow already registered and still Queued
// keeps its signal, so a cancel requested between Engine.StartWorkflow
// registering it and the executor starting it is not lost. Called by
// Engine.StartWorkflow and by the executor at the start of Start/Resume.
func (c *Controller) Register(workflowID, workflowType string) {
	c.mu.Lock()
	if st, ok := c.states[workflowID]; !ok || st.State != workflow.Queued {
		c.signals[workflowID] = &Signal{UpdatedAt: time.Now().UTC()}
	}
	c.states[workflowID] = &ExecutionState{
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		State:        workflow.Queued,
	}
	c.mu.Unlock()
}

// Forget drops all tracking for workflowID (signals, execution state, and
// cancellation source). Called by Engine.Shutdown; the executor itself only
// releases the token (see ReleaseToken).
func (c *Controller) Forget(workflowID string) {
	c.mu.Lock()
	delete(c.signals, workflowID)
	delete(c.states, workflowID)
	delete(c.cancels, workflowID)
	delete(c.ctxs, workflowID)
	c.mu.Unlock()
}

// ReleaseToken drops only the cancellation source for workflowID, freeing
// the context without discarding the execution state or signal — the
// executor calls this once a workflow reaches a terminal or paused state so
// GetStatus/Pause-conflict checks keep working against the retained state
// while the now-unused cancellation plumbing is garbage collected.
func (c *Controller) ReleaseToken(workflowID string) {
	c.mu.Lock()
	delete(c.cancels, workflowID)
	delete(c.ctxs, workflowID)
	c.mu.Unlock()
}

// RequestPause idempotently sets the pause signal and stamps the update
// time. Calling it repeatedly before the executor acts on it is a no-op
// beyond updating the reason/timestamp.
func (c *Controller) RequestPause(workflowID, reason string) {
	c.mu.Lock()
	sig := c.signalLocked(workflowID)
	sig.PauseRequested = true
	sig.UpdatedAt = time.Now().UTC()
	if reason != "" {
		sig.Reason = reason
	}
	c.mu.Unlock()
}

// RequestCancel idempotently sets the cancel signal and fires the
// cancellation token associated with the workflow, if one has been created.
func (c *Controller) RequestCancel(workflowID, reason string) {
	c.mu.Lock()
	sig := c.signalLocked(workflowID)
	sig.CancelRequested = true
	sig.UpdatedAt = time.Now().UTC()
	if reason != "" {
		sig.Reason = reason
	}
	cancel := c.cancels[workflowID]
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Controller) signalLocked(workflowID string) *Signal {
	sig, ok := c.signals[workflowID]
	if !ok {
		sig = &Signal{}
		c.signals[workflowID] = sig
	}
	return sig
}

// Signal returns the current signal for workflowID (a zero Signal if
// unknown).
func (c *Controller) Signal(workflowID string) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sig, ok := c.signals[workflowID]; ok {
		return *sig
	}
	return Signal{}
}

// Token lazily creates the cancellation source for workflowID and returns
// its Context; subsequent calls return the same context.
func (c *Controller) Token(workflowID string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx, ok := c.ctxs[workflowID]; ok {
		return ctx
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.ctxs[workflowID] = ctx
	c.cancels[workflowID] = cancel
	return ctx
}

// OnCheckpointSaved records the latest checkpoint id on the execution
// state.
func (c *Controller) OnCheckpointSaved(workflowID, checkpointID string) {
	c.mu.Lock()
	if st, ok := c.states[workflowID]; ok {
		st.LatestCheckpointID = checkpointID
	}
	c.mu.Unlock()
}

// OnWorkflowResumed clears paused-at and transitions the workflow back to
// Running.
func (c *Controller) OnWorkflowResumed(workflowID, checkpointID string) error {
	c.mu.Lock()
	if st, ok := c.states[workflowID]; ok {
		st.PausedAt = nil
		st.LatestCheckpointID = checkpointID
	}
	c.mu.Unlock()
	return c.Transition(workflowID, workflow.Running, "resumed from "+checkpointID)
}

// Transition validates (old, new) against the legal-transition table,
// rejecting with InvalidTransition if disallowed, otherwise updates the
// execution state and stamps started_at/paused_at as appropriate. The
// workflow-state observer notification happens after the mutex is released.
func (c *Controller) Transition(workflowID string, newState workflow.State, reason string) error {
	c.mu.Lock()
	st, ok := c.states[workflowID]
	if !ok {
		c.mu.Unlock()
		return corerr.Newf(corerr.InvalidTransition, "workflow %s is not registered", workflowID)
	}
	oldState := st.State
	if !workflow.ValidTransition(oldState, newState) {
		c.mu.Unlock()
		return corerr.Newf(corerr.InvalidTransition, "illegal transition %s -> %s for workflow %s", oldState, newState, workflowID)
	}

	now := time.Now().UTC()
	st.State = newState
	switch newState {
	case workflow.Running:
		if st.StartedAt.IsZero() {
			st.StartedAt = now
		}
		st.PausedAt = nil
	case workflow.Paused:
		st.PausedAt = &now
	}
	workflowType := st.WorkflowType
	c.mu.Unlock()

	if c.subject != nil {
		c.subject.NotifyWorkflowState(observer.WorkflowStateEvent{
			WorkflowID:   workflowID,
			WorkflowType: workflowType,
			Previous:     string(oldState),
			New:          string(newState),
			Timestamp:    now,
			Reason:       reason,
		})
	}
	return nil
}

// GetExecutionState returns the live view for workflowID, creating a Queued
// placeholder if none exists (e.g. the workflow was never registered, or
// was already Forgotten).
func (c *Controller) GetExecutionState(workflowID string) ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[workflowID]
	if !ok {
		return ExecutionState{WorkflowID: workflowID, State: workflow.Queued}
	}
	completed := make([]string, len(st.CompletedAgents))
	copy(completed, st.CompletedAgents)
	return ExecutionState{
		WorkflowID:         st.WorkflowID,
		WorkflowType:       st.WorkflowType,
		State:              st.State,
		CurrentAgentID:     st.CurrentAgentID,
		CurrentStageIndex:  st.CurrentStageIndex,
		CompletedAgents:    completed,
		StartedAt:          st.StartedAt,
		PausedAt:           st.PausedAt,
		LatestCheckpointID: st.LatestCheckpointID,
	}
}

// UpdateProgress records the current agent/stage/completed-agents on the
// execution state. The executor calls this at each stage boundary so
// GetExecutionState reflects live progress.
func (c *Controller) UpdateProgress(workflowID, agentID string, stageIndex int, completedAgents []string) {
	c.mu.Lock()
	if st, ok := c.states[workflowID]; ok {
		st.CurrentAgentID = agentID
		st.CurrentStageIndex = stageIndex
		st.CompletedAgents = append([]string(nil), completedAgents...)
	}
	c.mu.Unlock()
}
