// Package agentflow is the control-surface facade the out-of-scope HTTP
// boundary is expected to call: it wires C1–C6 together behind the
// StartWorkflow/GetStatus/Pause/Resume/Cancel/checkpoint-query operations of
// §6.1, the way graph/engine.go's Engine is the single entry point the
// teacher's examples construct and call Run/Resume on.
package agentflow

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/agentflow/checkpoint"
	"github.com/dshills/agentflow/control"
	"github.com/dshills/agentflow/corerr"
	"github.com/dshills/agentflow/executor"
	"github.com/dshills/agentflow/observer"
	"github.com/dshills/agentflow/workflow"
)

// Engine composes the six core components behind the §6.1 control surface.
// One Engine instance typically backs an entire process; it is safe for
// concurrent use by multiple callers (e.g. multiple HTTP handlers).
type Engine struct {
	store      checkpoint.Interface
	controller *control.Controller
	subject    *observer.Subject
	exec       *executor.Executor

	mu            sync.Mutex
	pipelines     map[string]executor.Pipeline
	createdAt     map[string]time.Time
	workflowTypes map[string]string
}

// New creates an Engine around the given checkpoint store and observer
// subject. subject may be nil if no fan-out sinks are wired.
func New(store checkpoint.Interface, subject *observer.Subject) *Engine {
	controller := control.New(subject)
	return &Engine{
		store:         store,
		controller:    controller,
		subject:       subject,
		exec:          executor.New(store, controller, subject),
		pipelines:     map[string]executor.Pipeline{},
		createdAt:     map[string]time.Time{},
		workflowTypes: map[string]string{},
	}
}

// RegisterPipeline associates a workflow type name with the ordered stage
// list StartWorkflow will run for it. Pipelines must be registered before
// the first StartWorkflow call that names them.
func (e *Engine) RegisterPipeline(workflowType string, pipeline executor.Pipeline) {
	e.mu.Lock()
	e.pipelines[workflowType] = pipeline
	e.mu.Unlock()
}

// StartResult is StartWorkflow's success payload.
type StartResult struct {
	WorkflowID string
	Status     workflow.State
	CreatedAt  time.Time
	Message    string
}

// StartWorkflow registers a new workflow and launches it asynchronously: it
// returns as soon as the workflow is Queued, matching the HTTP boundary's
// expectation of an immediate response while the pipeline runs in the
// background. Errors here are all InvalidRequest — an unknown workflow type
// or an empty input.
func (e *Engine) StartWorkflow(ctx context.Context, workflowType, input string) (StartResult, error) {
	if workflowType == "" {
		return StartResult{}, corerr.New(corerr.InvalidRequest, "workflow type must not be empty")
	}
	if input == "" {
		return StartResult{}, corerr.New(corerr.InvalidRequest, "input must not be empty")
	}

	e.mu.Lock()
	pipeline, ok := e.pipelines[workflowType]
	e.mu.Unlock()
	if !ok {
		return StartResult{}, corerr.Newf(corerr.InvalidRequest, "unknown workflow type %q", workflowType)
	}

	id := workflow.NewID()
	now := time.Now().UTC()

	e.controller.Register(id, workflowType)
	e.mu.Lock()
	e.createdAt[id] = now
	e.workflowTypes[id] = workflowType
	e.mu.Unlock()

	go func() {
		// The background run gets its own context: the caller's ctx is
		// scoped to the HTTP request that launched it and must not cancel
		// a workflow that is meant to keep running after the request
		// returns. Cancellation flows exclusively through Cancel/the
		// controller's token, never through ctx.
		_, _ = e.exec.Start(context.Background(), executor.StartRequest{
			WorkflowID:   id,
			WorkflowType: workflowType,
			Input:        input,
			Pipeline:     pipeline,
		})
	}()

	return StartResult{WorkflowID: id, Status: workflow.Queued, CreatedAt: now}, nil
}

// Progress is the progress sub-object of GetStatus's result.
type Progress struct {
	CurrentStep               int
	TotalSteps                int
	CurrentAgent              string
	ElapsedSeconds            float64
	EstimatedRemainingSeconds *float64
}

// StatusView is GetStatus's success payload.
type StatusView struct {
	WorkflowID         string
	Status             workflow.State
	CreatedAt          time.Time
	StartedAt          *time.Time
	Progress           Progress
	LatestCheckpointID string
}

// GetStatus reports the live state of workflowID. Returns NotFound if the
// workflow was never started on this Engine.
func (e *Engine) GetStatus(workflowID string) (StatusView, error) {
	e.mu.Lock()
	createdAt, known := e.createdAt[workflowID]
	workflowType := e.workflowTypes[workflowID]
	pipeline := e.pipelines[workflowType]
	e.mu.Unlock()
	if !known {
		return StatusView{}, corerr.Newf(corerr.NotFound, "workflow %s not found", workflowID)
	}

	st := e.controller.GetExecutionState(workflowID)

	progress := Progress{
		CurrentStep:    st.CurrentStageIndex,
		TotalSteps:     len(pipeline),
		CurrentAgent:   st.CurrentAgentID,
		ElapsedSeconds: st.Elapsed().Seconds(),
	}
	if progress.CurrentStep > 0 && progress.TotalSteps > 0 && !st.State.IsTerminal() {
		perStep := progress.ElapsedSeconds / float64(progress.CurrentStep)
		remaining := perStep * float64(progress.TotalSteps-progress.CurrentStep)
		progress.EstimatedRemainingSeconds = &remaining
	}

	view := StatusView{
		WorkflowID:         workflowID,
		Status:             st.State,
		CreatedAt:          createdAt,
		Progress:           progress,
		LatestCheckpointID: st.LatestCheckpointID,
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		view.StartedAt = &started
	}
	return view, nil
}

// ActionResult is the shared success payload of Pause, Resume and Cancel.
type ActionResult struct {
	WorkflowID string
	Action     string
	Success    bool
	Status     workflow.State
	Timestamp  time.Time
}

// pausingStatus and cancellingStatus are the transient wire values §6.1
// requires action endpoints to return; they are not members of
// workflow.State because nothing in the state machine itself is ever
// actually in one of these states — they describe "a request was accepted
// and will take effect at the next stage boundary".
const (
	pausingStatus    workflow.State = "Pausing"
	cancellingStatus workflow.State = "Cancelling"
)

// Pause requests that workflowID pause at its next stage boundary. Conflict
// if the workflow is not currently Running.
func (e *Engine) Pause(workflowID, reason string) (ActionResult, error) {
	st := e.controller.GetExecutionState(workflowID)
	if !e.known(workflowID) {
		return ActionResult{}, corerr.Newf(corerr.NotFound, "workflow %s not found", workflowID)
	}
	if st.State != workflow.Running {
		return ActionResult{}, corerr.Newf(corerr.Conflict, "cannot pause workflow %s in state %s", workflowID, st.State)
	}
	e.controller.RequestPause(workflowID, reason)
	return ActionResult{WorkflowID: workflowID, Action: "pause", Success: true, Status: pausingStatus, Timestamp: time.Now().UTC()}, nil
}

// Cancel requests that workflowID stop at its next stage boundary.
func (e *Engine) Cancel(workflowID, reason string) (ActionResult, error) {
	if !e.known(workflowID) {
		return ActionResult{}, corerr.Newf(corerr.NotFound, "workflow %s not found", workflowID)
	}
	e.controller.RequestCancel(workflowID, reason)
	return ActionResult{WorkflowID: workflowID, Action: "cancel", Success: true, Status: cancellingStatus, Timestamp: time.Now().UTC()}, nil
}

// Resume relaunches workflowID from its latest checkpoint. Conflict if the
// workflow is not currently Paused; NotFound if it has no checkpoint to
// resume from.
func (e *Engine) Resume(ctx context.Context, workflowID string) (ActionResult, error) {
	if !e.known(workflowID) {
		return ActionResult{}, corerr.Newf(corerr.NotFound, "workflow %s not found", workflowID)
	}
	st := e.controller.GetExecutionState(workflowID)
	if st.State != workflow.Paused {
		return ActionResult{}, corerr.Newf(corerr.Conflict, "cannot resume workflow %s in state %s", workflowID, st.State)
	}

	cp, err := e.store.GetLatest(ctx, workflowID)
	if err != nil {
		return ActionResult{}, err
	}
	if cp == nil {
		return ActionResult{}, corerr.Newf(corerr.NotFound, "workflow %s has no checkpoint to resume from", workflowID)
	}

	e.mu.Lock()
	pipeline := e.pipelines[e.workflowTypes[workflowID]]
	e.mu.Unlock()

	go func() {
		_, _ = e.exec.Resume(context.Background(), cp.ID, pipeline)
	}()

	return ActionResult{WorkflowID: workflowID, Action: "resume", Success: true, Status: workflow.Running, Timestamp: time.Now().UTC()}, nil
}

func (e *Engine) known(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.createdAt[workflowID]
	return ok
}

// CheckpointPage is ListCheckpoints's paged result.
type CheckpointPage struct {
	Checkpoints []*checkpoint.Checkpoint
	Page        int
	PageSize    int
	TotalCount  int
}

// ListCheckpoints returns a newest-first page of checkpoints for workflowID.
func (e *Engine) ListCheckpoints(ctx context.Context, workflowID string, page, pageSize int) (CheckpointPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	all, err := e.store.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return CheckpointPage{}, err
	}

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	return CheckpointPage{Checkpoints: all[start:end], Page: page, PageSize: pageSize, TotalCount: len(all)}, nil
}

// GetCheckpoint returns a single checkpoint by id.
func (e *Engine) GetCheckpoint(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	cp, err := e.store.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, corerr.Newf(corerr.NotFound, "checkpoint %s not found", checkpointID)
	}
	return cp, nil
}

// GetLatestCheckpoint returns the most recent checkpoint for workflowID.
func (e *Engine) GetLatestCheckpoint(ctx context.Context, workflowID string) (*checkpoint.Checkpoint, error) {
	cp, err := e.store.GetLatest(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, corerr.Newf(corerr.NotFound, "workflow %s has no checkpoints", workflowID)
	}
	return cp, nil
}

// ValidationResult is ValidateCheckpoint's payload.
type ValidationResult struct {
	CheckpointID       string
	IsValid            bool
	ErrorMessage       string
	ValidationMessages []string
}

// ValidateCheckpoint reports whether checkpointID's snapshot is structurally
// sound. Unlike most operations here, a validation failure is reported in
// the result rather than as an error — §6.1 lists no error case for this
// operation, only a field describing the failure.
func (e *Engine) ValidateCheckpoint(ctx context.Context, checkpointID string) ValidationResult {
	ok, err := e.store.Validate(ctx, checkpointID)
	if err != nil {
		return ValidationResult{CheckpointID: checkpointID, IsValid: false, ErrorMessage: err.Error(), ValidationMessages: []string{err.Error()}}
	}
	return ValidationResult{CheckpointID: checkpointID, IsValid: ok}
}

// DeleteResult is the shared payload of DeleteCheckpoint and
// DeleteForWorkflow.
type DeleteResult struct {
	DeletedCount         int
	DeletedCheckpointIDs []string
	Message              string
}

// DeleteCheckpoint removes a single checkpoint.
func (e *Engine) DeleteCheckpoint(ctx context.Context, checkpointID string) (DeleteResult, error) {
	if err := e.store.Delete(ctx, checkpointID); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{
		DeletedCount:         1,
		DeletedCheckpointIDs: []string{checkpointID},
		Message:              "checkpoint deleted",
	}, nil
}

// DeleteForWorkflow removes every checkpoint belonging to workflowID.
func (e *Engine) DeleteForWorkflow(ctx context.Context, workflowID string) (DeleteResult, error) {
	list, err := e.store.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return DeleteResult{}, err
	}
	ids := make([]string, 0, len(list))
	for _, cp := range list {
		ids = append(ids, cp.ID)
	}

	n, err := e.store.DeleteForWorkflow(ctx, workflowID)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{
		DeletedCount:         n,
		DeletedCheckpointIDs: ids,
		Message:              "workflow checkpoints deleted",
	}, nil
}

// Shutdown drops all per-workflow tracking the Engine holds. Call it once
// no more operations will be issued against this Engine instance.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.createdAt))
	for id := range e.createdAt {
		ids = append(ids, id)
	}
	e.createdAt = map[string]time.Time{}
	e.workflowTypes = map[string]string{}
	e.mu.Unlock()

	for _, id := range ids {
		e.controller.Forget(id)
	}
}
