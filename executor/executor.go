// Package executor implements C3: driving an ordered stage list for one
// workflow, advancing the state machine, persisting checkpoints, and
// respecting pause/cancel requests at stage boundaries. Modeled on the
// teacher's graph/engine.go (Engine[S].Run, saveCheckpoint,
// ResumeFromCheckpoint) and graph/timeout.go's deadline-to-stage-error
// translation.
package executor

import (
	"context"
	"sync/atomic"

	"github.com/dshills/agentflow/checkpoint"
	"github.com/dshills/agentflow/control"
	"github.com/dshills/agentflow/corerr"
	"github.com/dshills/agentflow/observer"
	"github.com/dshills/agentflow/stage"
	"github.com/dshills/agentflow/workflow"
)

// Executor drives one workflow's pipeline to completion, pause or failure.
// A single Executor may be shared across concurrently running workflows —
// it holds no per-workflow mutable state of its own, matching §4.3's
// "single-threaded per workflow, independent across workflows" concurrency
// model.
type Executor struct {
	store      checkpoint.Interface
	controller *control.Controller
	subject    *observer.Subject

	checkpointFailures int64
}

// New creates an Executor wired to the given checkpoint store, pause/resume
// controller, and observer subject. subject may be nil.
func New(store checkpoint.Interface, controller *control.Controller, subject *observer.Subject) *Executor {
	return &Executor{store: store, controller: controller, subject: subject}
}

// CheckpointFailures returns the running count of swallowed checkpoint-save
// failures, per §4.3's "a counter is incremented" requirement.
func (e *Executor) CheckpointFailures() int64 {
	return atomic.LoadInt64(&e.checkpointFailures)
}

// StartRequest is the input to Start.
type StartRequest struct {
	WorkflowID   string // optional; generated if empty
	WorkflowType string
	Input        string
	Pipeline     Pipeline
}

// Start runs the normative algorithm of §4.3 from the beginning: it
// generates a workflow id if absent, registers the workflow with the
// controller, transitions Queued -> Running, seeds the message log, and
// drives every stage in order.
//
// On success it returns the workflow with State == Completed. If the
// workflow is cancelled mid-run it returns the workflow with State ==
// Cancelled and a nil error. If a pause takes effect it returns a non-nil
// *Paused error. Any other non-nil error means the workflow transitioned to
// Failed.
func (e *Executor) Start(ctx context.Context, req StartRequest) (*workflow.Workflow, error) {
	id := req.WorkflowID
	if id == "" {
		id = workflow.NewID()
	}
	wf := workflow.New(id, req.WorkflowType, req.Input)

	e.controller.Register(id, req.WorkflowType)
	if err := e.controller.Transition(id, workflow.Running, "start"); err != nil {
		return nil, err
	}
	wf.State = workflow.Running

	wf.AppendMessage(workflow.RoleUser, req.Input, "")

	// The main loop itself takes the "before-<agent>" checkpoint for the
	// first stage it runs, so Start does not take one here too.
	return e.run(ctx, wf, req.Pipeline, "after-")
}

// Resume loads checkpointID, reinstates the workflow record, transitions it
// back to Running, and re-enters the main loop at the first stage not in
// completed_agents — effectively skipping completed stages. Every
// subsequent stage boundary is checkpointed with reason
// "resumed-after-<agent>" instead of "after-<agent>".
func (e *Executor) Resume(ctx context.Context, checkpointID string, pipeline Pipeline) (*workflow.Workflow, error) {
	cp, err := e.store.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, corerr.Newf(corerr.NotFound, "checkpoint %s not found", checkpointID)
	}

	wf, err := workflow.ParseSnapshot(cp.Snapshot)
	if err != nil {
		return nil, corerr.Wrap(corerr.SerializationError, "parsing checkpoint snapshot", err)
	}
	wf.MarkResumed()

	e.controller.Register(wf.ID, wf.Type)
	if err := e.controller.OnWorkflowResumed(wf.ID, checkpointID); err != nil {
		return nil, err
	}
	wf.State = workflow.Running

	return e.run(ctx, wf, pipeline, "resumed-after-")
}

// run is the shared main loop used by both Start (afterPrefix="after-") and
// Resume (afterPrefix="resumed-after-"). It starts from the first pipeline
// index not already present in wf.CompletedAgents.
func (e *Executor) run(ctx context.Context, wf *workflow.Workflow, pipeline Pipeline, afterPrefix string) (*workflow.Workflow, error) {
	completed := map[string]bool{}
	for _, a := range wf.CompletedAgents {
		completed[a] = true
	}
	start := firstIncompleteIndex(pipeline, completed)

	for idx := start; idx < len(pipeline); idx++ {
		entry := pipeline[idx]

		sig := e.controller.Signal(wf.ID)
		if sig.CancelRequested {
			e.saveCheckpoint(ctx, wf, entry.AgentID, idx, "cancelled", true)
			_ = e.controller.Transition(wf.ID, workflow.Cancelled, sig.Reason)
			wf.State = workflow.Cancelled
			e.controller.ReleaseToken(wf.ID)
			return wf, nil
		}
		if sig.PauseRequested {
			cp := e.saveCheckpoint(ctx, wf, entry.AgentID, idx, "pause:"+sig.Reason, true)
			if err := e.controller.Transition(wf.ID, workflow.Paused, sig.Reason); err != nil {
				return nil, err
			}
			wf.State = workflow.Paused
			wf.MarkPaused(sig.Reason)
			checkpointID := ""
			if cp != nil {
				checkpointID = cp.ID
			}
			e.controller.ReleaseToken(wf.ID)
			return wf, &Paused{WorkflowID: wf.ID, CheckpointID: checkpointID, Reason: sig.Reason}
		}

		wf.MarkStageStarted(entry.AgentID, idx)
		e.controller.UpdateProgress(wf.ID, entry.AgentID, idx, wf.CompletedAgents)
		e.saveCheckpoint(ctx, wf, entry.AgentID, idx, "before-"+entry.AgentID, true)

		token := e.controller.Token(wf.ID)
		resp, err := stage.WithTimeout(entry.Stage, entry.Timeout).Run(token, wf.Messages)
		if err != nil {
			e.saveCheckpoint(ctx, wf, entry.AgentID, idx, "error-recovery:"+err.Error(), true)
			_ = e.controller.Transition(wf.ID, workflow.Failed, err.Error())
			wf.State = workflow.Failed
			e.controller.ReleaseToken(wf.ID)
			return wf, corerr.Wrap(corerr.StageError, "stage "+entry.AgentID+" failed", err)
		}

		for _, m := range resp.Messages {
			if m.AgentID == "" {
				m.AgentID = entry.AgentID
			}
			wf.Messages = append(wf.Messages, m)
		}
		wf.MarkStageCompleted(entry.AgentID, resp.Result)
		e.controller.UpdateProgress(wf.ID, entry.AgentID, idx+1, wf.CompletedAgents)
		e.saveCheckpoint(ctx, wf, entry.AgentID, idx, afterPrefix+entry.AgentID, true)

		if entry.IsClarification && isClarificationNeeded(resp.Result) {
			_ = e.controller.Transition(wf.ID, workflow.Completed, "clarification early exit")
			wf.State = workflow.Completed
			e.controller.ReleaseToken(wf.ID)
			return wf, nil
		}
	}

	e.saveCheckpoint(ctx, wf, "", len(pipeline), "workflow-complete", true)
	_ = e.controller.Transition(wf.ID, workflow.Completed, "")
	wf.State = workflow.Completed
	e.controller.ReleaseToken(wf.ID)
	return wf, nil
}

// saveCheckpoint serializes wf and persists a checkpoint. Failures are
// logged (via the observer fan-out, as a Failed checkpoint event) and
// swallowed: a live workflow must never abort because durability failed.
func (e *Executor) saveCheckpoint(ctx context.Context, wf *workflow.Workflow, agentID string, stageIndex int, reason string, automated bool) *checkpoint.Checkpoint {
	snapshot, err := wf.Snapshot()
	if err != nil {
		e.reportCheckpointFailure(wf, reason, err)
		return nil
	}

	cp, err := e.store.Save(ctx, checkpoint.SaveRequest{
		WorkflowID:   wf.ID,
		WorkflowType: wf.Type,
		AgentID:      agentID,
		StageIndex:   stageIndex,
		Snapshot:     snapshot,
		Metadata:     checkpoint.NewMetadata(reason, automated, append([]string(nil), wf.CompletedAgents...)),
	})
	if err != nil {
		e.reportCheckpointFailure(wf, reason, err)
		return nil
	}

	e.controller.OnCheckpointSaved(wf.ID, cp.ID)
	if e.subject != nil {
		size := cp.StateSizeBytes
		e.subject.NotifyCheckpointEvent(observer.CheckpointEvent{
			CheckpointID: cp.ID,
			WorkflowID:   wf.ID,
			WorkflowType: wf.Type,
			Automated:    automated,
			Type:         observer.CheckpointCreated,
			Timestamp:    cp.CreatedAt,
			SizeBytes:    &size,
			Reason:       reason,
		})
	}
	return cp
}

func (e *Executor) reportCheckpointFailure(wf *workflow.Workflow, reason string, err error) {
	atomic.AddInt64(&e.checkpointFailures, 1)
	if e.subject != nil {
		e.subject.NotifyCheckpointEvent(observer.CheckpointEvent{
			WorkflowID:   wf.ID,
			WorkflowType: wf.Type,
			Type:         observer.CheckpointFailed,
			Reason:       reason + ": " + err.Error(),
		})
	}
}
