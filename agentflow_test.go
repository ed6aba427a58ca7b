package agentflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/agentflow/checkpoint"
	"github.com/dshills/agentflow/executor"
	"github.com/dshills/agentflow/observer"
	"github.com/dshills/agentflow/stage"
	"github.com/dshills/agentflow/workflow"
)

func newTestEngine(t *testing.T) (*Engine, *observer.Subject, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store, err := checkpoint.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	subject := observer.NewSubject()
	return New(store, subject), subject, dir
}

func fixedStage(result string) stage.Stage {
	return stage.Func(func(ctx context.Context, messages []workflow.Message) (stage.Response, error) {
		return stage.Response{
			Messages: []workflow.Message{{Role: workflow.RoleAssistant, Content: result}},
			Result:   result,
		}, nil
	})
}

// waitForTerminal polls GetStatus until the workflow reaches a terminal
// state (or Paused, which also halts the background goroutine), failing the
// test if it takes longer than a couple of seconds — StartWorkflow runs the
// pipeline on a goroutine, so tests that assert on the outcome must wait for
// it the same way an HTTP poller would.
func waitForTerminal(t *testing.T, e *Engine, workflowID string) StatusView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := e.GetStatus(workflowID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if st.Status.IsTerminal() || st.Status == workflow.Paused {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s did not settle before deadline, last status %s", workflowID, st.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitForStatus polls GetStatus until done accepts the workflow's status,
// failing the test if that takes longer than a couple of seconds.
func waitForStatus(t *testing.T, e *Engine, workflowID string, done func(workflow.State) bool) StatusView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := e.GetStatus(workflowID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if done(st.Status) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s did not reach the awaited status before deadline, last status %s", workflowID, st.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestScenarioHappyPath is spec.md §8 scenario 1: three stages run in order
// to completion.
func TestScenarioHappyPath(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.RegisterPipeline("research", executor.Pipeline{
		{AgentID: "Clarify", Stage: fixedStage("Query is clear"), IsClarification: true},
		{AgentID: "Brief", Stage: fixedStage("Brief: quantum computing overview")},
		{AgentID: "Researcher", Stage: fixedStage("Facts: quantum computing uses qubits")},
	})

	start, err := e.StartWorkflow(context.Background(), "research", "What is quantum computing?")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if start.Status != workflow.Queued {
		t.Fatalf("Status = %s, want Queued", start.Status)
	}

	final := waitForTerminal(t, e, start.WorkflowID)
	if final.Status != workflow.Completed {
		t.Fatalf("Status = %s, want Completed", final.Status)
	}
	if final.Progress.TotalSteps != 3 {
		t.Fatalf("TotalSteps = %d, want 3", final.Progress.TotalSteps)
	}

	page, err := e.ListCheckpoints(context.Background(), start.WorkflowID, 1, 20)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if page.TotalCount != 7 {
		t.Fatalf("TotalCount = %d, want 7 (before/after per stage plus workflow-complete)", page.TotalCount)
	}
}

// TestScenarioClarificationEarlyExit is spec.md §8 scenario 2.
func TestScenarioClarificationEarlyExit(t *testing.T) {
	e, _, _ := newTestEngine(t)
	briefCalled := false
	e.RegisterPipeline("research", executor.Pipeline{
		{AgentID: "Clarify", Stage: fixedStage("Clarification needed: please specify scope."), IsClarification: true},
		{AgentID: "Brief", Stage: stage.Func(func(ctx context.Context, messages []workflow.Message) (stage.Response, error) {
			briefCalled = true
			return stage.Response{Result: "should not run"}, nil
		})},
	})

	start, err := e.StartWorkflow(context.Background(), "research", "q")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	final := waitForTerminal(t, e, start.WorkflowID)
	if final.Status != workflow.Completed {
		t.Fatalf("Status = %s, want Completed", final.Status)
	}
	if briefCalled {
		t.Fatal("Brief must not run after a clarification early exit")
	}
}

// TestScenarioPauseAndResume is spec.md §8 scenario 3: Pause is requested
// externally, takes effect at the next stage boundary, and Resume continues
// to completion.
func TestScenarioPauseAndResume(t *testing.T) {
	e, _, _ := newTestEngine(t)
	// Clarify is held until the pause has been requested, so the request
	// lands while the workflow is Running and takes effect at the boundary
	// after Clarify.
	release := make(chan struct{})
	clarify := stage.Func(func(ctx context.Context, messages []workflow.Message) (stage.Response, error) {
		<-release
		return stage.Response{
			Messages: []workflow.Message{{Role: workflow.RoleAssistant, Content: "Query is clear"}},
			Result:   "Query is clear",
		}, nil
	})
	e.RegisterPipeline("research", executor.Pipeline{
		{AgentID: "Clarify", Stage: clarify, IsClarification: true},
		{AgentID: "Brief", Stage: fixedStage("Brief: ...")},
		{AgentID: "Researcher", Stage: fixedStage("Facts: ...")},
	})

	start, err := e.StartWorkflow(context.Background(), "research", "q")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	// StartWorkflow returns while the workflow is still Queued, and Pause is
	// a Conflict until the background run has moved it to Running.
	waitForStatus(t, e, start.WorkflowID, func(s workflow.State) bool { return s == workflow.Running })
	if _, err := e.Pause(start.WorkflowID, "operator requested pause"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(release)

	paused := waitForTerminal(t, e, start.WorkflowID)
	if paused.Status != workflow.Paused {
		t.Fatalf("Status = %s, want Paused", paused.Status)
	}

	if _, err := e.Pause(start.WorkflowID, "again"); err == nil {
		t.Fatal("expected Pause on an already-Paused workflow to be rejected")
	}

	if _, err := e.Resume(context.Background(), start.WorkflowID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// Resume relaunches the run in the background; until it starts, the
	// workflow still reports Paused, which waitForTerminal would accept.
	waitForStatus(t, e, start.WorkflowID, func(s workflow.State) bool { return s != workflow.Paused })
	final := waitForTerminal(t, e, start.WorkflowID)
	if final.Status != workflow.Completed {
		t.Fatalf("Status = %s, want Completed", final.Status)
	}
}

// TestScenarioCancel is spec.md §8 scenario 4.
func TestScenarioCancel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	researcherCalled := false
	e.RegisterPipeline("research", executor.Pipeline{
		{AgentID: "Clarify", Stage: fixedStage("Query is clear"), IsClarification: true},
		{AgentID: "Brief", Stage: fixedStage("Brief: ...")},
		{AgentID: "Researcher", Stage: stage.Func(func(ctx context.Context, messages []workflow.Message) (stage.Response, error) {
			researcherCalled = true
			return stage.Response{Result: "Facts: ..."}, nil
		})},
	})

	start, err := e.StartWorkflow(context.Background(), "research", "q")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	if _, err := e.Cancel(start.WorkflowID, "operator cancel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitForTerminal(t, e, start.WorkflowID)
	if final.Status != workflow.Cancelled {
		t.Fatalf("Status = %s, want Cancelled", final.Status)
	}
	if researcherCalled {
		t.Fatal("Researcher must not run after cancellation takes effect")
	}

	if _, err := e.Pause(start.WorkflowID, ""); err == nil {
		t.Fatal("expected Conflict pausing a Cancelled workflow")
	}
}

// TestScenarioRetryExhaustion is spec.md §8 scenario 5: a stage that always
// fails exhausts its retry budget and the workflow transitions to Failed.
func TestScenarioRetryExhaustion(t *testing.T) {
	e, _, _ := newTestEngine(t)
	invocations := 0
	raw := stage.Func(func(ctx context.Context, messages []workflow.Message) (stage.Response, error) {
		invocations++
		return stage.Response{}, errors.New("researcher exploded")
	})
	decorated := stage.Decorate(raw, stage.Config{AgentID: "Researcher", MaxAttempts: 3})
	e.RegisterPipeline("research", executor.Pipeline{{AgentID: "Researcher", Stage: decorated}})

	start, err := e.StartWorkflow(context.Background(), "research", "q")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	final := waitForTerminal(t, e, start.WorkflowID)
	if final.Status != workflow.Failed {
		t.Fatalf("Status = %s, want Failed", final.Status)
	}
	if invocations != 3 {
		t.Fatalf("invocations = %d, want 3", invocations)
	}
}

// TestScenarioCorruptCheckpointValidation is spec.md §8 scenario 6: a
// checkpoint whose snapshot text is not valid JSON fails ValidateCheckpoint
// with a message naming the problem, without panicking the store.
func TestScenarioCorruptCheckpointValidation(t *testing.T) {
	e, _, dir := newTestEngine(t)
	e.RegisterPipeline("research", executor.Pipeline{
		{AgentID: "Clarify", Stage: fixedStage("Query is clear"), IsClarification: false},
	})

	start, err := e.StartWorkflow(context.Background(), "research", "q")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	waitForTerminal(t, e, start.WorkflowID)

	latest, err := e.GetLatestCheckpoint(context.Background(), start.WorkflowID)
	if err != nil {
		t.Fatalf("GetLatestCheckpoint: %v", err)
	}

	corruptPath := filepath.Join(dir, latest.ID+".json")
	if err := os.WriteFile(corruptPath, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("corrupting checkpoint file: %v", err)
	}

	result := e.ValidateCheckpoint(context.Background(), latest.ID)
	if result.IsValid {
		t.Fatal("expected a corrupted checkpoint to fail validation")
	}
	if result.ErrorMessage == "" {
		t.Fatal("expected a non-empty error message naming the problem")
	}
}
