package observer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestTelemetrySinkCountsWorkflowFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewTelemetrySink(reg)

	sink.OnWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", WorkflowType: "research", New: "Running"})
	sink.OnWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", WorkflowType: "research", New: "Failed"})

	got := counterValue(t, sink.workflowsFailed.WithLabelValues("research"))
	if got != 1 {
		t.Errorf("workflows_failed_total = %v, want 1", got)
	}
}

func TestTelemetrySinkCountsResumeNotAsFreshStart(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewTelemetrySink(reg)

	sink.OnWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", WorkflowType: "research", New: "Running"})
	sink.OnWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", WorkflowType: "research", New: "Paused"})
	sink.OnWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", WorkflowType: "research", New: "Running"})

	if got := counterValue(t, sink.workflowsStarted.WithLabelValues("research")); got != 1 {
		t.Errorf("workflows_started_total = %v, want 1 (resume must not count as a fresh start)", got)
	}
	if got := counterValue(t, sink.workflowsResumed.WithLabelValues("research")); got != 1 {
		t.Errorf("workflows_resumed_total = %v, want 1", got)
	}
}

func TestTelemetrySinkCountsCheckpointsSaved(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewTelemetrySink(reg)

	size := 512
	sink.OnCheckpointEvent(CheckpointEvent{CheckpointID: "ckpt_1", WorkflowType: "research", Automated: true, Type: CheckpointCreated, SizeBytes: &size})

	got := counterValue(t, sink.checkpointsSaved.WithLabelValues("research", "true"))
	if got != 1 {
		t.Errorf("checkpoints_saved_total = %v, want 1", got)
	}
}
