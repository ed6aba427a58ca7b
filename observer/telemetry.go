package observer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TelemetrySink is the Prometheus-backed observer from §4.5, modeled on the
// teacher's graph/metrics.go PrometheusMetrics: promauto.With(registry)
// constructors, counters tagged by workflow type, gauges for live state.
type TelemetrySink struct {
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowsFailed    *prometheus.CounterVec
	workflowsPaused    *prometheus.CounterVec
	workflowsResumed   *prometheus.CounterVec
	workflowsCancelled *prometheus.CounterVec

	checkpointsSaved     *prometheus.CounterVec
	checkpointsLoaded    *prometheus.CounterVec
	checkpointsDeleted   *prometheus.CounterVec
	checkpointsValidated *prometheus.CounterVec
	checkpointsErrored   *prometheus.CounterVec

	workflowDuration     *prometheus.HistogramVec
	pauseResumeLatency   *prometheus.HistogramVec
	checkpointSaveLoad   *prometheus.HistogramVec
	checkpointSize       *prometheus.HistogramVec

	activeWorkflows  prometheus.Gauge
	pausedWorkflows  prometheus.Gauge
	activeCheckpoint prometheus.Gauge
	storageBytes     prometheus.Gauge

	// pausedAt is plain map state, not a Prometheus collector, so it needs
	// its own lock: concurrent workflows transitioning at once (§5) means
	// OnWorkflowState can run for A and B at the same time, and the
	// CounterVec/Gauge calls above are already concurrency-safe on their
	// own but a bare map read/write is not. Mirrors the teacher's
	// PrometheusMetrics, which documents "thread-safe: all methods use ...
	// mutex protection" for exactly this reason.
	mu       sync.Mutex
	pausedAt map[string]time.Time
}

// NewTelemetrySink registers every metric against reg (pass
// prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer for the process-wide default).
func NewTelemetrySink(reg prometheus.Registerer) *TelemetrySink {
	factory := promauto.With(reg)
	return &TelemetrySink{
		workflowsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_workflows_started_total", Help: "Workflows transitioned to Running.",
		}, []string{"workflow_type"}),
		workflowsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_workflows_completed_total", Help: "Workflows transitioned to Completed.",
		}, []string{"workflow_type"}),
		workflowsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_workflows_failed_total", Help: "Workflows transitioned to Failed.",
		}, []string{"workflow_type"}),
		workflowsPaused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_workflows_paused_total", Help: "Workflows transitioned to Paused.",
		}, []string{"workflow_type"}),
		workflowsResumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_workflows_resumed_total", Help: "Workflows transitioned from Paused back to Running.",
		}, []string{"workflow_type"}),
		workflowsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_workflows_cancelled_total", Help: "Workflows transitioned to Cancelled.",
		}, []string{"workflow_type"}),

		checkpointsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_checkpoints_saved_total", Help: "Checkpoint Created events.",
		}, []string{"workflow_type", "automated"}),
		checkpointsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_checkpoints_loaded_total", Help: "Checkpoint Loaded events.",
		}, []string{"workflow_type"}),
		checkpointsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_checkpoints_deleted_total", Help: "Checkpoint Deleted events.",
		}, []string{"workflow_type"}),
		checkpointsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_checkpoints_validated_total", Help: "Checkpoint Validated events.",
		}, []string{"workflow_type"}),
		checkpointsErrored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_checkpoints_errored_total", Help: "Checkpoint Failed events.",
		}, []string{"workflow_type"}),

		workflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentflow_workflow_duration_seconds", Help: "Time from Running to a terminal state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_type"}),
		pauseResumeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentflow_pause_resume_latency_seconds", Help: "Time spent Paused before Resume.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_type"}),
		checkpointSaveLoad: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentflow_checkpoint_io_seconds", Help: "Checkpoint save/load latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_type", "op"}),
		checkpointSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentflow_checkpoint_size_bytes", Help: "Checkpoint snapshot size.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"workflow_type", "automated"}),

		activeWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_active_workflows", Help: "Workflows started and not yet terminal (Running or Paused).",
		}),
		pausedWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_paused_workflows", Help: "Workflows currently Paused.",
		}),
		activeCheckpoint: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_active_checkpoints", Help: "Checkpoints currently persisted.",
		}),
		storageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_checkpoint_storage_bytes", Help: "Cumulative checkpoint storage bytes.",
		}),

		pausedAt: map[string]time.Time{},
	}
}

var (
	_ WorkflowObserver   = (*TelemetrySink)(nil)
	_ CheckpointObserver = (*TelemetrySink)(nil)
)

func (t *TelemetrySink) OnWorkflowState(e WorkflowStateEvent) {
	switch e.New {
	case "Running":
		t.mu.Lock()
		started, resumed := t.pausedAt[e.WorkflowID]
		if resumed {
			delete(t.pausedAt, e.WorkflowID)
		}
		t.mu.Unlock()

		if resumed {
			t.workflowsResumed.WithLabelValues(e.WorkflowType).Inc()
			t.pauseResumeLatency.WithLabelValues(e.WorkflowType).Observe(e.Timestamp.Sub(started).Seconds())
			t.pausedWorkflows.Dec()
		} else {
			t.workflowsStarted.WithLabelValues(e.WorkflowType).Inc()
			t.activeWorkflows.Inc()
		}
	case "Paused":
		t.workflowsPaused.WithLabelValues(e.WorkflowType).Inc()
		t.pausedWorkflows.Inc()
		t.mu.Lock()
		t.pausedAt[e.WorkflowID] = e.Timestamp
		t.mu.Unlock()
	case "Completed":
		t.workflowsCompleted.WithLabelValues(e.WorkflowType).Inc()
		t.activeWorkflows.Dec()
	case "Failed", "Cancelled":
		if e.New == "Failed" {
			t.workflowsFailed.WithLabelValues(e.WorkflowType).Inc()
		} else {
			t.workflowsCancelled.WithLabelValues(e.WorkflowType).Inc()
		}
		t.activeWorkflows.Dec()
		t.mu.Lock()
		_, wasPaused := t.pausedAt[e.WorkflowID]
		delete(t.pausedAt, e.WorkflowID)
		t.mu.Unlock()
		if wasPaused {
			t.pausedWorkflows.Dec()
		}
	}
}

func (t *TelemetrySink) OnCheckpointEvent(e CheckpointEvent) {
	automated := "false"
	if e.Automated {
		automated = "true"
	}
	switch e.Type {
	case CheckpointCreated:
		t.checkpointsSaved.WithLabelValues(e.WorkflowType, automated).Inc()
		t.activeCheckpoint.Inc()
		if e.SizeBytes != nil {
			t.checkpointSize.WithLabelValues(e.WorkflowType, automated).Observe(float64(*e.SizeBytes))
			t.storageBytes.Add(float64(*e.SizeBytes))
		}
	case CheckpointLoaded:
		t.checkpointsLoaded.WithLabelValues(e.WorkflowType).Inc()
	case CheckpointDeleted:
		t.checkpointsDeleted.WithLabelValues(e.WorkflowType).Inc()
		t.activeCheckpoint.Dec()
	case CheckpointValidated:
		t.checkpointsValidated.WithLabelValues(e.WorkflowType).Inc()
	case CheckpointFailed:
		t.checkpointsErrored.WithLabelValues(e.WorkflowType).Inc()
	}
}
