package observer

import (
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// AlertPayload is one entry of the list POSTed to the external alert
// endpoint, shaped like a Prometheus Alertmanager webhook payload.
type AlertPayload struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// AlertSink is the §4.5 alert sink: it watches both subjects and POSTs
// AlertPayloads to an external endpoint via resty. Transport failures are
// handed to onTransportError and never propagate — alerting is explicitly
// best-effort.
type AlertSink struct {
	client              *resty.Client
	endpoint            string
	longRunningThreshold time.Duration
	storageThresholdB   int64
	onTransportError    func(error)

	mu             sync.Mutex
	startedAt      map[string]time.Time
	cumulativeSize int64
	storageWarned  bool
}

// AlertOption configures an AlertSink at construction time.
type AlertOption func(*AlertSink)

// WithLongRunningThreshold overrides the default 30-minute threshold.
func WithLongRunningThreshold(d time.Duration) AlertOption {
	return func(a *AlertSink) { a.longRunningThreshold = d }
}

// WithStorageThreshold overrides the default 5 GiB threshold.
func WithStorageThreshold(bytes int64) AlertOption {
	return func(a *AlertSink) { a.storageThresholdB = bytes }
}

// WithTransportErrorHandler registers a callback for POST failures, so the
// wiring layer can route them through LogObserver instead of discarding
// them silently.
func WithTransportErrorHandler(fn func(error)) AlertOption {
	return func(a *AlertSink) { a.onTransportError = fn }
}

// NewAlertSink creates an AlertSink POSTing to endpoint. resty's client is
// used at its default settings (no retry) since transport failures must
// only be logged, never retried or thrown.
func NewAlertSink(endpoint string, opts ...AlertOption) *AlertSink {
	a := &AlertSink{
		client:               resty.New(),
		endpoint:             endpoint,
		longRunningThreshold: 30 * time.Minute,
		storageThresholdB:    5 * 1024 * 1024 * 1024,
		startedAt:            map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var (
	_ WorkflowObserver   = (*AlertSink)(nil)
	_ CheckpointObserver = (*AlertSink)(nil)
)

func (a *AlertSink) OnWorkflowState(e WorkflowStateEvent) {
	switch e.New {
	case "Running":
		a.mu.Lock()
		first, seen := a.startedAt[e.WorkflowID]
		if !seen {
			a.startedAt[e.WorkflowID] = e.Timestamp
			a.mu.Unlock()
			return
		}
		elapsed := e.Timestamp.Sub(first)
		a.mu.Unlock()
		if elapsed > a.longRunningThreshold {
			a.post(AlertPayload{
				Labels:      map[string]string{"alertname": "LongRunningWorkflow", "severity": "warning", "service": "agentflow", "workflow_id": e.WorkflowID},
				Annotations: map[string]string{"summary": "workflow running longer than threshold", "description": e.WorkflowID},
				StartsAt:    e.Timestamp,
			})
		}
	case "Failed":
		a.post(AlertPayload{
			Labels:      map[string]string{"alertname": "WorkflowFailed", "severity": "critical", "service": "agentflow", "workflow_id": e.WorkflowID},
			Annotations: map[string]string{"summary": "workflow transitioned to Failed", "description": e.Reason},
			StartsAt:    e.Timestamp,
		})
		a.mu.Lock()
		delete(a.startedAt, e.WorkflowID)
		a.mu.Unlock()
	case "Completed", "Cancelled":
		a.mu.Lock()
		delete(a.startedAt, e.WorkflowID)
		a.mu.Unlock()
	}
}

func (a *AlertSink) OnCheckpointEvent(e CheckpointEvent) {
	if e.Type == CheckpointCreated && e.SizeBytes != nil {
		a.mu.Lock()
		a.cumulativeSize += int64(*e.SizeBytes)
		exceeded := a.cumulativeSize > a.storageThresholdB && !a.storageWarned
		if exceeded {
			a.storageWarned = true
		}
		a.mu.Unlock()
		if exceeded {
			a.post(AlertPayload{
				Labels:      map[string]string{"alertname": "CheckpointStorageHigh", "severity": "warning", "service": "agentflow"},
				Annotations: map[string]string{"summary": "cumulative checkpoint storage exceeded threshold"},
				StartsAt:    e.Timestamp,
			})
		}
	}
	if e.Type == CheckpointFailed {
		a.post(AlertPayload{
			Labels:      map[string]string{"alertname": "CheckpointValidationFailed", "severity": "warning", "service": "agentflow", "checkpoint_id": e.CheckpointID},
			Annotations: map[string]string{"summary": "checkpoint failed validation", "description": e.Reason},
			StartsAt:    e.Timestamp,
		})
	}
}

func (a *AlertSink) post(payloads ...AlertPayload) {
	if a.endpoint == "" {
		return
	}
	_, err := a.client.R().SetBody(payloads).Post(a.endpoint)
	if err != nil && a.onTransportError != nil {
		a.onTransportError(err)
	}
}
