// Package observer implements C5: the subject/observer fan-out that feeds
// telemetry and alert sinks. It is modeled on the teacher's graph/emit
// package (Emitter/Event/BufferedEmitter) but splits the single event
// stream into the two subjects the specification names: workflow-state and
// checkpoint-event.
package observer

import (
	"sync"
	"time"
)

// CheckpointEventType enumerates the checkpoint-event subject's event kinds.
type CheckpointEventType string

const (
	CheckpointCreated   CheckpointEventType = "Created"
	CheckpointLoaded    CheckpointEventType = "Loaded"
	CheckpointDeleted   CheckpointEventType = "Deleted"
	CheckpointValidated CheckpointEventType = "Validated"
	CheckpointFailed    CheckpointEventType = "Failed"
)

// WorkflowStateEvent is published on every workflow state transition.
type WorkflowStateEvent struct {
	WorkflowID   string
	WorkflowType string
	Previous     string
	New          string
	Timestamp    time.Time
	Reason       string
	Metadata     map[string]any
}

// CheckpointEvent is published on every checkpoint-store operation worth
// observing.
type CheckpointEvent struct {
	CheckpointID string
	WorkflowID   string
	WorkflowType string
	Automated    bool
	Type         CheckpointEventType
	Timestamp    time.Time
	SizeBytes    *int
	Reason       string
}

// WorkflowObserver receives workflow-state events.
type WorkflowObserver interface {
	OnWorkflowState(WorkflowStateEvent)
}

// CheckpointObserver receives checkpoint events.
type CheckpointObserver interface {
	OnCheckpointEvent(CheckpointEvent)
}

// WorkflowObserverFunc adapts a plain function to WorkflowObserver.
type WorkflowObserverFunc func(WorkflowStateEvent)

func (f WorkflowObserverFunc) OnWorkflowState(e WorkflowStateEvent) { f(e) }

// CheckpointObserverFunc adapts a plain function to CheckpointObserver.
type CheckpointObserverFunc func(CheckpointEvent)

func (f CheckpointObserverFunc) OnCheckpointEvent(e CheckpointEvent) { f(e) }

// Subject is the fan-out point for one of the two event streams. Its zero
// value is not usable; construct with NewSubject. Notification takes a
// snapshot of the observer list under lock, then invokes each observer in
// order outside the lock, so a slow or misbehaving observer never blocks
// Subscribe calls or delays other subjects.
type Subject struct {
	mu                  sync.Mutex
	workflowObservers   []WorkflowObserver
	checkpointObservers []CheckpointObserver
	onPanic             func(recovered any)
}

// NewSubject creates an empty fan-out point.
func NewSubject() *Subject {
	return &Subject{}
}

// OnObserverPanic registers a handler invoked whenever a subscribed
// observer panics during notification, so the wiring layer can route it
// through structured logging instead of letting it escape silently.
func (s *Subject) OnObserverPanic(fn func(recovered any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPanic = fn
}

// SubscribeWorkflow registers o to receive workflow-state events.
func (s *Subject) SubscribeWorkflow(o WorkflowObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowObservers = append(s.workflowObservers, o)
}

// SubscribeCheckpoint registers o to receive checkpoint events.
func (s *Subject) SubscribeCheckpoint(o CheckpointObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointObservers = append(s.checkpointObservers, o)
}

// NotifyWorkflowState fans e out to every subscribed WorkflowObserver,
// serialized in subscription order. A panicking observer is recovered and
// never propagates back into the caller (the executor).
func (s *Subject) NotifyWorkflowState(e WorkflowStateEvent) {
	s.mu.Lock()
	snapshot := make([]WorkflowObserver, len(s.workflowObservers))
	copy(snapshot, s.workflowObservers)
	s.mu.Unlock()

	for _, o := range snapshot {
		s.safeNotifyWorkflow(o, e)
	}
}

func (s *Subject) safeNotifyWorkflow(o WorkflowObserver, e WorkflowStateEvent) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r)
		}
	}()
	o.OnWorkflowState(e)
}

// NotifyCheckpointEvent fans e out to every subscribed CheckpointObserver.
func (s *Subject) NotifyCheckpointEvent(e CheckpointEvent) {
	s.mu.Lock()
	snapshot := make([]CheckpointObserver, len(s.checkpointObservers))
	copy(snapshot, s.checkpointObservers)
	s.mu.Unlock()

	for _, o := range snapshot {
		s.safeNotifyCheckpoint(o, e)
	}
}

func (s *Subject) safeNotifyCheckpoint(o CheckpointObserver, e CheckpointEvent) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r)
		}
	}()
	o.OnCheckpointEvent(e)
}
