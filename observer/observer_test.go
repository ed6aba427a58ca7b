package observer

import (
	"sync"
	"testing"
	"time"
)

func TestSubjectNotifiesInOrder(t *testing.T) {
	s := NewSubject()
	var mu sync.Mutex
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		s.SubscribeWorkflow(WorkflowObserverFunc(func(WorkflowStateEvent) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	s.NotifyWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", New: "Running", Timestamp: time.Now().UTC()})

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("observers not notified in subscription order: %v", order)
	}
}

func TestSubjectRecoversFromObserverPanic(t *testing.T) {
	s := NewSubject()
	var recoveredCount int
	s.OnObserverPanic(func(any) { recoveredCount++ })

	s.SubscribeWorkflow(WorkflowObserverFunc(func(WorkflowStateEvent) { panic("boom") }))

	var secondCalled bool
	s.SubscribeWorkflow(WorkflowObserverFunc(func(WorkflowStateEvent) { secondCalled = true }))

	s.NotifyWorkflowState(WorkflowStateEvent{WorkflowID: "wf_1", New: "Running"})

	if recoveredCount != 1 {
		t.Errorf("recoveredCount = %d, want 1", recoveredCount)
	}
	if !secondCalled {
		t.Error("a panicking observer must not block notification of subsequent observers")
	}
}

func TestCheckpointEventFanOut(t *testing.T) {
	s := NewSubject()
	var got CheckpointEvent
	s.SubscribeCheckpoint(CheckpointObserverFunc(func(e CheckpointEvent) { got = e }))

	size := 128
	s.NotifyCheckpointEvent(CheckpointEvent{CheckpointID: "ckpt_1", Type: CheckpointCreated, SizeBytes: &size})

	if got.CheckpointID != "ckpt_1" || got.Type != CheckpointCreated {
		t.Fatalf("unexpected event delivered: %+v", got)
	}
}
