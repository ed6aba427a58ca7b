package observer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// LogObserver writes one line per event to an io.Writer, in either plain
// text or JSON mode — the same two-mode design as the teacher's
// graph/emit.LogEmitter.
type LogObserver struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
}

// NewLogObserver creates a LogObserver writing to w. When asJSON is true
// each line is a JSON object; otherwise a compact text line.
func NewLogObserver(w io.Writer, asJSON bool) *LogObserver {
	return &LogObserver{w: w, asJSON: asJSON}
}

var (
	_ WorkflowObserver   = (*LogObserver)(nil)
	_ CheckpointObserver = (*LogObserver)(nil)
)

func (l *LogObserver) OnWorkflowState(e WorkflowStateEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.asJSON {
		buf, _ := json.Marshal(e)
		fmt.Fprintln(l.w, string(buf))
		return
	}
	fmt.Fprintf(l.w, "[workflow] %s (%s) %s -> %s reason=%q\n", e.WorkflowID, e.WorkflowType, e.Previous, e.New, e.Reason)
}

func (l *LogObserver) OnCheckpointEvent(e CheckpointEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.asJSON {
		buf, _ := json.Marshal(e)
		fmt.Fprintln(l.w, string(buf))
		return
	}
	fmt.Fprintf(l.w, "[checkpoint] %s workflow=%s type=%s reason=%q\n", e.CheckpointID, e.WorkflowID, e.Type, e.Reason)
}

// Logf satisfies stage.LogFunc so middleware diagnostics can be routed
// through the same sink as workflow/checkpoint events.
func (l *LogObserver) Logf(msg string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.asJSON {
		buf, _ := json.Marshal(map[string]any{"msg": msg, "fields": fields})
		fmt.Fprintln(l.w, string(buf))
		return
	}
	fmt.Fprintf(l.w, "[log] %s %v\n", msg, fields)
}
