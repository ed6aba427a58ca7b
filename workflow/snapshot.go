package workflow

import (
	"encoding/json"
	"fmt"
)

// Snapshot serializes w to the structured, human-readable text format the
// checkpoint store persists. encoding/json preserves UTC kind on time.Time
// fields (RFC3339 with a "Z" suffix) and, because every collection field of
// a Workflow is initialized non-nil (see New), empty slices/maps marshal as
// "[]"/"{}" rather than "null".
func (w *Workflow) Snapshot() (string, error) {
	buf, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal workflow snapshot: %w", err)
	}
	return string(buf), nil
}

// ParseSnapshot is the inverse of Snapshot. It returns an error wrapping the
// underlying json error when text does not parse.
func ParseSnapshot(text string) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, fmt.Errorf("parse workflow snapshot: %w", err)
	}
	if w.CompletedAgents == nil {
		w.CompletedAgents = []string{}
	}
	if w.StageResults == nil {
		w.StageResults = map[string]string{}
	}
	if w.Messages == nil {
		w.Messages = []Message{}
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	return &w, nil
}
