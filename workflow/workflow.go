package workflow

import "time"

// Workflow is the in-memory record of one pipeline run. It is mutated only
// by the executor; everything else (the controller, observers, the
// checkpoint store) sees it through read-only snapshots or the Checkpoint
// record it is serialized into.
type Workflow struct {
	ID                string         `json:"workflow_id"`
	Type              string         `json:"workflow_type"`
	Input             string         `json:"input"`
	StartedAt         time.Time      `json:"started_at"`
	State             State          `json:"state"`
	CurrentStageIndex int            `json:"current_stage_index"`
	CurrentAgentID    string         `json:"current_agent_id,omitempty"`
	CompletedAgents   []string       `json:"completed_agents"`
	StageResults      map[string]string `json:"stage_results"`
	Messages          []Message      `json:"messages"`
	PausedAt          *time.Time     `json:"paused_at,omitempty"`
	PauseReason       string         `json:"pause_reason,omitempty"`
	Paused            bool           `json:"paused"`
	Metadata          map[string]any `json:"metadata"`
}

// New creates a fresh Queued workflow record. All collection fields are
// initialized empty (never nil) so serialization preserves "empty, not
// absent" per the snapshot contract.
func New(id, workflowType, input string) *Workflow {
	return &Workflow{
		ID:              id,
		Type:            workflowType,
		Input:           input,
		StartedAt:       time.Now().UTC(),
		State:           Queued,
		CompletedAgents: []string{},
		StageResults:    map[string]string{},
		Messages:        []Message{},
		Metadata:        map[string]any{},
	}
}

// AppendMessage appends to the replayable log. The timestamp is stamped UTC
// at append time.
func (w *Workflow) AppendMessage(role Role, content, agentID string) {
	w.Messages = append(w.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
	})
}

// HasCompleted reports whether agentID already appears in CompletedAgents.
func (w *Workflow) HasCompleted(agentID string) bool {
	for _, a := range w.CompletedAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

// MarkStageStarted records that agentID is about to run at the given
// pipeline index.
func (w *Workflow) MarkStageStarted(agentID string, stageIndex int) {
	w.CurrentAgentID = agentID
	w.CurrentStageIndex = stageIndex
}

// MarkStageCompleted records a successful stage run: the textual result is
// stored in StageResults and agentID is appended to CompletedAgents,
// preserving invariant 1 (subset of pipeline, distinct, in pipeline order)
// as long as callers only mark agents in pipeline order.
func (w *Workflow) MarkStageCompleted(agentID, output string) {
	w.StageResults[agentID] = output
	w.CompletedAgents = append(w.CompletedAgents, agentID)
	w.CurrentStageIndex = len(w.CompletedAgents)
}

// MarkPaused records the paused-at timestamp and reason. It does not change
// State; callers transition state separately so the controller remains the
// sole arbiter of legality.
func (w *Workflow) MarkPaused(reason string) {
	now := time.Now().UTC()
	w.PausedAt = &now
	w.PauseReason = reason
	w.Paused = true
}

// MarkResumed clears the paused bookkeeping.
func (w *Workflow) MarkResumed() {
	w.PausedAt = nil
	w.PauseReason = ""
	w.Paused = false
}
