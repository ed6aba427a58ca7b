package executor

import (
	"strings"
	"time"

	"github.com/dshills/agentflow/stage"
)

// StageEntry is one (agent_id, decorated_stage) pair of a Pipeline
// definition. IsClarification marks the stage eligible for the §4.3(d)
// early-termination policy; Timeout, when positive, is the per-stage hard
// timeout the executor applies around each run via stage.WithTimeout.
type StageEntry struct {
	AgentID         string
	Stage           stage.Stage
	IsClarification bool
	Timeout         time.Duration
}

// Pipeline is the ordered, non-branching list of stages that defines a
// workflow type. completed_agents plus this definition is sufficient to
// resume — there is no arena or back-reference structure.
type Pipeline []StageEntry

// clarificationNeededPhrase is Open Question 1's literal, preserved exactly
// as the source hard-coded it but isolated behind this single named
// constant and the single call site in isClarificationNeeded, so the match
// policy is easy to change later without touching the executor loop.
const clarificationNeededPhrase = "Clarification needed"

func isClarificationNeeded(output string) bool {
	return strings.Contains(strings.ToLower(output), strings.ToLower(clarificationNeededPhrase))
}

func firstIncompleteIndex(p Pipeline, completed map[string]bool) int {
	for i, entry := range p {
		if !completed[entry.AgentID] {
			return i
		}
	}
	return len(p)
}
