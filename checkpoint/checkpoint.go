// Package checkpoint implements C1: durable, content-safe persistence of
// workflow-progress snapshots, with a file back-end and a MySQL-backed
// primary back-end. When MySQL fails, Save and Load fall back to the file
// back-end; listing, statistics and deletes report the MySQL failure as a
// StorageError instead.
package checkpoint

import (
	"time"

	"github.com/dshills/agentflow/internal/idgen"
)

// SchemaVersion is stamped on every checkpoint created by this package.
const SchemaVersion = 1

// Checkpoint is a persisted snapshot of workflow progress taken at a stage
// boundary. Snapshot holds the opaque serialized workflow record; everything
// else is indexing and bookkeeping metadata.
type Checkpoint struct {
	ID             string    `json:"checkpoint_id"`
	WorkflowID     string    `json:"workflow_id"`
	WorkflowType   string    `json:"workflow_type"`
	CreatedAt      time.Time `json:"created_at"`
	AgentID        string    `json:"agent_id,omitempty"`
	StageIndex     int       `json:"stage_index"`
	Snapshot       string    `json:"snapshot"`
	SchemaVersion  int       `json:"schema_version"`
	StateSizeBytes int       `json:"state_size_bytes"`
	Label          string    `json:"label,omitempty"`
	Metadata       Metadata  `json:"metadata"`
}

// Metadata is the free-form bookkeeping attached to a Checkpoint.
type Metadata struct {
	Automated       bool           `json:"automated"`
	Reason          string         `json:"reason"`
	UserID          string         `json:"user_id,omitempty"`
	Context         map[string]any `json:"context"`
	CompletedAgents []string       `json:"completed_agents"`
}

// NewMetadata returns a Metadata value with non-nil collection fields, so a
// checkpoint's serialized metadata preserves empty collections rather than
// omitting them.
func NewMetadata(reason string, automated bool, completedAgents []string) Metadata {
	if completedAgents == nil {
		completedAgents = []string{}
	}
	return Metadata{
		Automated:       automated,
		Reason:          reason,
		Context:         map[string]any{},
		CompletedAgents: completedAgents,
	}
}

// newID generates a checkpoint_id of the form ckpt_<UTC
// yyyyMMdd_HHmmss>_<8 hex>.
func newID() string {
	return idgen.New("ckpt")
}

// Statistics is the aggregate, recomputable view over a store's checkpoints.
type Statistics struct {
	TotalCount  int
	AverageSize float64
	LargestSize int
	TotalBytes  int64
	Last24h     int
	Oldest      *time.Time
	Newest      *time.Time
}
