package workflow

import "time"

// Role identifies the speaker of a Message in the replayable log.
type Role string

const (
	RoleUser      Role = "User"
	RoleAssistant Role = "Assistant"
	RoleSystem    Role = "System"
	RoleTool      Role = "Tool"
)

// Message is one entry of a workflow's replayable log. Entries are never
// modified after append; the log is used to reconstruct input context on
// resume.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
}
