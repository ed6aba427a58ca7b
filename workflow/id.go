package workflow

import "github.com/dshills/agentflow/internal/idgen"

// NewID generates a workflow_id of the form wf_<UTC yyyyMMdd_HHmmss>_<8 hex>.
func NewID() string {
	return idgen.New("wf")
}
