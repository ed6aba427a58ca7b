// Command workflowctl is a thin operator CLI over the agentflow core: it
// starts workflows, polls status, and inspects checkpoints directly against
// the file-backed checkpoint store, without going through an HTTP boundary.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/agentflow/cmd/workflowctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
