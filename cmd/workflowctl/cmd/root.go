package cmd

import (
	"github.com/spf13/cobra"
)

var storageDir string

var rootCmd = &cobra.Command{
	Use:           "workflowctl",
	Short:         "Operator CLI for the agentflow checkpoint store and demo pipelines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "./checkpoints",
		"file-backed checkpoint store directory")
}
