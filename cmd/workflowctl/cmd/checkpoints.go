package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/agentflow/checkpoint"
)

var listCmd = &cobra.Command{
	Use:   "list <workflow-id>",
	Short: "List checkpoints for a workflow id, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <checkpoint-id>",
	Short: "Dump one checkpoint as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var validateCmd = &cobra.Command{
	Use:   "validate <checkpoint-id>",
	Short: "Run Validate against a checkpoint and print the verdict",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(listCmd, inspectCmd, validateCmd)
}

func openStore() (*checkpoint.Store, error) {
	store, err := checkpoint.NewFileStore(storageDir)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store at %s: %w", storageDir, err)
	}
	return store, nil
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	list, err := store.ListForWorkflow(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("no checkpoints for workflow %s\n", args[0])
		return nil
	}
	for _, cp := range list {
		fmt.Printf("%-30s %-20s stage=%-3d %s\n", cp.ID, cp.Metadata.Reason, cp.StageIndex, cp.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	cp, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("checkpoint %s not found", args[0])
	}
	buf, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	ok, err := store.Validate(cmd.Context(), args[0])
	if err != nil {
		fmt.Printf("checkpoint %s: invalid: %v\n", args[0], err)
		if !ok {
			return nil
		}
		return err
	}
	fmt.Printf("checkpoint %s: valid=%v\n", args[0], ok)
	return nil
}
