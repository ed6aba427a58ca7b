package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/agentflow"
	"github.com/dshills/agentflow/checkpoint"
	"github.com/dshills/agentflow/executor"
	"github.com/dshills/agentflow/observer"
	"github.com/dshills/agentflow/stage"
	"github.com/dshills/agentflow/workflow"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the built-in demo research pipeline to completion",
	Long: `Runs a fixed three-stage pipeline (Clarify, Brief, Researcher) against
--input, printing the checkpoint trail it produced and the final status.
Useful for smoke-testing a storage directory without the HTTP façade.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runInput, "input", "What is quantum computing?", "workflow input text")
}

func demoPipeline() executor.Pipeline {
	stageOf := func(label string) stage.Stage {
		return stage.Func(func(ctx context.Context, messages []workflow.Message) (stage.Response, error) {
			return stage.Response{
				Messages: []workflow.Message{{Role: workflow.RoleAssistant, Content: label}},
				Result:   label,
			}, nil
		})
	}
	return executor.Pipeline{
		{AgentID: "Clarify", Stage: stageOf("Query is clear"), IsClarification: true},
		{AgentID: "Brief", Stage: stageOf("Brief: outline the topic")},
		{AgentID: "Researcher", Stage: stageOf("Facts: gathered from the brief")},
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	store, err := checkpoint.NewFileStore(storageDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store at %s: %w", storageDir, err)
	}

	subject := observer.NewSubject()
	subject.SubscribeCheckpoint(observer.CheckpointObserverFunc(func(e observer.CheckpointEvent) {
		fmt.Printf("checkpoint %-30s %s\n", e.Reason, e.CheckpointID)
	}))

	engine := agentflow.New(store, subject)
	engine.RegisterPipeline("demo", demoPipeline())

	start, err := engine.StartWorkflow(cmd.Context(), "demo", runInput)
	if err != nil {
		return err
	}
	fmt.Printf("started workflow %s\n", start.WorkflowID)

	deadline := time.Now().Add(10 * time.Second)
	for {
		st, err := engine.GetStatus(start.WorkflowID)
		if err != nil {
			return err
		}
		if st.Status.IsTerminal() {
			fmt.Printf("final status: %s\n", st.Status)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("workflow %s did not settle within 10s", start.WorkflowID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
