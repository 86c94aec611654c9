package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentkit/runtime/internal/config"
	"github.com/agentkit/runtime/internal/decompose"
)

// buildPlanCmd creates the "plan" command: decompose a freeform goal into a
// validated TaskPlan, printing or persisting the result for `orchestrate run`.
func buildPlanCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "plan [goal]",
		Short: "Decompose a goal into a task plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			decomposer := decompose.New(provider, decompose.Config{
				Model:         cfg.Decompose.Model,
				MaxSubtasks:   cfg.Decompose.MaxSubtasks,
				MaxAgents:     cfg.Orchestrator.MaxAgents,
				RepairRetries: cfg.Decompose.RepairRetries,
			})

			goal := strings.Join(args, " ")
			plan, err := decomposer.Decompose(cmd.Context(), goal)
			if err != nil {
				return fmt.Errorf("decompose: %w", err)
			}

			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}

			if outputPath == "" {
				outputPath = cfg.Orchestrator.PlanFile
			}
			if err := os.WriteFile(outputPath, data, 0o600); err != nil {
				return fmt.Errorf("write plan file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %s written to %s (%d subtasks)\n", plan.ID, outputPath, len(plan.SubTasks))
			for _, st := range plan.SubTasks {
				fmt.Fprintf(out, "  - %s: %s", st.ID, st.Description)
				if len(st.DependsOn) > 0 {
					fmt.Fprintf(out, " (depends on %s)", strings.Join(st.DependsOn, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to write the plan file (default: orchestrator.plan_file)")
	return cmd
}
