package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentkit/runtime/internal/config"
	"github.com/agentkit/runtime/internal/orchestrate"
	"github.com/agentkit/runtime/pkg/models"
)

// buildOrchestrateCmd creates the "orchestrate" command group for driving a
// TaskPlan's subtasks across a bounded pool of worker agents.
func buildOrchestrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Drive a task plan's subtasks across worker agents",
	}
	cmd.AddCommand(buildOrchestrateRunCmd(), buildOrchestrateResetCmd(), buildOrchestrateSkipCmd())
	return cmd
}

func buildOrchestrateRunCmd() *cobra.Command {
	var resetID, retryID, skipID string

	cmd := &cobra.Command{
		Use:   "run [plan-file]",
		Short: "Run (or resume) a task plan to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planFile := args[0]
			plan, err := orchestrate.Load(planFile)
			if err != nil {
				return fmt.Errorf("load plan: %w", err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if plan.MaxAgents <= 0 {
				plan.MaxAgents = cfg.Orchestrator.MaxAgents
			}

			runtime, _, err := buildRuntime(cfg)
			if err != nil {
				return err
			}

			worker := func(ctx context.Context, sub models.SubTask) (string, error) {
				session := &models.Session{ID: "subtask-" + sub.ID, Key: "subtask-" + sub.ID, Channel: models.ChannelCLI}
				msg := &models.Message{Role: models.RoleUser, Content: subtaskPrompt(sub)}
				chunks, err := runtime.Process(ctx, session, msg)
				if err != nil {
					return "", err
				}
				var result string
				for chunk := range chunks {
					if chunk.Error != nil {
						return result, chunk.Error
					}
					result += chunk.Text
				}
				return result, nil
			}

			scheduler := orchestrate.New(plan, worker, planFile, slog.Default())

			if resetID != "" {
				if err := scheduler.Reset(resetID); err != nil {
					return err
				}
			}
			if retryID != "" {
				if err := scheduler.Retry(retryID); err != nil {
					return err
				}
			}
			if skipID != "" {
				if err := scheduler.Skip(skipID); err != nil {
					return err
				}
			}

			if err := scheduler.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run plan: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, st := range scheduler.Plan().SubTasks {
				fmt.Fprintf(out, "%-20s %s\n", st.ID, st.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resetID, "reset", "", "Reset a subtask to pending before running")
	cmd.Flags().StringVar(&retryID, "retry", "", "Retry a failed subtask before running")
	cmd.Flags().StringVar(&skipID, "skip", "", "Skip a subtask before running")
	return cmd
}

func buildOrchestrateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [plan-file] [subtask-id]",
		Short: "Reset a subtask to pending without running the plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutatePlanFile(args[0], func(s *orchestrate.Scheduler) error { return s.Reset(args[1]) })
		},
	}
}

func buildOrchestrateSkipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip [plan-file] [subtask-id]",
		Short: "Mark a subtask skipped without running the plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutatePlanFile(args[0], func(s *orchestrate.Scheduler) error { return s.Skip(args[1]) })
		},
	}
}

func mutatePlanFile(planFile string, mutate func(*orchestrate.Scheduler) error) error {
	plan, err := orchestrate.Load(planFile)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	scheduler := orchestrate.New(plan, nil, planFile, slog.Default())
	if err := mutate(scheduler); err != nil {
		return err
	}
	scheduler.Persist()
	return nil
}

func subtaskPrompt(sub models.SubTask) string {
	return "Complete the following subtask and report the result concisely.\n\nSubtask: " + sub.Description
}
