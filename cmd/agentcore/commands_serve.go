package main

import (
	"bufio"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentkit/runtime/internal/config"
	"github.com/agentkit/runtime/pkg/models"
)

// buildServeCmd creates the "serve" command: an interactive agent loop
// session read from stdin and streamed to stdout, backed by agent.Runtime.
func buildServeCmd() *cobra.Command {
	var sessionKey string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an interactive agent session against stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			runtime, subManager, err := buildRuntime(cfg)
			if err != nil {
				return err
			}

			if sessionKey == "" {
				sessionKey = uuid.NewString()
			}
			session := &models.Session{ID: sessionKey, Key: sessionKey, Channel: models.ChannelCLI}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agentcore session %s. Type a message, Ctrl-D to exit.\n", sessionKey)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			ctx := cmd.Context()

			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}
				text := scanner.Text()
				if text == "" {
					continue
				}

				msg := &models.Message{Role: models.RoleUser, Content: text}
				chunks, err := runtime.Process(ctx, session, msg)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				for chunk := range chunks {
					if chunk.Error != nil {
						fmt.Fprintf(out, "\nerror: %v\n", chunk.Error)
						continue
					}
					if chunk.Text != "" {
						fmt.Fprint(out, chunk.Text)
					}
					if chunk.ToolEvent != nil {
						fmt.Fprintf(out, "\n[tool %s: %s]\n", chunk.ToolEvent.ToolName, chunk.ToolEvent.Stage)
					}
				}
				fmt.Fprintln(out)

				for _, note := range subManager.DrainAnnouncements(sessionKey) {
					fmt.Fprintln(out, note)
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Error("stdin read failed", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "", "Resume an existing session by key (default: new random session)")
	return cmd
}
