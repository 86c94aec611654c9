package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentkit/runtime/internal/config"
	"github.com/agentkit/runtime/internal/jobs"
	"github.com/agentkit/runtime/internal/jobserver"
)

// buildJobsCmd creates the "jobs" command group, serving the async tool job
// store over HTTP+SSE for peer agents, per the job_server config section.
func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Serve the async tool job store to peer agents",
	}
	cmd.AddCommand(buildJobsServeCmd(), buildJobsIssueTokenCmd())
	return cmd
}

func buildJobsServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP+SSE peer job server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := buildJobStore(cfg)
			if err != nil {
				return fmt.Errorf("build job store: %w", err)
			}
			auth := jobserver.NewAuthenticator(cfg.Auth.BearerToken, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
			srv := jobserver.New(store, jobserver.Config{
				Auth:          auth,
				RatePerSecond: cfg.JobServer.RateLimitRPS,
				RateBurst:     cfg.JobServer.RateLimitBurst,
				Logger:        slog.Default(),
			})

			mux := http.NewServeMux()
			srv.Routes(mux)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job server listening on %s\n", cfg.JobServer.BindAddr)
			httpSrv := &http.Server{
				Addr:              cfg.JobServer.BindAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return httpSrv.ListenAndServe()
		},
	}
	return cmd
}

func buildJobsIssueTokenCmd() *cobra.Command {
	var peerID string
	var scopes []string

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a JWT capability token for a peer agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			auth := jobserver.NewAuthenticator(cfg.Auth.BearerToken, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
			token, err := auth.IssueCapabilityToken(peerID, scopes)
			if err != nil {
				return err
			}

			payload, _ := json.Marshal(map[string]string{"peer_id": peerID, "token": token})
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&peerID, "peer", "", "Peer agent identifier")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Capability scope(s) to grant")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
