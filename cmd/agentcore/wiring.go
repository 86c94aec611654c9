package main

import (
	"fmt"
	"strings"

	"github.com/agentkit/runtime/internal/agent"
	agentctx "github.com/agentkit/runtime/internal/agent/context"
	"github.com/agentkit/runtime/internal/agent/providers"
	"github.com/agentkit/runtime/internal/config"
	"github.com/agentkit/runtime/internal/jobs"
	"github.com/agentkit/runtime/internal/sessions"
	execTool "github.com/agentkit/runtime/internal/tools/exec"
	"github.com/agentkit/runtime/internal/tools/files"
	"github.com/agentkit/runtime/internal/tools/subagent"
	"github.com/agentkit/runtime/internal/tools/websearch"
)

// buildProvider resolves the configured default LLM provider into a concrete
// agent.LLMProvider, the way nexus's onboarding picks a provider by name.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	entry, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if !ok {
		entry = cfg.LLM.Providers[name]
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  entry.APIKey,
			BaseURL: entry.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(entry.APIKey), nil
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		}), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:  entry.Region,
			Profile: entry.Profile,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.DefaultProvider)
	}
}

// buildSessionStore resolves the configured storage backend.
func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Storage.Backend {
	case "memory", "":
		return sessions.NewMemoryStore(), nil
	case "sqlite":
		return sessions.NewSQLiteStore(cfg.Storage.SQLitePath)
	case "postgres":
		return sessions.NewCockroachStoreFromDSN(cfg.Storage.PostgresDSN, sessions.DefaultCockroachConfig())
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// buildJobStore resolves the same storage.backend setting session storage
// uses, so a single config knob picks the durable backend for both the
// session store and the peer job server's job queue.
func buildJobStore(cfg *config.Config) (jobs.Store, error) {
	switch cfg.Storage.Backend {
	case "memory", "":
		return jobs.NewMemoryStore(), nil
	case "sqlite":
		return jobs.NewSQLiteStore(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported job store backend %q", cfg.Storage.Backend)
	}
}

// buildRuntime assembles an agent.Runtime from config, applying the loop,
// tool execution, and approval settings. The returned *subagent.Manager lets
// a caller (e.g. the serve REPL) drain sub-agent completion announcements
// that arrive between turns.
func buildRuntime(cfg *config.Config) (*agent.Runtime, *subagent.Manager, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build provider: %w", err)
	}
	store, err := buildSessionStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build session store: %w", err)
	}

	runtime := agent.NewRuntime(provider, store)
	if cfg.Loop.DefaultModel != "" {
		runtime.SetDefaultModel(cfg.Loop.DefaultModel)
	}
	if cfg.Loop.DefaultSystemPrompt != "" {
		runtime.SetSystemPrompt(cfg.Loop.DefaultSystemPrompt)
	}
	if cfg.Loop.MaxIterations > 0 {
		runtime.SetMaxIterations(cfg.Loop.MaxIterations)
	}
	if cfg.Loop.MaxWallTime > 0 {
		runtime.SetMaxWallTime(cfg.Loop.MaxWallTime)
	}
	runtime.SetToolExecConfig(agent.ToolExecConfig{
		PerToolTimeout: cfg.Tools.Execution.Timeout,
		MaxAttempts:    cfg.Tools.Execution.MaxAttempts,
		RetryBackoff:   cfg.Tools.Execution.RetryBackoff,
	})

	compactionMgr := buildCompactionManager(cfg)
	runtime.SetCompactionManager(compactionMgr)
	runtime.RegisterTool(agent.NewCompactionTool(compactionMgr))

	subManager := registerBuiltinTools(runtime, cfg)

	return runtime, subManager, nil
}

// buildCompactionManager wires the configured usage threshold into a
// CompactionManager sharing the runtime's own packing settings, so its
// usage estimate matches what Process actually sends the model.
func buildCompactionManager(cfg *config.Config) *agent.CompactionManager {
	packer := agentctx.NewPacker(agentctx.DefaultPackOptions())
	defaults := agent.DefaultCompactionConfig()
	return agent.NewCompactionManager(&agent.CompactionConfig{
		Enabled:              true,
		ThresholdPercent:     int(cfg.Compaction.UsageThreshold * 100),
		FlushPrompt:          defaults.FlushPrompt,
		ConfirmationTimeout:  defaults.ConfirmationTimeout,
		AutoCompactOnTimeout: defaults.AutoCompactOnTimeout,
	}, packer)
}

// registerBuiltinTools wires the in-process tools every agentcore runtime
// ships with: the worker-facing file read/write/edit, shell exec, and web
// fetch tools spec.md §4.2 names, plus the subagent spawn/status/cancel
// tools that let a running agent supervise sub-agents of its own without
// going through the orchestrator's plan-file workflow.
func registerBuiltinTools(runtime *agent.Runtime, cfg *config.Config) *subagent.Manager {
	workspace := cfg.Tools.Execution.Workspace
	if workspace == "" {
		workspace = "."
	}

	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: cfg.Tools.Execution.MaxReadBytes}
	runtime.RegisterTool(files.NewReadTool(filesCfg))
	runtime.RegisterTool(files.NewWriteTool(filesCfg))
	runtime.RegisterTool(files.NewEditTool(filesCfg))

	execManager := execTool.NewManager(workspace)
	runtime.RegisterTool(execTool.NewExecTool("exec", execManager))
	runtime.RegisterTool(execTool.NewProcessTool(execManager))

	runtime.RegisterTool(websearch.NewWebFetchTool(nil))

	subManager := subagent.NewManager(runtime, cfg.Orchestrator.MaxAgents)
	runtime.RegisterTool(subagent.NewSpawnTool(subManager))
	runtime.RegisterTool(subagent.NewStatusTool(subManager))
	runtime.RegisterTool(subagent.NewCancelTool(subManager))
	return subManager
}
