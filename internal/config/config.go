package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration for the agentcore runtime.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Loop          LoopConfig          `yaml:"loop"`
	Tools         ToolsConfig         `yaml:"tools"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Decompose     DecomposeConfig     `yaml:"decompose"`
	JobServer     JobServerConfig     `yaml:"job_server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the job server's listening surface.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StorageConfig selects and configures the durable backend for sessions, jobs, and plans.
type StorageConfig struct {
	// Backend is "memory" (the default), "sqlite" (single-process file store), or "postgres"
	// (CockroachDB's wire-compatible driver, for multi-process deployments).
	Backend string `yaml:"backend"`

	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string when Backend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AuthConfig configures job-server authentication.
type AuthConfig struct {
	// BearerToken is compared in constant time against incoming peer requests.
	BearerToken string `yaml:"bearer_token"`

	// JWTSecret signs and verifies peer capability tokens layered on top of the
	// bearer contract. Empty disables the capability-token path.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenExpiry is the lifetime of issued capability tokens.
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// LLMConfig configures the pool of model providers the agent loop can use.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists provider IDs for failover. It is loaded but not read
	// by cmd/agentcore: only DefaultProvider selects the provider.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures a single provider entry.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`

	// Region and Profile are only meaningful for the bedrock provider.
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// LoopConfig bounds a single agent loop session.
type LoopConfig struct {
	MaxIterations            int           `yaml:"max_iterations"`
	MaxWallTime              time.Duration `yaml:"max_wall_time"`
	MaxToolCallsPerIteration int           `yaml:"max_tool_calls_per_iteration"`
	MaxResponseTextSize      int           `yaml:"max_response_text_size"`
	DefaultModel             string        `yaml:"default_model"`
	DefaultSystemPrompt      string        `yaml:"default_system_prompt"`
}

// ToolsConfig configures dispatch, approval, and async job behavior for tool calls.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Approval  ApprovalConfig      `yaml:"approval"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolExecutionConfig controls how the dispatcher runs tools.
type ToolExecutionConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Async lists tool names for the async job store. cmd/agentcore does not
	// pass it to the runtime, so every tool runs inline.
	Async []string `yaml:"async"`

	// Workspace is the root directory the file read/write/edit and shell
	// exec tools are confined to; paths outside it are refused.
	Workspace string `yaml:"workspace"`

	// MaxReadBytes caps a single read tool call; 0 uses the tool's default.
	MaxReadBytes int `yaml:"max_read_bytes"`
}

// ApprovalConfig holds permission-arbiter settings. They are defaulted and
// validated here, but cmd/agentcore does not pass them to the runtime, so
// none of them changes how a tool call is approved.
type ApprovalConfig struct {
	// AllowlistFile is the path to the persistent (repo_path, tool_name) allowlist.
	AllowlistFile string `yaml:"allowlist_file"`

	// Allowlist/Denylist entries are evaluated against a fully qualified tool name
	// or a "group:<name>" reference before the persistent allowlist is consulted.
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`

	// AutoApprove bypasses the user prompt for tools not matched above, short of
	// an explicit denylist entry.
	AutoApprove bool `yaml:"auto_approve"`

	// DefaultDecision applies when no rule matches and no UI is available to prompt:
	// "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long a pending approval request remains valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolJobsConfig controls async tool job retention.
type ToolJobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// CompactionConfig configures the context manager.
type CompactionConfig struct {
	// UsageThreshold triggers compaction once usage_fraction reaches this value.
	UsageThreshold float64 `yaml:"usage_threshold"`

	// MinExchanges is a minimum user/assistant exchange count for compaction.
	// It is defaulted but not read: compaction triggers on usage alone,
	// whatever the number of exchanges.
	MinExchanges int `yaml:"min_exchanges"`

	// SummarizerModel names a model for the summarization completion. It is
	// accepted but not read by any code.
	SummarizerModel string `yaml:"summarizer_model"`
}

// OrchestratorConfig configures the DAG scheduler.
type OrchestratorConfig struct {
	MaxAgents int    `yaml:"max_agents"`
	PlanFile  string `yaml:"plan_file"`
}

// DecomposeConfig configures the task decomposer.
type DecomposeConfig struct {
	Model         string `yaml:"model"`
	MaxSubtasks   int    `yaml:"max_subtasks"`
	RepairRetries int    `yaml:"repair_retries"`
}

// JobServerConfig configures the peer-agent job HTTP/SSE surface.
type JobServerConfig struct {
	BindAddr string `yaml:"bind_addr"`

	// RateLimitRPS and RateLimitBurst bound requests per remote peer.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig controls OpenTelemetry tracing and Prometheus metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	ServiceName   string        `yaml:"service_name"`
	SamplingRatio float64       `yaml:"sampling_ratio"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
	Insecure      bool          `yaml:"insecure"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads a config file, resolving $include directives and env expansion,
// decodes it strictly, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyAuthDefaults(&cfg.Auth)
	applyLLMDefaults(&cfg.LLM)
	applyLoopDefaults(&cfg.Loop)
	applyToolsDefaults(&cfg.Tools)
	applyCompactionDefaults(&cfg.Compaction)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyDecomposeDefaults(&cfg.Decompose)
	applyJobServerDefaults(&cfg.JobServer)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoopDefaults(cfg *LoopConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxWallTime == 0 {
		cfg.MaxWallTime = 10 * time.Minute
	}
	if cfg.MaxToolCallsPerIteration == 0 {
		cfg.MaxToolCallsPerIteration = 16
	}
	if cfg.MaxResponseTextSize == 0 {
		cfg.MaxResponseTextSize = 1 << 20
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 1
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Execution.Workspace == "" {
		cfg.Execution.Workspace = "."
	}
	if cfg.Approval.AllowlistFile == "" {
		cfg.Approval.AllowlistFile = "tool_allowlist.json"
	}
	if cfg.Approval.DefaultDecision == "" {
		cfg.Approval.DefaultDecision = "pending"
	}
	if cfg.Approval.RequestTTL == 0 {
		cfg.Approval.RequestTTL = 5 * time.Minute
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = time.Hour
	}
}

func applyCompactionDefaults(cfg *CompactionConfig) {
	if cfg.UsageThreshold == 0 {
		cfg.UsageThreshold = 0.85
	}
	if cfg.MinExchanges == 0 {
		cfg.MinExchanges = 4
	}
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = 2
	}
	if cfg.PlanFile == "" {
		cfg.PlanFile = "plan.json"
	}
}

func applyDecomposeDefaults(cfg *DecomposeConfig) {
	if cfg.MaxSubtasks == 0 {
		cfg.MaxSubtasks = 32
	}
	if cfg.RepairRetries == 0 {
		cfg.RepairRetries = 1
	}
}

func applyJobServerDefaults(cfg *JobServerConfig) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8091"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "agentcore"
	}
	if cfg.Tracing.SamplingRatio == 0 {
		cfg.Tracing.SamplingRatio = 1.0
	}
	if cfg.Tracing.ExportTimeout == 0 {
		cfg.Tracing.ExportTimeout = 10 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		setProviderAPIKey(cfg, "anthropic", v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		setProviderAPIKey(cfg, "openai", v)
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_BEARER_TOKEN")); v != "" {
		cfg.Auth.BearerToken = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func setProviderAPIKey(cfg *Config, name, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[name]
	entry.APIKey = key
	cfg.LLM.Providers[name] = entry
}

// ConfigValidationError reports one or more config issues together.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}

	switch cfg.Storage.Backend {
	case "memory", "sqlite", "postgres":
	default:
		issues = append(issues, `storage.backend must be "memory", "sqlite", or "postgres"`)
	}
	if cfg.Storage.Backend == "postgres" && strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
		issues = append(issues, "storage.postgres_dsn is required when storage.backend is \"postgres\"")
	}
	if cfg.Storage.Backend == "sqlite" && strings.TrimSpace(cfg.Storage.SQLitePath) == "" {
		issues = append(issues, "storage.sqlite_path is required when storage.backend is \"sqlite\"")
	}

	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Loop.MaxIterations < 0 {
		issues = append(issues, "loop.max_iterations must be >= 0")
	}
	if cfg.Loop.MaxToolCallsPerIteration < 0 {
		issues = append(issues, "loop.max_tool_calls_per_iteration must be >= 0")
	}

	if cfg.Compaction.UsageThreshold <= 0 || cfg.Compaction.UsageThreshold > 1 {
		issues = append(issues, "compaction.usage_threshold must be in (0, 1]")
	}

	if cfg.Orchestrator.MaxAgents < 1 || cfg.Orchestrator.MaxAgents > 8 {
		issues = append(issues, "orchestrator.max_agents must be between 1 and 8")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Tools.Approval.DefaultDecision)) {
	case "allowed", "denied", "pending":
	default:
		issues = append(issues, `tools.approval.default_decision must be "allowed", "denied", or "pending"`)
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
