// Package config loads and serves ResearchFlow's runtime configuration.
//
// ARCHITECTURE OVERVIEW
//
// Configuration is loaded once at process startup from a YAML file (plus
// environment variable overrides for secrets) into a package-level
// singleton. Readers call GetConfig() and receive a value copy, so callers
// never hold a reference into the mutable singleton and can't race with a
// concurrent reload. Mutation only happens through the narrow Update*
// functions below, each of which takes the lock, applies validation, and
// swaps the singleton atomically. There is deliberately no general-purpose
// "set any field" API: every mutable concern gets its own typed setter so
// that an invalid partial update can never be observed by another
// goroutine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Known LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Model carries per-model budget and throughput limits, mirrored into
// cost and token-count helpers elsewhere in the module.
//
//nolint:govet // struct alignment optimization not critical for this type
type Model struct {
	Name           string  `yaml:"name"`
	Provider       string  `yaml:"provider"`
	MaxTPM         int     `yaml:"max_tokens_per_minute"`
	MaxConnections int     `yaml:"max_connections"`
	CPMIn          float64 `yaml:"cpm_tokens_in"`
	CPMOut         float64 `yaml:"cpm_tokens_out"`
	DailyBudget    float64 `yaml:"daily_budget_usd"`
}

// Model name constants used as map keys into ModelDefaults and referenced
// by pkg/tokencount's token counter.
const (
	ModelClaudeSonnet4 = "claude-sonnet-4"
	ModelClaudeOpus4   = "claude-opus-4"
	ModelGPT5          = "gpt-5"
	ModelOpenAIO3      = "o3"
	ModelGemini25Pro   = "gemini-2.5-pro"
	ModelOllamaLocal   = "ollama-local"
)

// ModelDefaults seeds Model tuning for the models ResearchFlow ships
// reference agent backends for.
//
//nolint:gochecknoglobals // read-only defaults table
var ModelDefaults = map[string]Model{
	ModelClaudeSonnet4: {Name: ModelClaudeSonnet4, Provider: ProviderAnthropic, MaxTPM: 80000, MaxConnections: 4, CPMIn: 3.0, CPMOut: 15.0, DailyBudget: 50},
	ModelClaudeOpus4:   {Name: ModelClaudeOpus4, Provider: ProviderAnthropic, MaxTPM: 40000, MaxConnections: 2, CPMIn: 15.0, CPMOut: 75.0, DailyBudget: 100},
	ModelGPT5:          {Name: ModelGPT5, Provider: ProviderOpenAI, MaxTPM: 60000, MaxConnections: 4, CPMIn: 5.0, CPMOut: 15.0, DailyBudget: 50},
	ModelOpenAIO3:      {Name: ModelOpenAIO3, Provider: ProviderOpenAI, MaxTPM: 60000, MaxConnections: 4, CPMIn: 2.0, CPMOut: 8.0, DailyBudget: 50},
	ModelGemini25Pro:   {Name: ModelGemini25Pro, Provider: ProviderGemini, MaxTPM: 60000, MaxConnections: 4, CPMIn: 1.25, CPMOut: 5.0, DailyBudget: 50},
	ModelOllamaLocal:   {Name: ModelOllamaLocal, Provider: ProviderOllama, MaxTPM: 0, MaxConnections: 8, CPMIn: 0, CPMOut: 0, DailyBudget: 0},
}

// RetryConfig tunes pkg/agentadapter's backoff policy.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// AgentConfig configures the agent adapter: the per-attempt timeout and
// the retry tuning applied around every Executor. The circuit breaker
// uses pkg/agentadapter's defaults and has no settings here.
type AgentConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	Retry          RetryConfig   `yaml:"retry"`
}

// ApprovalConfig configures approval gate SLAs.
type ApprovalConfig struct {
	DefaultSLA time.Duration `yaml:"default_sla"`
}

// EngineConfig configures the workflow engine's worker pool and leasing.
type EngineConfig struct {
	WorkerCount  int           `yaml:"worker_count"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DatabaseConfig configures the SQLite persistence layer.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the default provider/model used when a node doesn't
// pin its own.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// IterationCaps bounds the loop sites the routing table enforces.
type IterationCaps struct {
	Requirements int `yaml:"requirements"`
	Phenotype    int `yaml:"phenotype"`
	QAReextract  int `yaml:"qa_reextract"`
}

// Config is the root configuration document.
//
//nolint:govet // struct alignment optimization not critical for this type
type Config struct {
	Database      DatabaseConfig `yaml:"database"`
	Engine        EngineConfig   `yaml:"engine"`
	Agent         AgentConfig    `yaml:"agent"`
	Approval      ApprovalConfig `yaml:"approval"`
	LLM           LLMConfig      `yaml:"llm"`
	MaxIterations IterationCaps  `yaml:"max_iterations"`
	MetricsAddr   string         `yaml:"metrics_addr"`
}

//nolint:gochecknoglobals // intentional singleton guarded by mu
var (
	current Config
	loaded  bool
	mu      sync.RWMutex
)

// DefaultConfigDir is the directory name ResearchFlow stores its
// encrypted secrets file under, relative to the project directory.
const DefaultConfigDir = ".researchflow"

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "researchflow.db"},
		Engine: EngineConfig{
			WorkerCount:  4,
			LeaseTTL:     2 * time.Minute,
			PollInterval: 2 * time.Second,
		},
		Agent: AgentConfig{
			DefaultTimeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  500 * time.Millisecond,
				MaxDelay:      30 * time.Second,
				BackoffFactor: 2.0,
			},
		},
		Approval: ApprovalConfig{DefaultSLA: 48 * time.Hour},
		LLM:      LLMConfig{Provider: ProviderAnthropic, Model: ModelClaudeSonnet4},
		MaxIterations: IterationCaps{
			Requirements: 5,
			Phenotype:    5,
			QAReextract:  3,
		},
		MetricsAddr: ":9090",
	}
}

// LoadConfig reads the YAML configuration at path, applies defaults for
// unset fields, validates the result, and installs it as the process
// singleton. Safe to call more than once (e.g. in tests); the most recent
// call wins.
func LoadConfig(path string) error {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			if os.IsNotExist(err) {
				return installConfig(cfg)
			}
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := validateConfig(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return installConfig(cfg)
}

func installConfig(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
	loaded = true
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Engine.WorkerCount <= 0 {
		return fmt.Errorf("engine.worker_count must be positive, got %d", cfg.Engine.WorkerCount)
	}
	if cfg.Engine.LeaseTTL <= 0 {
		return fmt.Errorf("engine.lease_ttl must be positive")
	}
	if cfg.Agent.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("agent.retry.max_attempts must be positive")
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if cfg.MaxIterations.Requirements <= 0 || cfg.MaxIterations.Phenotype <= 0 || cfg.MaxIterations.QAReextract <= 0 {
		return fmt.Errorf("max_iterations values must be positive")
	}
	return nil
}

// GetConfig returns a value copy of the current configuration. Panics if
// LoadConfig has not been called, mirroring the teacher's fail-fast
// singleton-access pattern: a process that reaches here without loading
// config has a startup bug, not a recoverable runtime condition.
func GetConfig() Config {
	mu.RLock()
	defer mu.RUnlock()
	if !loaded {
		panic("config: GetConfig called before LoadConfig")
	}
	return current
}

// IsLoaded reports whether LoadConfig has installed a singleton.
func IsLoaded() bool {
	mu.RLock()
	defer mu.RUnlock()
	return loaded
}

// UpdateEngine atomically replaces the engine configuration section.
func UpdateEngine(e EngineConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if e.WorkerCount <= 0 {
		return fmt.Errorf("engine.worker_count must be positive")
	}
	current.Engine = e
	return nil
}

// UpdateAgent atomically replaces the agent adapter configuration section.
func UpdateAgent(a AgentConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if a.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("agent.retry.max_attempts must be positive")
	}
	current.Agent = a
	return nil
}

// UpdateMaxIterations atomically replaces the loop-site iteration caps.
func UpdateMaxIterations(c IterationCaps) error {
	mu.Lock()
	defer mu.Unlock()
	if c.Requirements <= 0 || c.Phenotype <= 0 || c.QAReextract <= 0 {
		return fmt.Errorf("max_iterations values must be positive")
	}
	current.MaxIterations = c
	return nil
}

// ModelByName resolves a model name to its tuning, falling back to the
// configured default LLM model.
func ModelByName(name string) (Model, bool) {
	if name == "" {
		name = GetConfig().LLM.Model
	}
	m, ok := ModelDefaults[name]
	return m, ok
}

// CalculateCost estimates the USD cost of an invocation given token counts.
func CalculateCost(modelName string, promptTokens, completionTokens int) (float64, error) {
	m, ok := ModelByName(modelName)
	if !ok {
		return 0, fmt.Errorf("unknown model %q", modelName)
	}
	cost := float64(promptTokens)*m.CPMIn/1_000_000 + float64(completionTokens)*m.CPMOut/1_000_000
	return cost, nil
}

// ProjectSecretsDir returns the directory secrets.json.enc lives under for
// a given project directory.
func ProjectSecretsDir(projectDir string) string {
	return filepath.Join(projectDir, DefaultConfigDir)
}
