package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "forgeline.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FORGELINE_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORGELINE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORGELINE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORGELINE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORGELINE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORGELINE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "FORGELINE_LLM_URL")
	setString(&cfg.LLM.APIKey, "FORGELINE_LLM_API_KEY")
	setString(&cfg.LLM.Model, "FORGELINE_LLM_MODEL")
	setDuration(&cfg.LLM.Timeout, "FORGELINE_LLM_TIMEOUT")
	setInt(&cfg.LLM.MaxRetries, "FORGELINE_LLM_MAX_RETRIES")
	setInt(&cfg.LLM.MaxOutToken, "FORGELINE_LLM_MAX_OUTPUT_TOKENS")
	setString(&cfg.Logging.Level, "FORGELINE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGELINE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "FORGELINE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGELINE_BREAKER_TIMEOUT")
	setInt(&cfg.Git.MaxConcurrent, "FORGELINE_GIT_MAX_CONCURRENT")
	setDuration(&cfg.Git.CommandTimeout, "FORGELINE_GIT_COMMAND_TIMEOUT")
	setInt(&cfg.Decision.MaxApprovedPerCycle, "FORGELINE_MAX_APPROVED_PER_CYCLE")
	setInt(&cfg.Budget.PerTaskTokens, "FORGELINE_BUDGET_PER_TASK")
	setInt(&cfg.Budget.PerAgentMonthly, "FORGELINE_BUDGET_PER_AGENT_MONTHLY")
	setInt(&cfg.Budget.GlobalMonthly, "FORGELINE_BUDGET_GLOBAL_MONTHLY")
	setInt(&cfg.Budget.PlanningSubBudget, "FORGELINE_BUDGET_PLANNING")
	setInt(&cfg.Forge.MaxCorrectionRounds, "FORGELINE_MAX_CORRECTION_ROUNDS")
	setBool(&cfg.Forge.TestingEnabled, "FORGELINE_TESTING_ENABLED")
	setInt(&cfg.Forge.ContextCharBudget, "FORGELINE_CONTEXT_CHAR_BUDGET")
	setInt64(&cfg.Forge.ContextCacheMB, "FORGELINE_CONTEXT_CACHE_MB")
	setString(&cfg.Forge.LintCommand, "FORGELINE_LINT_COMMAND")
	setString(&cfg.Forge.TypecheckCommand, "FORGELINE_TYPECHECK_COMMAND")
	setString(&cfg.Forge.AutofixCommand, "FORGELINE_AUTOFIX_COMMAND")
	setString(&cfg.Forge.TestCommand, "FORGELINE_TEST_COMMAND")
	setDuration(&cfg.Forge.ValidateTimeout, "FORGELINE_VALIDATE_TIMEOUT")
	setString(&cfg.Workspace.Root, "FORGELINE_WORKSPACE_ROOT")
	setString(&cfg.Workspace.BaseBranch, "FORGELINE_BASE_BRANCH")
	setString(&cfg.Telegram.BotToken, "FORGELINE_TELEGRAM_TOKEN")
	setString(&cfg.Telegram.ChatID, "FORGELINE_TELEGRAM_CHAT_ID")
	setString(&cfg.OTLP.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTLP.Enabled, "FORGELINE_OTLP_ENABLED")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Decision.MaxApprovedPerCycle < 1 {
		return errors.New("decision.max_approved_per_cycle must be >= 1")
	}
	if cfg.Forge.MaxCorrectionRounds < 0 {
		return errors.New("forge.max_correction_rounds must be >= 0")
	}
	if cfg.Workspace.Root == "" {
		return errors.New("workspace.root is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
