package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// LLM provider names accepted by -llm-provider.
const (
	ProviderClaude = "claude"
	ProviderOllama = "ollama"
)

// Config adds app-specific configuration fields to the common
// cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ConfidenceThreshold   float64
	DailyBudget           int
	LLMProvider           string
	LLMConcurrency        int
	ClaudeAPIKey          string
	ClaudeModel           string
	OllamaURL             string
	OllamaModel           string
	DatabaseURL           string
	SlackWebhookURL       string
	SnoozeCron            string
	TriageCron            string
	StaticRules           string
	ConfusedMinDismissals int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 0.8, "minimum verdict confidence for auto-applying a folder move (0..1)")
	fs.IntVar(&c.DailyBudget, "daily-budget", 200, "maximum LLM classifications per day (0 = unlimited)")
	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderClaude, "LLM provider for classification (claude or ollama)")
	fs.IntVar(&c.LLMConcurrency, "llm-concurrency", 0, "concurrent classifier calls per batch (0 = provider default)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OllamaURL, "ollama-url", "http://localhost:11434", "Ollama server base URL")
	fs.StringVar(&c.OllamaModel, "ollama-model", "llama3", "Ollama model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for batch notifications")
	fs.StringVar(&c.SnoozeCron, "snooze-cron", "*/5 * * * *", "cron schedule for processing due snoozes")
	fs.StringVar(&c.TriageCron, "triage-cron", "0 3 * * *", "cron schedule for triaging the inbox backlog (empty = disabled)")
	fs.StringVar(&c.StaticRules, "static-rules", "", "comma-separated domain=folder rules applied before the LLM")
	fs.IntVar(&c.ConfusedMinDismissals, "confused-min-dismissals", 3, "dismissals before a pattern is reported as confused (>=1)")
}

// Workers returns the effective classifier concurrency: the explicit
// override if set, else 1 for cloud providers and 2 for local ones.
func (c *Config) Workers() int {
	if c.LLMConcurrency > 0 {
		return c.LLMConcurrency
	}
	if c.LLMProvider == ProviderOllama {
		return 2
	}
	return 1
}

// StaticRulePairs splits the -static-rules value into its pairs.
func (c *Config) StaticRulePairs() []string {
	if strings.TrimSpace(c.StaticRules) == "" {
		return nil
	}
	parts := strings.Split(c.StaticRules, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %v (must be 0..1)", c.ConfidenceThreshold))
	}

	if c.DailyBudget < 0 {
		errs = append(errs, fmt.Errorf("invalid DAILY_BUDGET %d (must be >= 0)", c.DailyBudget))
	}

	if c.LLMConcurrency < 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_CONCURRENCY %d (must be >= 0)", c.LLMConcurrency))
	}

	if c.ConfusedMinDismissals < 1 {
		errs = append(errs, fmt.Errorf("invalid CONFUSED_MIN_DISMISSALS %d (must be >= 1)", c.ConfusedMinDismissals))
	}

	switch c.LLMProvider {
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude provider"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the claude provider"))
		}
	case ProviderOllama:
		if c.OllamaURL == "" {
			errs = append(errs, errors.New("OLLAMA_URL is required for the ollama provider"))
		}
		if c.OllamaModel == "" {
			errs = append(errs, errors.New("OLLAMA_MODEL is required for the ollama provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be claude or ollama)", c.LLMProvider))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
