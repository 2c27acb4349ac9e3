package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"colloquy/internal/domain"
)

type Config struct {
	Interview   InterviewConfig   `toml:"interview"`
	Pressure    PressureConfig    `toml:"pressure"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Reasoning   ReasoningConfig   `toml:"reasoning"`
	HTTP        HTTPConfig        `toml:"http"`
	Simulation  SimulationConfig  `toml:"simulation"`
	Path        string            `toml:"-"`
}

type InterviewConfig struct {
	BudgetMS int           `toml:"budget_ms" env:"COLLOQUY_BUDGET_MS"`
	TickMS   int           `toml:"tick_ms" env:"COLLOQUY_TICK_MS"`
	Topics   []TopicConfig `toml:"topics"`
}

type TopicConfig struct {
	ID            string `toml:"id"`
	Name          string `toml:"name"`
	Question      string `toml:"question"`
	DepthCriteria string `toml:"depth_criteria"`
}

type PressureConfig struct {
	CriticalRemainingMS int `toml:"critical_remaining_ms" env:"COLLOQUY_CRITICAL_REMAINING_MS"`
	HighRemainingMS     int `toml:"high_remaining_ms" env:"COLLOQUY_HIGH_REMAINING_MS"`
	HighPaceMS          int `toml:"high_pace_ms"`
	MediumPaceMS        int `toml:"medium_pace_ms"`
}

type CoordinatorConfig struct {
	CollectionWindowMS int    `toml:"collection_window_ms" env:"COLLOQUY_WINDOW_MS"`
	RetryLimit         int    `toml:"retry_limit" env:"COLLOQUY_RETRY_LIMIT"`
	CriticalAgentID    string `toml:"critical_agent_id" env:"COLLOQUY_CRITICAL_AGENT"`
	DecisionTimeoutMS  int    `toml:"decision_timeout_ms"`
}

type ReasoningConfig struct {
	Provider       string `toml:"provider" env:"COLLOQUY_REASONING_PROVIDER"`
	Model          string `toml:"model" env:"COLLOQUY_REASONING_MODEL"`
	APIKey         string `toml:"api_key" env:"COLLOQUY_API_KEY"`
	MaxTokens      int    `toml:"max_tokens"`
	TimeoutMS      int    `toml:"timeout_ms"`
	Retries        int    `toml:"retries"`
	RetryBackoffMS int    `toml:"retry_backoff_ms"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" env:"COLLOQUY_HTTP_ADDR"`
}

type SimulationConfig struct {
	Iterations    int    `toml:"iterations" env:"COLLOQUY_SIM_ITERATIONS"`
	IterationCap  int    `toml:"iteration_cap"`
	PollTimeoutMS int    `toml:"poll_timeout_ms"`
	ArtifactRoot  string `toml:"artifact_root" env:"COLLOQUY_ARTIFACT_ROOT"`
	DBPath        string `toml:"db_path" env:"COLLOQUY_DB_PATH"`
	PersonasPath  string `toml:"personas_path" env:"COLLOQUY_PERSONAS"`
}

// Load reads the TOML file, overlays COLLOQUY_* environment variables,
// then fills remaining zero values with defaults. A missing file is only
// an error when the path was given explicitly.
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	var cfg Config
	bytes, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(bytes), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
		cfg.Path = resolved
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment overrides: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Interview.BudgetMS <= 0 {
		c.Interview.BudgetMS = 300_000
	}
	if c.Interview.TickMS <= 0 {
		c.Interview.TickMS = 10_000
	}
	if len(c.Interview.Topics) == 0 {
		c.Interview.Topics = defaultTopics()
	}
	if c.Pressure.CriticalRemainingMS <= 0 {
		c.Pressure.CriticalRemainingMS = 30_000
	}
	if c.Pressure.HighRemainingMS <= 0 {
		c.Pressure.HighRemainingMS = 60_000
	}
	if c.Pressure.HighPaceMS <= 0 {
		c.Pressure.HighPaceMS = 30_000
	}
	if c.Pressure.MediumPaceMS <= 0 {
		c.Pressure.MediumPaceMS = 45_000
	}
	if c.Coordinator.CollectionWindowMS <= 0 {
		c.Coordinator.CollectionWindowMS = 800
	}
	if c.Coordinator.RetryLimit <= 0 {
		c.Coordinator.RetryLimit = 3
	}
	if c.Coordinator.CriticalAgentID == "" {
		c.Coordinator.CriticalAgentID = "assessor"
	}
	if c.Coordinator.DecisionTimeoutMS <= 0 {
		c.Coordinator.DecisionTimeoutMS = 10_000
	}
	if c.Reasoning.Provider == "" {
		c.Reasoning.Provider = "scripted"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8090"
	}
	if c.Simulation.Iterations <= 0 {
		c.Simulation.Iterations = 1
	}
	if c.Simulation.IterationCap <= 0 {
		c.Simulation.IterationCap = 25
	}
	if c.Simulation.PollTimeoutMS <= 0 {
		c.Simulation.PollTimeoutMS = 2_000
	}
	if c.Simulation.ArtifactRoot == "" {
		c.Simulation.ArtifactRoot = "artifacts"
	}
	if c.Simulation.DBPath == "" {
		c.Simulation.DBPath = "colloquy.db"
	}
	return c
}

// Topics converts the configured topic table into domain topics.
func (c Config) Topics() []domain.Topic {
	topics := make([]domain.Topic, 0, len(c.Interview.Topics))
	for _, t := range c.Interview.Topics {
		topics = append(topics, domain.Topic{
			ID:             domain.TopicID(t.ID),
			Name:           t.Name,
			PromptQuestion: t.Question,
			DepthCriteria:  t.DepthCriteria,
		})
	}
	return topics
}

func defaultTopics() []TopicConfig {
	return []TopicConfig{
		{
			ID:            "theme",
			Name:          "Themes",
			Question:      "What themes stood out to you in this book, and why did they resonate?",
			DepthCriteria: "Names at least one theme and connects it to a specific scene or character.",
		},
		{
			ID:            "characters",
			Name:          "Characters",
			Question:      "Which character did you find most compelling, and what made them work?",
			DepthCriteria: "Goes beyond liking a character to explaining their role in the story.",
		},
		{
			ID:            "craft",
			Name:          "Craft",
			Question:      "How did the writing itself, its structure or style, shape your reading?",
			DepthCriteria: "Comments on a concrete craft choice such as pacing, voice, or structure.",
		},
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".colloquy/config.toml"
	}
	return filepath.Join(home, ".colloquy", "config.toml")
}
