package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Interview.BudgetMS != 300_000 || cfg.Interview.TickMS != 10_000 {
		t.Fatalf("interview defaults=%+v", cfg.Interview)
	}
	if len(cfg.Interview.Topics) != 3 {
		t.Fatalf("default topics=%d want 3", len(cfg.Interview.Topics))
	}
	wantIDs := []string{"theme", "characters", "craft"}
	for i, topic := range cfg.Interview.Topics {
		if topic.ID != wantIDs[i] {
			t.Fatalf("topic %d id=%s want=%s", i, topic.ID, wantIDs[i])
		}
		if topic.Question == "" || topic.DepthCriteria == "" {
			t.Fatalf("topic %s missing prompt fields", topic.ID)
		}
	}
	if cfg.Pressure.CriticalRemainingMS != 30_000 || cfg.Pressure.HighRemainingMS != 60_000 {
		t.Fatalf("pressure defaults=%+v", cfg.Pressure)
	}
	if cfg.Pressure.HighPaceMS != 30_000 || cfg.Pressure.MediumPaceMS != 45_000 {
		t.Fatalf("pace defaults=%+v", cfg.Pressure)
	}
	if cfg.Coordinator.CollectionWindowMS != 800 || cfg.Coordinator.RetryLimit != 3 {
		t.Fatalf("coordinator defaults=%+v", cfg.Coordinator)
	}
	if cfg.Coordinator.CriticalAgentID != "assessor" || cfg.Coordinator.DecisionTimeoutMS != 10_000 {
		t.Fatalf("coordinator defaults=%+v", cfg.Coordinator)
	}
	if cfg.Reasoning.Provider != "scripted" {
		t.Fatalf("provider=%q", cfg.Reasoning.Provider)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8090" {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
	if cfg.Simulation.Iterations != 1 || cfg.Simulation.IterationCap != 25 || cfg.Simulation.PollTimeoutMS != 2_000 {
		t.Fatalf("simulation defaults=%+v", cfg.Simulation)
	}
	if cfg.Simulation.ArtifactRoot != "artifacts" || cfg.Simulation.DBPath != "colloquy.db" {
		t.Fatalf("simulation paths=%+v", cfg.Simulation)
	}
}

func TestLoadReadsTOML(t *testing.T) {
	path := writeConfig(t, `
[interview]
budget_ms = 120000
tick_ms = 5000

[[interview.topics]]
id = "opening"
name = "Opening"
question = "How did the opening land for you?"
depth_criteria = "mentions a concrete moment"

[pressure]
critical_remaining_ms = 20000
high_remaining_ms = 40000
high_pace_ms = 25000
medium_pace_ms = 35000

[coordinator]
collection_window_ms = 500
retry_limit = 2
critical_agent_id = "watchdog"
decision_timeout_ms = 5000

[reasoning]
provider = "anthropic"
model = "claude-sonnet-4-5"
api_key = "sk-test"
max_tokens = 1024
timeout_ms = 15000
retries = 2
retry_backoff_ms = 400

[http]
addr = "127.0.0.1:9999"

[simulation]
iterations = 3
iteration_cap = 12
poll_timeout_ms = 1500
artifact_root = "out"
db_path = "runs.db"
personas_path = "personas.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Path != path {
		t.Fatalf("path=%q want=%q", cfg.Path, path)
	}
	if cfg.Interview.BudgetMS != 120_000 || cfg.Interview.TickMS != 5_000 {
		t.Fatalf("interview=%+v", cfg.Interview)
	}
	if len(cfg.Interview.Topics) != 1 || cfg.Interview.Topics[0].ID != "opening" {
		t.Fatalf("topics=%+v", cfg.Interview.Topics)
	}
	if cfg.Pressure.CriticalRemainingMS != 20_000 || cfg.Pressure.MediumPaceMS != 35_000 {
		t.Fatalf("pressure=%+v", cfg.Pressure)
	}
	if cfg.Coordinator.CollectionWindowMS != 500 || cfg.Coordinator.CriticalAgentID != "watchdog" {
		t.Fatalf("coordinator=%+v", cfg.Coordinator)
	}
	if cfg.Reasoning.Provider != "anthropic" || cfg.Reasoning.Model != "claude-sonnet-4-5" || cfg.Reasoning.MaxTokens != 1024 {
		t.Fatalf("reasoning=%+v", cfg.Reasoning)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9999" {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
	if cfg.Simulation.Iterations != 3 || cfg.Simulation.DBPath != "runs.db" || cfg.Simulation.PersonasPath != "personas.yaml" {
		t.Fatalf("simulation=%+v", cfg.Simulation)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[interview]
budget_ms = 100000

[reasoning]
provider = "anthropic"
`)
	t.Setenv("COLLOQUY_BUDGET_MS", "250000")
	t.Setenv("COLLOQUY_REASONING_PROVIDER", "openai")
	t.Setenv("COLLOQUY_HTTP_ADDR", "127.0.0.1:7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interview.BudgetMS != 250_000 {
		t.Fatalf("budget=%d want env override", cfg.Interview.BudgetMS)
	}
	if cfg.Reasoning.Provider != "openai" {
		t.Fatalf("provider=%q want env override", cfg.Reasoning.Provider)
	}
	if cfg.HTTP.Addr != "127.0.0.1:7070" {
		t.Fatalf("addr=%q want env override", cfg.HTTP.Addr)
	}
}

func TestLoadExplicitMissingPathErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for explicit missing path")
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	if _, err := Load(writeConfig(t, "[interview")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTopicsMapsToDomain(t *testing.T) {
	cfg := Config{Interview: InterviewConfig{Topics: []TopicConfig{
		{ID: "opening", Name: "Opening", Question: "How did it open?", DepthCriteria: "concrete moment"},
		{ID: "ending", Name: "Ending", Question: "Did the ending earn itself?", DepthCriteria: "ties back to setup"},
	}}}

	topics := cfg.Topics()
	if len(topics) != 2 {
		t.Fatalf("topics=%d want 2", len(topics))
	}
	if topics[0].ID != "opening" || topics[0].PromptQuestion != "How did it open?" {
		t.Fatalf("first topic=%+v", topics[0])
	}
	if topics[1].Name != "Ending" || topics[1].DepthCriteria != "ties back to setup" {
		t.Fatalf("second topic=%+v", topics[1])
	}
}
