package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"colloquy/internal/archive/sqlite"
	"colloquy/internal/config"
	"colloquy/internal/fs"
	"colloquy/internal/reasoning"
	"colloquy/internal/simulation"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.colloquy/config.toml)")
	personasPath := flag.String("personas", "", "path to a personas yaml file (default: built-in personas)")
	iterations := flag.Int("iterations", 0, "times to run each persona (default: config value)")
	outFlag := flag.String("out", "", "artifact root for batch reports")
	dbFlag := flag.String("db", "", "sqlite archive path override")
	providerFlag := flag.String("provider", "", "reasoning provider override (anthropic, openai, scripted)")
	archive := flag.Bool("archive", true, "persist the batch to the sqlite archive")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *providerFlag != "" {
		cfg.Reasoning.Provider = *providerFlag
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := buildReasoningEngine(cfg.Reasoning, log.Default())
	if err != nil {
		log.Fatalf("build reasoning engine: %v", err)
	}

	personas, err := loadPersonas(firstNonEmpty(*personasPath, cfg.Simulation.PersonasPath))
	if err != nil {
		log.Fatalf("load personas: %v", err)
	}

	runs := *iterations
	if runs <= 0 {
		runs = cfg.Simulation.Iterations
	}

	opts := simulation.EngineOptions{
		Topics:            cfg.Topics(),
		Engine:            engine,
		TotalBudget:       durationMS(cfg.Interview.BudgetMS, 5*time.Minute),
		CriticalRemaining: durationMS(cfg.Pressure.CriticalRemainingMS, 30*time.Second),
		HighRemaining:     durationMS(cfg.Pressure.HighRemainingMS, time.Minute),
		TickInterval:      durationMS(cfg.Interview.TickMS, 10*time.Second),
		CollectionWindow:  durationMS(cfg.Coordinator.CollectionWindowMS, 800*time.Millisecond),
		RetryLimit:        cfg.Coordinator.RetryLimit,
		CriticalAgentID:   cfg.Coordinator.CriticalAgentID,
		DecisionTimeout:   durationMS(cfg.Coordinator.DecisionTimeoutMS, 10*time.Second),
		BusBuffer:         256,
		Logger:            log.Default(),
	}
	runCfg := simulation.RunConfig{
		IterationCap: cfg.Simulation.IterationCap,
		PollTimeout:  durationMS(cfg.Simulation.PollTimeoutMS, 2*time.Second),
		Logger:       log.Default(),
	}

	log.Printf("simulation starting personas=%d iterations=%d provider=%s", len(personas), runs, cfg.Reasoning.Provider)
	started := time.Now()
	results, report := simulation.RunBatch(ctx, personas, opts, runCfg, runs)
	log.Printf("simulation finished runs=%d elapsed=%s", len(results), time.Since(started).Round(time.Millisecond))

	document, err := report.MarshalDocument()
	if err != nil {
		log.Fatalf("marshal batch report: %v", err)
	}

	gateway, err := fs.NewGateway(firstNonEmpty(*outFlag, cfg.Simulation.ArtifactRoot))
	if err != nil {
		log.Fatalf("open artifact root: %v", err)
	}
	reportPath, err := gateway.WriteDoc(fmt.Sprintf("reports/batch-%s.json", report.BatchID), document)
	if err != nil {
		log.Fatalf("write batch report: %v", err)
	}
	log.Printf("batch report written to %s", reportPath)

	if *archive {
		dbPath := firstNonEmpty(*dbFlag, cfg.Simulation.DBPath)
		if err := archiveBatch(ctx, dbPath, report); err != nil {
			log.Fatalf("archive batch: %v", err)
		}
		log.Printf("batch %s archived to %s", report.BatchID, dbPath)
	}

	printSummary(report)
}

func archiveBatch(ctx context.Context, dbPath string, report simulation.BatchReport) error {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return store.SaveBatch(ctx, report)
}

func loadPersonas(path string) ([]simulation.Persona, error) {
	if strings.TrimSpace(path) == "" {
		return simulation.BuiltinPersonas(), nil
	}
	return simulation.LoadPersonas(path)
}

func printSummary(report simulation.BatchReport) {
	fmt.Printf("\nbatch %s\n", report.BatchID)
	fmt.Printf("  runs: %d  directives: %d\n", report.RunCount, report.TotalDirectives)

	for _, outcome := range sortedKeys(report.Outcomes) {
		fmt.Printf("  outcome %-22s %d\n", outcome, report.Outcomes[outcome])
	}

	if report.Latency.Count > 0 {
		fmt.Printf(
			"  observation latency: mean=%.2fms min=%.2fms max=%.2fms slow=%d (>%.0fms)\n",
			report.Latency.MeanMS, report.Latency.MinMS, report.Latency.MaxMS,
			report.Latency.SlowCount, report.Latency.ThresholdMS,
		)
	}

	for _, persona := range sortedKeys(report.DirectivesByRun) {
		kinds := report.DirectivesByRun[persona]
		parts := make([]string, 0, len(kinds))
		for _, kind := range sortedKeys(kinds) {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, kinds[kind]))
		}
		fmt.Printf("  directives %-12s %s\n", persona, strings.Join(parts, " "))
	}

	if len(report.Anomalies) == 0 {
		fmt.Printf("  anomalies: none\n")
		return
	}
	fmt.Printf("  anomalies: %d\n", len(report.Anomalies))
	for _, anomaly := range report.Anomalies {
		fmt.Printf("    [%s] persona=%s run=%s %s\n", anomaly.Kind, anomaly.Persona, anomaly.RunID, anomaly.Detail)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildReasoningEngine(cfg config.ReasoningConfig, logger *log.Logger) (reasoning.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "scripted":
		return reasoning.NewScriptedEngine(), nil
	case "anthropic":
		return reasoning.NewAnthropicEngine(reasoning.AnthropicConfig{
			Model:        cfg.Model,
			APIKey:       cfg.APIKey,
			MaxTokens:    int64(cfg.MaxTokens),
			Timeout:      durationMS(cfg.TimeoutMS, 0),
			Retries:      cfg.Retries,
			RetryBackoff: durationMS(cfg.RetryBackoffMS, 0),
			Logger:       logger,
		}), nil
	case "openai":
		return reasoning.NewOpenAIEngine(reasoning.OpenAIConfig{
			Model:        cfg.Model,
			APIKey:       cfg.APIKey,
			MaxTokens:    int64(cfg.MaxTokens),
			Timeout:      durationMS(cfg.TimeoutMS, 0),
			Retries:      cfg.Retries,
			RetryBackoff: durationMS(cfg.RetryBackoffMS, 0),
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
