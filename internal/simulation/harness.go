package simulation

import (
	"context"
	"log"
	"time"

	"colloquy/internal/agent"
	"colloquy/internal/coordinator"
	"colloquy/internal/domain"
	"colloquy/internal/heartbeat"
	"colloquy/internal/messaging/pubsub"
	"colloquy/internal/policy"
	"colloquy/internal/reasoning"
	"colloquy/internal/store/memory"
)

type EngineOptions struct {
	Topics            []domain.Topic
	Engine            reasoning.Engine
	TotalBudget       time.Duration
	CriticalRemaining time.Duration
	HighRemaining     time.Duration
	TickInterval      time.Duration
	CollectionWindow  time.Duration
	RetryLimit        int
	CriticalAgentID   string
	DecisionTimeout   time.Duration
	BusBuffer         int
	Logger            *log.Logger
}

// RunOnce assembles a complete engine around a fresh bus and store, drives
// one session with the persona, and tears everything down before returning.
func RunOnce(ctx context.Context, persona Persona, opts EngineOptions, runCfg RunConfig) RunResult {
	if opts.Engine == nil {
		opts.Engine = reasoning.NewScriptedEngine()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := pubsub.New(opts.BusBuffer)
	store := memory.New(bus, opts.Topics)
	collector := NewCollector(bus)
	collector.Start(runCtx)

	heartbeat.New(bus, opts.TickInterval, opts.Logger).Run(runCtx)
	agent.NewTimekeeper(bus, store, agent.TimekeeperConfig{
		TotalBudget:       opts.TotalBudget,
		CriticalRemaining: opts.CriticalRemaining,
		HighRemaining:     opts.HighRemaining,
		Logger:            opts.Logger,
	}).Start(runCtx)
	agent.NewGrader(bus, store).Start(runCtx)
	agent.NewAssessor(bus, store, opts.Engine, opts.Logger).Start(runCtx)
	agent.NewPrompter(bus, store, opts.Engine, opts.Logger).Start(runCtx)

	coord := coordinator.New(store, policy.New(), bus, opts.Engine, coordinator.Config{
		CollectionWindow: opts.CollectionWindow,
		RetryLimit:       opts.RetryLimit,
		CriticalAgentID:  opts.CriticalAgentID,
		DecisionTimeout:  opts.DecisionTimeout,
	}, opts.Logger)
	coord.Start(runCtx)

	result := NewRunner(store, collector, runCfg).Run(runCtx, persona)

	cancel()
	coord.Wait()
	collector.Wait()
	bus.Close()
	return result
}

// RunBatch runs every persona iterations times and builds the batch report.
func RunBatch(ctx context.Context, personas []Persona, opts EngineOptions, runCfg RunConfig, iterations int) ([]RunResult, BatchReport) {
	if iterations <= 0 {
		iterations = 1
	}
	if len(personas) == 0 {
		personas = BuiltinPersonas()
	}

	var results []RunResult
	for i := 0; i < iterations && ctx.Err() == nil; i++ {
		for _, persona := range personas {
			if ctx.Err() != nil {
				break
			}
			results = append(results, RunOnce(ctx, persona, opts, runCfg))
		}
	}

	criticalAgentID := opts.CriticalAgentID
	if criticalAgentID == "" {
		criticalAgentID = "assessor"
	}
	return results, BuildReport(results, criticalAgentID)
}
