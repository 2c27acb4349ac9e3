package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"colloquy/internal/agent"
	"colloquy/internal/config"
	"colloquy/internal/coordinator"
	"colloquy/internal/domain"
	"colloquy/internal/heartbeat"
	"colloquy/internal/messaging/pubsub"
	"colloquy/internal/policy"
	"colloquy/internal/reasoning"
	"colloquy/internal/store/memory"
)

type app struct {
	cfg    config.Config
	store  *memory.Store
	coord  *coordinator.Coordinator
	events *eventLog
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.colloquy/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	providerFlag := flag.String("provider", "", "reasoning provider override (anthropic, openai, scripted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *providerFlag != "" {
		cfg.Reasoning.Provider = *providerFlag
	}
	addr := firstNonEmpty(*addrFlag, cfg.HTTP.Addr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := buildReasoningEngine(cfg.Reasoning, log.Default())
	if err != nil {
		log.Fatalf("build reasoning engine: %v", err)
	}

	bus := pubsub.New(256)
	store := memory.New(bus, cfg.Topics())

	heartbeat.New(bus, durationMS(cfg.Interview.TickMS, 10*time.Second), log.Default()).Run(ctx)
	agent.NewTimekeeper(bus, store, agent.TimekeeperConfig{
		TotalBudget:       durationMS(cfg.Interview.BudgetMS, 5*time.Minute),
		CriticalRemaining: durationMS(cfg.Pressure.CriticalRemainingMS, 30*time.Second),
		HighRemaining:     durationMS(cfg.Pressure.HighRemainingMS, time.Minute),
		HighPace:          durationMS(cfg.Pressure.HighPaceMS, 30*time.Second),
		MediumPace:        durationMS(cfg.Pressure.MediumPaceMS, 45*time.Second),
		Logger:            log.Default(),
	}).Start(ctx)
	agent.NewGrader(bus, store).Start(ctx)
	agent.NewAssessor(bus, store, engine, log.Default()).Start(ctx)
	agent.NewPrompter(bus, store, engine, log.Default()).Start(ctx)

	coord := coordinator.New(store, policy.New(), bus, engine, coordinator.Config{
		CollectionWindow: durationMS(cfg.Coordinator.CollectionWindowMS, 800*time.Millisecond),
		RetryLimit:       cfg.Coordinator.RetryLimit,
		CriticalAgentID:  cfg.Coordinator.CriticalAgentID,
		DecisionTimeout:  durationMS(cfg.Coordinator.DecisionTimeoutMS, 10*time.Second),
	}, log.Default())
	coord.Start(ctx)

	events := newEventLog(256)
	hub := newWSHub(store, log.Default())
	go hub.run(ctx)
	go func() {
		tap := bus.SubscribeAll("http")
		defer bus.Unsubscribe("http")
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-tap:
				if !ok {
					return
				}
				events.append(event)
				hub.broadcastEvent(event)
			}
		}
	}()

	a := &app{cfg: cfg, store: store, coord: coord, events: events}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/session/start", a.handleSessionStart)
	mux.HandleFunc("/session/end", a.handleSessionEnd)
	mux.HandleFunc("/session/reset", a.handleSessionReset)
	mux.HandleFunc("/state", a.handleState)
	mux.HandleFunc("/topics", a.handleTopics)
	mux.HandleFunc("/responses", a.handleResponses)
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/probes/", a.handleProbeHistory)
	mux.HandleFunc("/ws", hub.handleWebSocket)

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"colloquy interviewer started addr=%s provider=%s topics=%d budget=%s window=%s",
		addr,
		cfg.Reasoning.Provider,
		len(cfg.Interview.Topics),
		durationMS(cfg.Interview.BudgetMS, 5*time.Minute),
		durationMS(cfg.Coordinator.CollectionWindowMS, 800*time.Millisecond),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
	coord.Wait()
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	topicIDs := make([]string, 0, len(a.cfg.Interview.Topics))
	for _, t := range a.cfg.Interview.Topics {
		topicIDs = append(topicIDs, t.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":                 a.cfg.Path,
		"provider":             a.cfg.Reasoning.Provider,
		"model":                a.cfg.Reasoning.Model,
		"topics":               topicIDs,
		"budget_ms":            a.cfg.Interview.BudgetMS,
		"collection_window_ms": a.cfg.Coordinator.CollectionWindowMS,
		"retry_limit":          a.cfg.Coordinator.RetryLimit,
	})
}

func (a *app) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := a.store.GetState()
	if state.Status == domain.SessionStatusInProgress {
		writeError(w, http.StatusConflict, fmt.Errorf("session %s is already in progress", state.ID))
		return
	}
	writeJSON(w, http.StatusCreated, a.store.StartSession())
}

func (a *app) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.store.EndSession()
	writeJSON(w, http.StatusOK, a.store.GetState())
}

func (a *app) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.store.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

func (a *app) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.store.GetState())
}

func (a *app) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.store.Topics())
}

func (a *app) handleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Topic string `json:"topic"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	state := a.store.GetState()
	if state.Status != domain.SessionStatusInProgress {
		writeError(w, http.StatusConflict, fmt.Errorf("no session in progress"))
		return
	}
	topic := domain.TopicID(strings.TrimSpace(req.Topic))
	if topic == "" && state.ActiveTopic != nil {
		topic = *state.ActiveTopic
	}
	if !knownTopic(a.store.Topics(), topic) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown topic %q", req.Topic))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("text is required"))
		return
	}
	a.store.RecordResponse(topic, req.Text)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "topic": topic})
}

func (a *app) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, a.events.tail(limit))
}

func (a *app) handleProbeHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	topic := domain.TopicID(strings.TrimPrefix(r.URL.Path, "/probes/"))
	if topic == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("topic id is required"))
		return
	}
	writeJSON(w, http.StatusOK, a.coord.ProbeHistory(topic))
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

func knownTopic(topics []domain.Topic, id domain.TopicID) bool {
	for _, topic := range topics {
		if topic.ID == id {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
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

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
