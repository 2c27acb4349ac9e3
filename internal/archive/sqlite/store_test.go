package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"colloquy/internal/simulation"
)

func TestSaveAndGetBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	report := sampleReport()
	if err := store.SaveBatch(ctx, report); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	got, err := store.GetBatch(ctx, report.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.BatchID != report.BatchID {
		t.Fatalf("batch id=%s want=%s", got.BatchID, report.BatchID)
	}
	if got.RunCount != report.RunCount {
		t.Fatalf("run count=%d want=%d", got.RunCount, report.RunCount)
	}
	if got.Outcomes[string(simulation.OutcomeCompleted)] != 2 {
		t.Fatalf("completed outcomes=%d want=2", got.Outcomes[string(simulation.OutcomeCompleted)])
	}
	if len(got.Runs) != 2 {
		t.Fatalf("runs=%d want=2", len(got.Runs))
	}
	if len(got.Runs[0].Events) == 0 {
		t.Fatalf("expected run event log to survive the round trip")
	}
}

func TestGetBatchNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetBatch(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestListBatchesAndRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	report := sampleReport()
	if err := store.SaveBatch(ctx, report); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches=%d want=1", len(batches))
	}
	if batches[0].ID != report.BatchID {
		t.Fatalf("batch id=%s want=%s", batches[0].ID, report.BatchID)
	}
	if batches[0].AnomalyCount != 1 {
		t.Fatalf("anomaly count=%d want=1", batches[0].AnomalyCount)
	}

	runs, err := store.ListRuns(ctx, report.BatchID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs=%d want=2", len(runs))
	}
	if runs[0].Persona != "brief" {
		t.Fatalf("first run persona=%s want=brief", runs[0].Persona)
	}
	if runs[1].Outcome != string(simulation.OutcomeCompleted) {
		t.Fatalf("second run outcome=%s", runs[1].Outcome)
	}
}

func sampleReport() simulation.BatchReport {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return simulation.BatchReport{
		BatchID:     uuid.NewString(),
		GeneratedAt: base.Add(time.Minute).Format(time.RFC3339Nano),
		RunCount:    2,
		Outcomes: map[string]int{
			string(simulation.OutcomeCompleted): 2,
		},
		DirectivesByRun: map[string]map[string]int{
			"brief":    {"probe": 3, "transition": 2},
			"thorough": {"transition": 2},
		},
		TotalDirectives: 7,
		Anomalies: []simulation.Anomaly{
			{RunID: "run-1", Persona: "brief", Kind: "critical_observation_coverage", Detail: "1 of 5"},
		},
		Runs: []simulation.RunDocument{
			{
				RunID:      "run-1",
				Persona:    "brief",
				Outcome:    string(simulation.OutcomeCompleted),
				Iterations: 5,
				StartedAt:  base.Format(time.RFC3339Nano),
				EndedAt:    base.Add(10 * time.Second).Format(time.RFC3339Nano),
				Events: []simulation.EventDocument{
					{
						Kind:             "response_submitted",
						OwnTimestamp:     base.Format(time.RFC3339Nano),
						ReceiptTimestamp: base.Add(time.Millisecond).Format(time.RFC3339Nano),
						Payload:          "topic=theme chars=12",
					},
				},
			},
			{
				RunID:      "run-2",
				Persona:    "thorough",
				Outcome:    string(simulation.OutcomeCompleted),
				Iterations: 2,
				StartedAt:  base.Add(20 * time.Second).Format(time.RFC3339Nano),
				EndedAt:    base.Add(30 * time.Second).Format(time.RFC3339Nano),
				Events: []simulation.EventDocument{
					{
						Kind:             "coordinator_directive",
						OwnTimestamp:     base.Add(21 * time.Second).Format(time.RFC3339Nano),
						ReceiptTimestamp: base.Add(21 * time.Second).Format(time.RFC3339Nano),
						Payload:          `kind=transition topic=theme reason="answer accepted; advancing"`,
					},
				},
			},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
