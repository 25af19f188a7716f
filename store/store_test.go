package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"payclassd/llm"
	"payclassd/migrations"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.Run(db, zerolog.Nop()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return NewStore(db)
}

func sampleResult(correlationID string) *llm.Result {
	confidence := 0.9
	return &llm.Result{
		Category:         "food",
		Reasoning:        "grocery purchase",
		Confidence:       &confidence,
		Metadata:         map[string]any{"search_used": true},
		CorrelationID:    correlationID,
		Model:            "qwen2.5:1.5b",
		ProcessingTimeMS: 123.45,
	}
}

func TestRecordAndListRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, "WALMART GROCERY 1234", "ollama", sampleResult("corr-1")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, "NETFLIX.COM", "ollama", sampleResult("corr-2")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	// Newest first.
	if rows[0].CorrelationID != "corr-2" {
		t.Errorf("Expected newest row first, got %s", rows[0].CorrelationID)
	}

	got := rows[1]
	if got.PaymentText != "WALMART GROCERY 1234" {
		t.Errorf("Unexpected payment text %q", got.PaymentText)
	}
	if got.Category != "food" || got.Provider != "ollama" {
		t.Errorf("Unexpected row %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %v", got.Confidence)
	}
	if !got.SearchUsed {
		t.Error("Expected search_used=true round-tripped")
	}
	if got.ProcessingTimeMS != 123.45 {
		t.Errorf("Expected duration 123.45, got %f", got.ProcessingTimeMS)
	}
}

func TestRecordNilConfidence(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	result := sampleResult("corr-1")
	result.Confidence = nil
	if err := store.Record(ctx, "WALMART", "ollama", result); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err := store.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if rows[0].Confidence != nil {
		t.Errorf("Expected nil confidence, got %v", *rows[0].Confidence)
	}
}

func TestListRecentLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, "WALMART", "ollama", sampleResult("corr")); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	rows, err := store.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Expected limit of 3, got %d", len(rows))
	}
}

func TestPruneOlderThan(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, "WALMART", "ollama", sampleResult("corr-1")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	pruned, err := store.PruneOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("Expected no rows pruned for an old cutoff, got %d", pruned)
	}

	pruned, err = store.PruneOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 row pruned, got %d", pruned)
	}

	rows, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected empty history after prune, got %d rows", len(rows))
	}
}
