package journal

import (
	"context"
	"testing"
	"time"
)

func TestCursors(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	if v, err := db.LoadCursor(ctx, "job:a"); err != nil || v != "" {
		t.Fatalf("empty journal: %q %v", v, err)
	}
	if err := db.SaveCursor(ctx, "job:a", "scroll:1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCursor(ctx, "job:a", "scroll:2"); err != nil {
		t.Fatal(err)
	}
	v, err := db.LoadCursor(ctx, "job:a")
	if err != nil || v != "scroll:2" {
		t.Fatalf("cursor mismatch: %v %s", err, v)
	}
}

func TestLatestRunPerJob(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first, err := db.StartRun(ctx, "b", t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun(ctx, first, StateFailed, t0.Add(time.Second), 0, "boom"); err != nil {
		t.Fatal(err)
	}
	second, err := db.StartRun(ctx, "b", t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun(ctx, second, StateSuccess, t0.Add(2*time.Minute), 42, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := db.StartRun(ctx, "a", t0); err != nil {
		t.Fatal(err)
	}

	runs, err := db.LatestRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs", len(runs))
	}
	if runs[0].JobID != "a" || runs[0].State != StateRunning || !runs[0].FinishedAt.IsZero() {
		t.Fatalf("unexpected run %+v", runs[0])
	}
	if runs[1].JobID != "b" || runs[1].State != StateSuccess || runs[1].Tweets != 42 || runs[1].Error != "" {
		t.Fatalf("unexpected run %+v", runs[1])
	}
	if !runs[1].StartedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("started %v", runs[1].StartedAt)
	}
	if err := db.FinishRun(ctx, 999, StateSuccess, t0, 0, ""); err == nil {
		t.Fatal("expected error for unknown run")
	}
}
