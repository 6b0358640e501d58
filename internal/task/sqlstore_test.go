package task

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mohans/geodiff/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestSQLStore_Lifecycle_Success(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db)
	ctx := context.Background()

	if _, err := store.Create(ctx, "task-1", testRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	claimed, err := store.Start(ctx, "task-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if claimed.Status != model.StatusProcessing || claimed.StartedAt == nil {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}

	change := -33.33
	if err := store.Complete(ctx, "task-1", &model.Result{Kind: "NDVI", ChangePercentage: &change}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("want status=%s got=%s", model.StatusCompleted, got.Status)
	}
	if got.Result == nil || *got.Result.ChangePercentage != -33.33 {
		t.Fatalf("unexpected result: %#v", got.Result)
	}
	if got.Request.Kind != model.KindNDVI {
		t.Fatalf("request did not round-trip: %+v", got.Request)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("expected timestamps to be set: started=%v finished=%v", got.StartedAt, got.FinishedAt)
	}
}

func TestSQLStore_FailCarriesKind(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db)
	ctx := context.Background()

	if _, err := store.Create(ctx, "task-2", testRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Start(ctx, "task-2"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := store.Fail(ctx, "task-2", model.NewError(model.KindTransient, "upstream timed out")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, err := store.Get(ctx, "task-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("want status=%s got=%s", model.StatusFailed, got.Status)
	}
	if got.Err == nil || got.Err.Kind != model.KindTransient || got.Err.Message != "upstream timed out" {
		t.Fatalf("unexpected error record: %#v", got.Err)
	}
}

func TestSQLStore_GuardsInWhereClause(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db)
	ctx := context.Background()

	if _, err := store.Create(ctx, "task-3", testRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Complete(ctx, "task-3", &model.Result{}); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("complete from queued: want ErrBadTransition, got %v", err)
	}
	if _, err := store.Start(ctx, "task-3"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := store.Start(ctx, "task-3"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("second claim: want ErrBadTransition, got %v", err)
	}
	if err := store.Complete(ctx, "task-3", &model.Result{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := store.Fail(ctx, "task-3", model.NewError(model.KindInternal, "x")); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("fail after complete: want ErrBadTransition, got %v", err)
	}
}

func TestSQLStore_SweepEvictsOnlyOldTerminal(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db)
	ctx := context.Background()

	// Terminal task, finished in the past once we sleep out clock granularity.
	if _, err := store.Create(ctx, "done", testRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Start(ctx, "done"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := store.Complete(ctx, "done", &model.Result{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Still processing; must survive any sweep.
	if _, err := store.Create(ctx, "running", testRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Start(ctx, "running"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	n, err := store.Sweep(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 eviction, got %d", n)
	}
	if _, err := store.Get(ctx, "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old terminal task should be evicted, got %v", err)
	}
	if _, err := store.Get(ctx, "running"); err != nil {
		t.Fatalf("non-terminal task must never be evicted: %v", err)
	}

	// Inside the horizon nothing is eligible.
	if n, err := store.Sweep(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("fresh sweep: want 0 evictions, got %d (%v)", n, err)
	}
}

func TestSQLStore_NotFound(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	store := NewSQLStore(db)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: want ErrNotFound, got %v", err)
	}
	if _, err := store.Start(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Start: want ErrNotFound, got %v", err)
	}
	if err := store.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel: want ErrNotFound, got %v", err)
	}
}
