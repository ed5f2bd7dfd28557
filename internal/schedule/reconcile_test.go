package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebox/internal/solver"
	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

func TestSafePlacements(t *testing.T) {
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	got := SafePlacements([]solver.Result{
		{ID: "full", StartTime: ts(base), EndTime: ts(base.Add(time.Hour))},
		{ID: "half", StartTime: ts(base)},
		{ID: "conflict-no-reason", Conflict: true},
		{ID: "conflict-reason", Conflict: true, ConflictReason: "overbooked"},
		{ID: "stray-reason", ConflictReason: "should vanish"},
	})

	byID := map[string]storage.Placement{}
	for _, p := range got {
		byID[p.TaskID] = p
	}

	if p := byID["full"]; p.WindowStart == nil || p.WindowEnd == nil {
		t.Errorf("full placement lost its window: %+v", p)
	}
	if p := byID["half"]; p.WindowStart != nil || p.WindowEnd != nil {
		t.Errorf("half-set window must collapse to unset: %+v", p)
	}
	if p := byID["conflict-no-reason"]; p.ConflictReason == "" {
		t.Error("conflict without reason must get a placeholder")
	}
	if p := byID["conflict-reason"]; p.ConflictReason != "overbooked" {
		t.Errorf("reason = %q, want overbooked", p.ConflictReason)
	}
	if p := byID["stray-reason"]; p.ConflictReason != "" {
		t.Errorf("non-conflict must not carry a reason: %+v", p)
	}
}

// flakyStore fails ApplyPlacements a configured number of times.
type flakyStore struct {
	storage.Store
	failures int
	calls    int
}

func (f *flakyStore) ApplyPlacements(ctx context.Context, owner string, ps []storage.Placement) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("disk on fire")
	}
	return f.Store.ApplyPlacements(ctx, owner, ps)
}

func TestPersistRetriesThenSucceeds(t *testing.T) {
	mem := storage.NewMemory()
	id, err := mem.Insert(context.Background(), "alice", storage.Task{
		Name: "t", DurationHours: 1, Deadline: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	fs := &flakyStore{Store: mem, failures: 2}
	rec := Reconciler{Store: fs, Log: logx.Nop(), Attempts: 3, Backoff: time.Millisecond}

	ws := time.Now()
	we := ws.Add(time.Hour)
	err = rec.Persist(context.Background(), "alice", []storage.Placement{
		{TaskID: id, WindowStart: &ws, WindowEnd: &we},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if fs.calls != 3 {
		t.Errorf("calls = %d, want 3", fs.calls)
	}

	tasks, _ := mem.ListByOwner(context.Background(), "alice")
	if !tasks[0].Placed() {
		t.Error("placement not stored")
	}
}

func TestPersistExhaustsRetries(t *testing.T) {
	mem := storage.NewMemory()
	id, _ := mem.Insert(context.Background(), "alice", storage.Task{
		Name: "t", DurationHours: 1, Deadline: time.Now().Add(time.Hour),
	})

	fs := &flakyStore{Store: mem, failures: 10}
	rec := Reconciler{Store: fs, Log: logx.Nop(), Attempts: 3, Backoff: time.Millisecond}

	err := rec.Persist(context.Background(), "alice", []storage.Placement{{TaskID: id}})
	if !IsPersistence(err) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if fs.calls != 3 {
		t.Errorf("calls = %d, want 3", fs.calls)
	}
}
