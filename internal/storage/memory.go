package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore keeps everything in process memory. Same contract as the sqlite
// driver, used by tests and ephemeral runs.
type memStore struct {
	mu    sync.RWMutex
	tasks map[string]map[string]Task // owner -> id -> task
	audit []AuditEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{tasks: map[string]map[string]Task{}}
}

func (s *memStore) Insert(_ context.Context, owner string, t Task) (string, error) {
	if strings.TrimSpace(owner) == "" {
		return "", errors.New("owner is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Owner = owner
	if t.Status == "" {
		t.Status = StatusNotStarted
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	m := s.tasks[owner]
	if m == nil {
		m = map[string]Task{}
		s.tasks[owner] = m
	}
	m[t.ID] = t
	return t.ID, nil
}

func (s *memStore) UpdateFields(_ context.Context, owner, id string, f Fields) error {
	if f.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[owner][id]
	if !ok {
		return ErrNotFound
	}
	if f.Name != nil {
		t.Name = *f.Name
	}
	if f.DurationHours != nil {
		t.DurationHours = *f.DurationHours
	}
	if f.Deadline != nil {
		t.Deadline = *f.Deadline
	}
	if f.Priority != nil {
		t.Priority = *f.Priority
	}
	if f.Status != nil {
		t.Status = *f.Status
	}
	if f.ResetPlacement {
		t.WindowStart = nil
		t.WindowEnd = nil
		t.Conflict = false
		t.ConflictReason = ""
	}
	t.UpdatedAt = time.Now()
	s.tasks[owner][id] = t
	return nil
}

func (s *memStore) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[owner][id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks[owner], id)
	return nil
}

func (s *memStore) ListByOwner(_ context.Context, owner string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks[owner]))
	for _, t := range s.tasks[owner] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) ApplyPlacements(_ context.Context, owner string, ps []Placement) error {
	if len(ps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// All-or-nothing: verify first, then write.
	for _, p := range ps {
		if _, ok := s.tasks[owner][p.TaskID]; !ok {
			return ErrNotFound
		}
	}
	now := time.Now()
	for _, p := range ps {
		t := s.tasks[owner][p.TaskID]
		t.WindowStart = copyTimePtr(p.WindowStart)
		t.WindowEnd = copyTimePtr(p.WindowEnd)
		t.Conflict = p.Conflict
		t.ConflictReason = p.ConflictReason
		t.UpdatedAt = now
		s.tasks[owner][p.TaskID] = t
	}
	return nil
}

func (s *memStore) OwnersWithConflicts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for owner, m := range s.tasks {
		for _, t := range m {
			if t.Conflict {
				out = append(out, owner)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *memStore) PruneAudit(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audit[:0]
	var pruned int64
	for _, e := range s.audit {
		if e.At.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return pruned, nil
}

func (s *memStore) Close() error { return nil }

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
