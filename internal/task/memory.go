package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohans/geodiff/internal/model"
)

// MemoryStore is the in-process Store. A plain map guarded by a RWMutex;
// submission and polling are independent readers/writers and every
// transition for one id happens under the write lock, so no observer can
// see a torn or reordered state.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*model.Task
	horizon time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store that evicts terminal tasks finished more
// than horizon ago. Non-terminal tasks are never evicted.
func NewMemoryStore(horizon time.Duration) *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*model.Task),
		horizon: horizon,
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, id string, req model.AnalysisRequest) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; exists {
		return nil, fmt.Errorf("task id %s already exists", id)
	}
	t := &model.Task{
		ID:        id,
		Status:    model.StatusQueued,
		Request:   req,
		CreatedAt: s.now().UTC(),
	}
	s.tasks[id] = t
	return snapshot(t), nil
}

func (s *MemoryStore) Start(_ context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("start %s: %w", id, ErrNotFound)
	}
	if t.Status != model.StatusQueued {
		return nil, fmt.Errorf("start %s from %s: %w", id, t.Status, ErrBadTransition)
	}
	now := s.now().UTC()
	t.Status = model.StatusProcessing
	t.StartedAt = &now
	return snapshot(t), nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, res *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("complete %s: %w", id, ErrNotFound)
	}
	if t.Status != model.StatusProcessing {
		return fmt.Errorf("complete %s from %s: %w", id, t.Status, ErrBadTransition)
	}
	now := s.now().UTC()
	t.Status = model.StatusCompleted
	t.Result = res
	t.FinishedAt = &now
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, terr *model.Error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("fail %s: %w", id, ErrNotFound)
	}
	if t.Status != model.StatusProcessing && t.Status != model.StatusQueued {
		return fmt.Errorf("fail %s from %s: %w", id, t.Status, ErrBadTransition)
	}
	now := s.now().UTC()
	t.Status = model.StatusFailed
	t.Err = terr
	t.FinishedAt = &now
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}
	if t.Status != model.StatusProcessing {
		return fmt.Errorf("cancel %s from %s: %w", id, t.Status, ErrBadTransition)
	}
	now := s.now().UTC()
	t.Status = model.StatusFailed
	t.Err = model.NewError(model.KindCancelled, "task cancelled")
	t.FinishedAt = &now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return snapshot(t), nil
}

// Sweep evicts terminal tasks whose FinishedAt is older than the horizon.
// Returns the number of tasks evicted.
func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.horizon)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n
}

// Janitor runs Sweep on the given interval until ctx is done. Bounds memory
// for a long-lived process; run it from main as a goroutine.
func (s *MemoryStore) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// snapshot copies the task so callers never hold a reference into the map.
// Result and Err are immutable once set, so sharing those pointers is safe.
func snapshot(t *model.Task) *model.Task {
	cp := *t
	return &cp
}
