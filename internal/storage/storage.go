package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/pagereader/internal/models"
)

type TaskStore struct {
	tasks map[string]*models.Task
	mu    sync.RWMutex
	now   func() time.Time
}

func New() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*models.Task),
		now:   time.Now,
	}
}

// Create registers a new pending task.
func (s *TaskStore) Create(id, filename, filePath string) models.Task {
	now := s.now()
	task := &models.Task{
		ID:        id,
		Filename:  filename,
		FilePath:  filePath,
		Status:    models.StatusPending,
		Progress:  models.NewProgress(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = task
	return *task
}

// Get returns a copy of the task.
func (s *TaskStore) Get(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, exists := s.tasks[id]
	if !exists {
		return models.Task{}, false
	}
	return *task, true
}

// Update applies fn to the stored task under the write lock. A task that
// already reached a terminal status is not modified.
func (s *TaskStore) Update(id string, fn func(*models.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, exists := s.tasks[id]
	if !exists || task.Status.Terminal() {
		return false
	}
	fn(task)
	task.UpdatedAt = s.now()
	return true
}

func (s *TaskStore) GetAll() map[string]models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]models.Task, len(s.tasks))
	for k, v := range s.tasks {
		result[k] = *v
	}
	return result
}

func (s *TaskStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// EvictExpired removes tasks created more than ttl before now and returns
// them. Tasks still being processed are kept until they finish.
func (s *TaskStore) EvictExpired(ttl time.Duration, now time.Time) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []models.Task
	for id, task := range s.tasks {
		if now.Sub(task.CreatedAt) <= ttl || !task.Status.Terminal() {
			continue
		}
		evicted = append(evicted, *task)
		delete(s.tasks, id)
	}
	return evicted
}

// StartCleanup evicts expired tasks every interval until ctx is done.
// Evicted tasks are handed to archive when it is non-nil.
func (s *TaskStore) StartCleanup(ctx context.Context, interval, ttl time.Duration, archive *Archive) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(ttl, archive)
			}
		}
	}()
}

func (s *TaskStore) cleanup(ttl time.Duration, archive *Archive) {
	evicted := s.EvictExpired(ttl, s.now())
	if len(evicted) == 0 {
		return
	}
	slog.Info("Evicted expired tasks", "count", len(evicted))
	if archive == nil {
		return
	}
	if _, err := archive.Write(evicted); err != nil {
		slog.Error("Failed to archive evicted tasks", "err", err)
	}
}
