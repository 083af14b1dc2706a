package ingest

import (
	"log"
	"sync"
	"time"

	"medrag/types"

	"github.com/google/uuid"
)

// JobStore tracks in-flight upload progress. Implementations replace the
// whole value per key, so readers never observe a partial update; the
// records are transient and may vanish after a terminal grace period.
type JobStore interface {
	Set(id uuid.UUID, p types.UploadProgress) bool
	Get(id uuid.UUID) (types.UploadProgress, bool)
	Delete(id uuid.UUID)
}

// MemoryJobStore is the single-process implementation: a mutex-guarded
// map with a janitor that evicts terminal entries after a grace period.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]types.UploadProgress
	grace time.Duration
	stop  chan struct{}
	once  sync.Once
}

func NewMemoryJobStore(grace time.Duration) *MemoryJobStore {
	s := &MemoryJobStore{
		jobs:  make(map[uuid.UUID]types.UploadProgress),
		grace: grace,
		stop:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Set stores the new progress value if the stage transition is legal.
// Illegal transitions (including any update after a terminal stage) are
// rejected, which enforces the single-terminal-event invariant.
func (s *MemoryJobStore) Set(id uuid.UUID, p types.UploadProgress) bool {
	p.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[id]; ok {
		if !types.ValidTransition(prev.Stage, p.Stage) {
			log.Printf("[PROGRESS] rejected transition %s -> %s for upload %s", prev.Stage, p.Stage, id)
			return false
		}
	}
	s.jobs[id] = p
	return true
}

func (s *MemoryJobStore) Get(id uuid.UUID) (types.UploadProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.jobs[id]
	return p, ok
}

func (s *MemoryJobStore) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *MemoryJobStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryJobStore) janitor() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.grace)
			s.mu.Lock()
			for id, p := range s.jobs {
				if p.Stage.Terminal() && p.UpdatedAt.Before(cutoff) {
					delete(s.jobs, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
