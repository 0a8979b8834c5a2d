package jobstore

import (
	"sync"
	"time"
)

// Store is the job state store the coordinator writes through and the API
// polls. Last write wins; the coordinator enforces stage ordering.
type Store interface {
	Put(job *Job)
	Get(id string) *Job
}

// MemoryStore is a thread-safe in-memory Store with TTL eviction.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *MemoryStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *MemoryStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes jobs idle past the TTL. Terminal and non-terminal jobs are
// treated alike; a job still updating its UpdatedAt never expires.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.Snapshot().UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
