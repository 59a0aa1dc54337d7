package runner

import (
	"errors"
	"sync"
)

var ErrInvalidRun = errors.New("run has no id")

// RunStore keeps run snapshots. Implementations must copy on the way in and
// out so callers never share memory with the engine.
type RunStore interface {
	Save(run *PipelineRun) error
	Get(id string) (*PipelineRun, bool)
	// List returns runs in the order they were first saved.
	List() []*PipelineRun
}

// MemoryStore holds runs for the lifetime of the process. Nothing is evicted.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*PipelineRun
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*PipelineRun)}
}

func (s *MemoryStore) Save(run *PipelineRun) error {
	if run == nil || run.ID == "" {
		return ErrInvalidRun
	}
	snapshot := run.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = snapshot
	return nil
}

func (s *MemoryStore) Get(id string) (*PipelineRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return run.Clone(), true
}

func (s *MemoryStore) List() []*PipelineRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PipelineRun, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id].Clone())
	}
	return out
}
