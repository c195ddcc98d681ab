// Package memory keeps safety state and execution records in process memory.
// Nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// Store implements domain.SafetyStore and domain.ExecutionStore.
type Store struct {
	mu         sync.RWMutex
	safety     *domain.SafetyState
	executions map[string]domain.ExecutionRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{executions: make(map[string]domain.ExecutionRecord)}
}

// Load returns a copy of the saved safety state.
func (s *Store) Load(context.Context) (domain.SafetyState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.safety == nil {
		return domain.SafetyState{}, false, nil
	}
	return s.safety.Clone(), true, nil
}

// Save keeps a copy of st.
func (s *Store) Save(_ context.Context, st domain.SafetyState) error {
	c := st.Clone()
	s.mu.Lock()
	s.safety = &c
	s.mu.Unlock()
	return nil
}

// Publish records attempt events; other events are ignored.
func (s *Store) Publish(_ context.Context, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.ArbitrageExecuted:
			rec := s.executions[e.AttemptID]
			rec.Execution = e
			s.executions[e.AttemptID] = rec
		case domain.FlashLoanExecuted:
			rec := s.executions[e.AttemptID]
			loan := e
			rec.FlashLoan = &loan
			s.executions[e.AttemptID] = rec
		}
	}
	return nil
}

// GetByAttempt returns the record of a settled attempt.
func (s *Store) GetByAttempt(_ context.Context, attemptID string) (domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[attemptID]
	if !ok || rec.Execution.AttemptID == "" {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// Compile-time interface checks.
var (
	_ domain.SafetyStore    = (*Store)(nil)
	_ domain.ExecutionStore = (*Store)(nil)
)
