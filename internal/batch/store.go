package batch

import (
	"fmt"
	"sync"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/statefile"
)

// Batch executions and reconciliation runs live in single-document JSON
// state files with the same mutex-guarded read-modify-write discipline as
// the pool store.

const stateVersion = 1

type execState struct {
	Version    int                    `json:"version"`
	Executions []model.BatchExecution `json:"executions"`
}

// Store persists batch executions.
type Store struct {
	path string
	mu   sync.Mutex
	st   execState
}

// OpenStore loads (or initializes) the execution state file.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, st: execState{Version: stateVersion}}
	if err := statefile.Load(path, &s.st); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return s, nil
}

// Append persists a finished execution record.
func (s *Store) Append(exec model.BatchExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Executions = append(s.st.Executions, exec)
	if err := statefile.Save(s.path, &s.st); err != nil {
		s.st.Executions = s.st.Executions[:len(s.st.Executions)-1]
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}

// List returns all executions, newest last.
func (s *Store) List() []model.BatchExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.BatchExecution, len(s.st.Executions))
	copy(out, s.st.Executions)
	return out
}

// ForMonth returns the executions recorded for a month and credit type.
func (s *Store) ForMonth(month, creditType string) []model.BatchExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BatchExecution
	for _, e := range s.st.Executions {
		if e.Month == month && e.CreditType == creditType {
			out = append(out, e)
		}
	}
	return out
}

// HasSuccessfulDryRun reports whether a successful dry run exists for the
// month and credit type. This gates live runs.
func (s *Store) HasSuccessfulDryRun(month, creditType string) bool {
	for _, e := range s.ForMonth(month, creditType) {
		if e.DryRun && e.Status == model.BatchSuccess {
			return true
		}
	}
	return false
}

type reconState struct {
	Version int                       `json:"version"`
	Runs    []model.ReconciliationRun `json:"runs"`
}

// ReconStore persists reconciliation runs.
type ReconStore struct {
	path string
	mu   sync.Mutex
	st   reconState
}

// OpenReconStore loads (or initializes) the reconciliation state file.
func OpenReconStore(path string) (*ReconStore, error) {
	s := &ReconStore{path: path, st: reconState{Version: stateVersion}}
	if err := statefile.Load(path, &s.st); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return s, nil
}

// Upsert inserts or replaces a run by id. Runs are written once as
// in_progress and finalized in place.
func (s *ReconStore) Upsert(run model.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i, r := range s.st.Runs {
		if r.ID == run.ID {
			s.st.Runs[i] = run
			replaced = true
			break
		}
	}
	if !replaced {
		s.st.Runs = append(s.st.Runs, run)
	}
	if err := statefile.Save(s.path, &s.st); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}

// List returns all reconciliation runs.
func (s *ReconStore) List() []model.ReconciliationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ReconciliationRun, len(s.st.Runs))
	copy(out, s.st.Runs)
	return out
}
