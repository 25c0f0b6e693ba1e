package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/quality"
)

var (
	// ErrNotFound is returned when no run matches the query.
	ErrNotFound = errors.New("run not found")
)

// RunStatus is the terminal state of an enrichment run.
type RunStatus string

const (
	StatusSucceeded        RunStatus = "succeeded"
	StatusFailedValidation RunStatus = "failed_validation"
	StatusFailed           RunStatus = "failed"
	StatusCancelled        RunStatus = "cancelled"
)

// RunRecord summarizes one enrichment run.
type RunRecord struct {
	ID         string         `json:"id"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	InputRows  int            `json:"input_rows"`
	OutputRows int            `json:"output_rows"`
	Stats      enrich.Stats   `json:"stats"`
	Precheck   quality.Report `json:"precheck"`
	Report     quality.Report `json:"report"`
	Error      string         `json:"error,omitempty"`
}

// MemoryStore is a concurrency-safe in-memory run history, ordered by start
// time.
type MemoryStore struct {
	mu sync.RWMutex

	runs []RunRecord
	byID map[string]int

	// retention configuration
	maxHistory int           // max number of runs kept
	maxAge     time.Duration // optional max age of runs

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]int),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Save appends a run, or replaces it when the ID is already stored, and
// enforces retention.
func (s *MemoryStore) Save(rec RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byID[rec.ID]; ok {
		s.runs = append(s.runs[:i], s.runs[i+1:]...)
	}

	// Overlapping runs finish out of order; keep the slice sorted by start
	// time, with ties in save order.
	at := sort.Search(len(s.runs), func(i int) bool {
		return s.runs[i].StartedAt.After(rec.StartedAt)
	})
	s.runs = append(s.runs, RunRecord{})
	copy(s.runs[at+1:], s.runs[at:])
	s.runs[at] = rec

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.runs) > s.maxHistory {
		over := len(s.runs) - s.maxHistory
		s.runs = s.runs[over:]
	}

	// Enforce retention by age. The newest run is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.runs)-1; i++ {
			if !s.runs[i].StartedAt.Before(cutoff) {
				break
			}
		}
		s.runs = s.runs[i:]
	}

	s.reindex()
}

func (s *MemoryStore) reindex() {
	s.byID = make(map[string]int, len(s.runs))
	for i, r := range s.runs {
		s.byID[r.ID] = i
	}
}

// GetLatest returns the most recently started run.
func (s *MemoryStore) GetLatest() (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return RunRecord{}, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

// Get returns the run with the given ID.
func (s *MemoryStore) Get(id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return s.runs[i], nil
}

// GetRange returns all runs started between from and to (inclusive).
func (s *MemoryStore) GetRange(from, to time.Time) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []RunRecord
	for _, r := range s.runs {
		if !r.StartedAt.Before(from) && !r.StartedAt.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
