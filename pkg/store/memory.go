package store

import (
	"sort"
	"sync"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// MemoryStore implements Store using in-memory data structures.
type MemoryStore struct {
	mu       sync.RWMutex
	reports  map[string]*types.Report // keyed by scan ID
	order    []string                 // scan IDs in insertion order
	complete map[string]bool          // artifact IDs with a complete report
}

// NewMemory creates a new in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		reports:  make(map[string]*types.Report),
		complete: make(map[string]bool),
	}
}

// AddReport stores a copy of r.
func (m *MemoryStore) AddReport(r *types.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reports[r.ScanID]; exists {
		// Idempotent - already exists
		return nil
	}

	cp := *r
	cp.Entries = append([]types.ReportEntry{}, r.Entries...)
	m.reports[r.ScanID] = &cp
	m.order = append(m.order, r.ScanID)
	if r.Status == types.StatusComplete {
		m.complete[r.ArtifactID] = true
	}
	return nil
}

// GetReport retrieves one report by scan ID.
func (m *MemoryStore) GetReport(scanID string) (*types.Report, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[scanID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// GetReports retrieves all reports ordered by start time, then scan ID.
func (m *MemoryStore) GetReports() ([]*types.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*types.Report, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.reports[id]
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].ScanID < result[j].ScanID
	})
	return result, nil
}

// ArtifactScanned reports whether a complete report exists for artifactID.
func (m *MemoryStore) ArtifactScanned(artifactID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.complete[artifactID], nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
