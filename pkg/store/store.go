// Package store persists scan reports.
package store

import (
	"fmt"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// Store provides persistence for scan reports.
// This interface abstracts the underlying storage implementation,
// allowing for different backends.
type Store interface {
	// AddReport stores a report and its entries. Adding a report whose scan
	// ID is already stored is a no-op.
	AddReport(r *types.Report) error

	// GetReport retrieves one report by scan ID.
	GetReport(scanID string) (*types.Report, bool, error)

	// GetReports retrieves all reports in the order they started.
	GetReports() ([]*types.Report, error)

	// ArtifactScanned reports whether a complete report exists for the
	// artifact ID (content digest), for incremental scans.
	ArtifactScanned(artifactID string) (bool, error)

	// Close closes the underlying storage.
	Close() error
}

// Config for store initialization.
type Config struct {
	// Path is the database file path.
	// Use ":memory:" for an in-memory store (useful for testing).
	Path string
}

// New creates a new Store: a MemoryStore for ":memory:", SQLite otherwise.
func New(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.Path == ":memory:" {
		return NewMemory(), nil
	}
	return NewSQLite(cfg.Path)
}
