package store

import (
	"fmt"
	"os"
)

// MergeConfig configures the merge operation.
type MergeConfig struct {
	// SourcePaths are the database files to merge from.
	SourcePaths []string
	// DestPath is the destination database file.
	DestPath string
}

// MergeStats tracks merge operation statistics.
type MergeStats struct {
	ReportsMerged    int
	EntriesMerged    int
	SourcesProcessed int
}

// Merge combines the reports of several databases into one. Reports already
// present in the destination (same scan ID) are skipped.
func Merge(cfg MergeConfig) (*MergeStats, error) {
	if len(cfg.SourcePaths) == 0 {
		return nil, fmt.Errorf("no source databases specified")
	}
	if cfg.DestPath == "" {
		return nil, fmt.Errorf("destination path is required")
	}

	dest, err := NewSQLite(cfg.DestPath)
	if err != nil {
		return nil, fmt.Errorf("opening destination database: %w", err)
	}
	defer dest.Close()

	stats := &MergeStats{}
	for _, sourcePath := range cfg.SourcePaths {
		if err := mergeFrom(dest, sourcePath, stats); err != nil {
			return stats, fmt.Errorf("merging from %s: %w", sourcePath, err)
		}
		stats.SourcesProcessed++
	}
	return stats, nil
}

// mergeFrom copies the reports of one source database into dest.
func mergeFrom(dest Store, sourcePath string, stats *MergeStats) error {
	// Opening a missing path would create an empty database.
	if _, err := os.Stat(sourcePath); err != nil {
		return err
	}
	source, err := NewSQLite(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source database: %w", err)
	}
	defer source.Close()

	reports, err := source.GetReports()
	if err != nil {
		return err
	}
	for _, r := range reports {
		_, exists, err := dest.GetReport(r.ScanID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := dest.AddReport(r); err != nil {
			return err
		}
		stats.ReportsMerged++
		stats.EntriesMerged += len(r.Entries)
	}
	return nil
}
