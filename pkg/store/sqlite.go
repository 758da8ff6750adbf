package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// timeLayout is fixed width so start times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite (modernc.org/sqlite, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-based store.
// Use ":memory:" for in-memory database (useful for testing).
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: writes are serialized and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// AddReport stores a report and its entries in one transaction.
func (s *SQLiteStore) AddReport(r *types.Report) error {
	origin, err := json.Marshal(r.Origin)
	if err != nil {
		return fmt.Errorf("marshaling origin: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO reports (scan_id, artifact_id, artifact_name, origin_json, status, reason, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ScanID,
		r.ArtifactID,
		r.ArtifactName,
		string(origin),
		string(r.Status),
		r.Reason,
		r.StartedAt.UTC().Format(timeLayout),
		int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for i, e := range r.Entries {
		tags, err := json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("marshaling tags: %w", err)
		}
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshaling meta: %w", err)
		}
		evidence, err := json.Marshal(e.Evidence)
		if err != nil {
			return fmt.Errorf("marshaling evidence: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO entries (scan_id, position, rule_id, tags_json, meta_json, evidence_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ScanID, i, e.RuleID, string(tags), string(meta), string(evidence))
		if err != nil {
			return fmt.Errorf("inserting entry %s: %w", e.RuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report: %w", err)
	}
	return nil
}

// GetReport retrieves one report by scan ID.
func (s *SQLiteStore) GetReport(scanID string) (*types.Report, bool, error) {
	reports, err := s.queryReports("WHERE scan_id = ?", scanID)
	if err != nil {
		return nil, false, err
	}
	if len(reports) == 0 {
		return nil, false, nil
	}
	return reports[0], true, nil
}

// GetReports retrieves all reports in the order they started.
func (s *SQLiteStore) GetReports() ([]*types.Report, error) {
	return s.queryReports("")
}

func (s *SQLiteStore) queryReports(where string, args ...any) ([]*types.Report, error) {
	rows, err := s.db.Query(`
		SELECT scan_id, artifact_id, artifact_name, origin_json, status, reason, started_at, duration_ns
		FROM reports `+where+`
		ORDER BY started_at, scan_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var reports []*types.Report
	for rows.Next() {
		var r types.Report
		var origin, status, startedAt string
		var reason sql.NullString
		var duration int64

		err := rows.Scan(&r.ScanID, &r.ArtifactID, &r.ArtifactName, &origin, &status, &reason, &startedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		if err := json.Unmarshal([]byte(origin), &r.Origin); err != nil {
			return nil, fmt.Errorf("unmarshaling origin: %w", err)
		}
		r.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing start time: %w", err)
		}
		r.Status = types.ScanStatus(status)
		r.Reason = reason.String
		r.Duration = time.Duration(duration)
		r.Entries = []types.ReportEntry{}
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	rows.Close()

	for _, r := range reports {
		if err := s.loadEntries(r); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *SQLiteStore) loadEntries(r *types.Report) error {
	rows, err := s.db.Query(`
		SELECT rule_id, tags_json, meta_json, evidence_json
		FROM entries
		WHERE scan_id = ?
		ORDER BY position
	`, r.ScanID)
	if err != nil {
		return fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.ReportEntry
		var tags, meta, evidence string
		if err := rows.Scan(&e.RuleID, &tags, &meta, &evidence); err != nil {
			return fmt.Errorf("scanning entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return fmt.Errorf("unmarshaling tags: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return fmt.Errorf("unmarshaling meta: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &e.Evidence); err != nil {
			return fmt.Errorf("unmarshaling evidence: %w", err)
		}
		r.Entries = append(r.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating entries: %w", err)
	}
	return nil
}

// ArtifactScanned reports whether a complete report exists for artifactID.
func (s *SQLiteStore) ArtifactScanned(artifactID string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM reports WHERE artifact_id = ? AND status = ?",
		artifactID, string(types.StatusComplete)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking artifact: %w", err)
	}
	return count > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
