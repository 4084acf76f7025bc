// Package archive persists audit reports and provenance chain exports in a
// local SQLite database.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gatewright/gatewright/pkg/auditor"
	"github.com/gatewright/gatewright/pkg/provenance"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the archive database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %q: %w", path, err)
	}
	return db, nil
}

// Store persists reports and chain exports.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS reports (
        report_id TEXT PRIMARY KEY,
        contract_id TEXT,
        candidate_id TEXT,
        content_hash TEXT,
        generated_at DATETIME,
        body JSON
    );
    CREATE TABLE IF NOT EXISTS chain_exports (
        export_id INTEGER PRIMARY KEY AUTOINCREMENT,
        head_proof TEXT,
        length INTEGER,
        exported_at DATETIME,
        body JSON
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// SaveReport inserts an audit report. Reports are immutable; a duplicate
// report id is an error.
func (s *Store) SaveReport(ctx context.Context, r *auditor.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("archive: marshal report %s: %w", r.ID, err)
	}
	query := `INSERT INTO reports (
		report_id, contract_id, candidate_id, content_hash, generated_at, body
	) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.ContractID, r.CandidateID, r.ContentHash,
		r.GeneratedAt.UTC().Format(time.RFC3339Nano), string(body),
	)
	if err != nil {
		return fmt.Errorf("archive: failed to insert report: %w", err)
	}
	return nil
}

// GetReport fetches a report by id.
func (s *Store) GetReport(ctx context.Context, reportID string) (*auditor.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE report_id = ?`, reportID)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("archive: report %q not found", reportID)
		}
		return nil, err
	}
	var report auditor.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("archive: decode report %q: %w", reportID, err)
	}
	return &report, nil
}

// ReportSummary is one row of a report listing.
type ReportSummary struct {
	ReportID    string    `json:"report_id"`
	ContractID  string    `json:"contract_id"`
	CandidateID string    `json:"candidate_id"`
	ContentHash string    `json:"content_hash"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ListReports returns the most recent reports, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	query := `
        SELECT report_id, contract_id, candidate_id, content_hash, generated_at
        FROM reports
        ORDER BY generated_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []ReportSummary
	for rows.Next() {
		var (
			summary   ReportSummary
			generated string
		)
		if err := rows.Scan(&summary.ReportID, &summary.ContractID, &summary.CandidateID,
			&summary.ContentHash, &generated); err != nil {
			return nil, err
		}
		summary.GeneratedAt = parseTime(generated)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// SaveExport archives a provenance chain export snapshot.
func (s *Store) SaveExport(ctx context.Context, export *provenance.Export) error {
	body, err := export.ToJSON()
	if err != nil {
		return fmt.Errorf("archive: marshal chain export: %w", err)
	}
	query := `INSERT INTO chain_exports (head_proof, length, exported_at, body)
		VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		export.HeadProof, len(export.Events),
		time.Now().UTC().Format(time.RFC3339Nano), string(body),
	)
	if err != nil {
		return fmt.Errorf("archive: failed to insert chain export: %w", err)
	}
	return nil
}

// LatestExport returns the most recently archived chain export body, or nil
// when none exist.
func (s *Store) LatestExport(ctx context.Context) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM chain_exports ORDER BY export_id DESC LIMIT 1`)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return []byte(body), nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
