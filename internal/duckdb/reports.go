package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/pharmguard/internal/report"
)

// Summary is the queryable projection of a stored report.
type Summary struct {
	AnalysisID  string    `json:"analysis_id"`
	PatientID   string    `json:"patient_id"`
	Drug        string    `json:"drug"`
	CreatedAt   time.Time `json:"timestamp"`
	PrimaryGene string    `json:"primary_gene"`
	Diplotype   string    `json:"diplotype"`
	Phenotype   string    `json:"phenotype"`
	RiskLabel   string    `json:"risk_label"`
	RiskScore   float64   `json:"risk_score"`
	Severity    string    `json:"severity"`
}

// WriteReports batch-inserts reports using the Appender API.
// Duplicate analysis IDs within the batch are written once.
func (s *Store) WriteReports(ctx context.Context, reports []report.Report) error {
	if len(reports) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(reports))
	deduped := make([]report.Report, 0, len(reports))
	for _, r := range reports {
		if !seen[r.AnalysisID] {
			seen[r.AnalysisID] = true
			deduped = append(deduped, r)
		}
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "reports")
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer appender.Close()

	for _, r := range deduped {
		doc, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode report %s: %w", r.AnalysisID, err)
		}
		p := r.PharmacogenomicProfile
		ra := r.RiskAssessment
		if err := appender.AppendRow(
			r.AnalysisID, r.PatientID, r.Drug, r.Timestamp.UTC(),
			p.PrimaryGene, p.Diplotype, string(p.Phenotype),
			ra.RiskLabel, ra.RiskScore, string(ra.Severity),
			string(ra.EvidenceLevel), ra.GuidelineVersion,
			int64(r.QualityMetrics.VariantCount), string(doc),
		); err != nil {
			return fmt.Errorf("append report: %w", err)
		}
	}

	return appender.Flush()
}

// LookupReport returns the stored report, or nil if the ID is unknown.
func (s *Store) LookupReport(ctx context.Context, analysisID string) (*report.Report, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM reports WHERE analysis_id=?`, analysisID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", analysisID, err)
	}
	return &r, nil
}

// SearchByPatient returns report summaries for a patient, newest first.
// limit <= 0 returns every match.
func (s *Store) SearchByPatient(ctx context.Context, patientID string, limit int) ([]Summary, error) {
	query := `SELECT
		analysis_id, patient_id, drug, created_at,
		primary_gene, diplotype, phenotype,
		risk_label, risk_score, severity
		FROM reports
		WHERE patient_id=?
		ORDER BY created_at DESC, analysis_id`
	args := []any{patientID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by patient: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// CountReports returns the number of stored reports.
func (s *Store) CountReports(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

// ClearReports removes all stored reports.
func (s *Store) ClearReports() error {
	_, err := s.db.Exec("DELETE FROM reports")
	return err
}

// scanSummaries scans rows into Summary slices.
func scanSummaries(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Summary, error) {
	results := []Summary{}
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(
			&sm.AnalysisID, &sm.PatientID, &sm.Drug, &sm.CreatedAt,
			&sm.PrimaryGene, &sm.Diplotype, &sm.Phenotype,
			&sm.RiskLabel, &sm.RiskScore, &sm.Severity,
		); err != nil {
			return nil, fmt.Errorf("scan report summary: %w", err)
		}
		sm.CreatedAt = sm.CreatedAt.UTC()
		results = append(results, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report summaries: %w", err)
	}
	return results, nil
}
