// Package output provides report output formatters.
package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/pharmguard/internal/report"
)

// ReportWriter writes analysis reports in some format.
type ReportWriter interface {
	WriteHeader() error
	Write(r *report.Report) error
	Flush() error
}

// TabWriter writes one summary row per report in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Analysis_id",
			"Patient_id",
			"Drug",
			"Gene",
			"Location",
			"Star_allele",
			"Diplotype",
			"Phenotype",
			"Risk_label",
			"Risk_score",
			"Severity",
			"Evidence",
			"Recommendation",
		},
	}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes a single report row.
func (tw *TabWriter) Write(r *report.Report) error {
	location, star := "-", "-"
	if len(r.PharmacogenomicProfile.DetectedVariants) > 0 {
		v := r.Variant()
		location = fmt.Sprintf("%s:%d", v.Chrom, v.Pos)
		if v.HasStarAllele() {
			star = v.Star()
		}
	}

	gene := r.PharmacogenomicProfile.PrimaryGene
	if gene == "" {
		gene = "-"
	}

	values := []string{
		r.AnalysisID,
		r.PatientID,
		r.Drug,
		gene,
		location,
		star,
		r.PharmacogenomicProfile.Diplotype,
		string(r.PharmacogenomicProfile.Phenotype),
		r.RiskAssessment.RiskLabel,
		strconv.FormatFloat(r.RiskAssessment.RiskScore, 'f', 1, 64),
		string(r.RiskAssessment.Severity),
		string(r.RiskAssessment.EvidenceLevel),
		sanitize(r.ClinicalRecommendation.RecommendationText),
	}

	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

// sanitize keeps free text on one tab-delimited cell.
func sanitize(s string) string {
	if s == "" {
		return "-"
	}
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}
