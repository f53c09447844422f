package output

import (
	"encoding/json"
	"io"

	"github.com/inodb/pharmguard/internal/report"
)

// JSONWriter writes reports as indented JSON. A single report is written
// as an object; more than one is wrapped as {"drug_analyses": [...]}.
type JSONWriter struct {
	w       io.Writer
	reports []*report.Report
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// WriteHeader is a no-op; JSON has no header.
func (jw *JSONWriter) WriteHeader() error {
	return nil
}

// Write buffers a report until Flush.
func (jw *JSONWriter) Write(r *report.Report) error {
	jw.reports = append(jw.reports, r)
	return nil
}

// Flush encodes the buffered reports.
func (jw *JSONWriter) Flush() error {
	if len(jw.reports) == 0 {
		return nil
	}
	enc := json.NewEncoder(jw.w)
	enc.SetIndent("", "  ")

	var err error
	if len(jw.reports) == 1 {
		err = enc.Encode(jw.reports[0])
	} else {
		err = enc.Encode(MultiDrugResponse{DrugAnalyses: jw.reports})
	}
	jw.reports = nil
	return err
}

// MultiDrugResponse is the envelope for more than one report.
type MultiDrugResponse struct {
	DrugAnalyses []*report.Report `json:"drug_analyses"`
}

// New returns the writer for format ("json" or "tab").
func New(format string, w io.Writer) (ReportWriter, bool) {
	switch format {
	case "json", "":
		return NewJSONWriter(w), true
	case "tab", "tsv":
		return NewTabWriter(w), true
	default:
		return nil, false
	}
}
