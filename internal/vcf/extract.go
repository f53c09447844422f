package vcf

import (
	"io"

	"go.uber.org/zap"
)

// Result is the outcome of extracting one VCF input.
type Result struct {
	Variants       []VariantRecord
	LinesProcessed int // data lines examined, accepted or not
	Skipped        int // malformed data lines dropped
}

// Empty returns true if no target-gene record was found.
func (r *Result) Empty() bool {
	return len(r.Variants) == 0
}

// First returns the first extracted record, or nil if there is none.
func (r *Result) First() *VariantRecord {
	if len(r.Variants) == 0 {
		return nil
	}
	return &r.Variants[0]
}

// Extractor turns VCF text into target-gene variant records.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an extractor with a no-op logger.
func NewExtractor() *Extractor {
	return &Extractor{logger: zap.NewNop()}
}

// SetLogger sets the logger for skipped-line diagnostics.
func (e *Extractor) SetLogger(l *zap.Logger) {
	e.logger = l
}

// ExtractFile extracts records from a plain or gzipped VCF file.
// A missing or unreadable file yields an *ExtractionError.
func (e *Extractor) ExtractFile(path string) (*Result, error) {
	p, err := NewParser(path)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	p.SetLogger(e.logger)
	return e.collect(p)
}

// Extract extracts records from r. source names the input in errors and logs.
func (e *Extractor) Extract(r io.Reader, source string) (*Result, error) {
	p, err := NewParserFromReader(r, source)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	p.SetLogger(e.logger)
	return e.collect(p)
}

// collect drains p into a Result. The caller owns p and closes it.
func (e *Extractor) collect(p VariantParser) (*Result, error) {
	res := &Result{Variants: []VariantRecord{}}
	for {
		rec, err := p.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		res.Variants = append(res.Variants, *rec)
	}
	res.LinesProcessed = p.LinesProcessed()
	res.Skipped = p.Skipped()

	e.logger.Debug("vcf extracted",
		zap.String("source", p.Source()),
		zap.Int("lines", res.LinesProcessed),
		zap.Int("variants", len(res.Variants)),
		zap.Int("skipped", res.Skipped))

	return res, nil
}
