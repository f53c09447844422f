package vcf

// VariantParser is the interface for parsers that stream variant records.
type VariantParser interface {
	// Next reads the next target-gene record.
	// Returns nil, nil when there are no more records.
	Next() (*VariantRecord, error)

	// Close closes the parser and releases resources.
	Close() error

	// Source names the input in errors and logs.
	Source() string

	// LineNumber returns the current line number being processed.
	LineNumber() int

	// LinesProcessed returns the number of data lines examined so far.
	LinesProcessed() int

	// Skipped returns the number of malformed data lines dropped so far.
	Skipped() int
}

var _ VariantParser = (*Parser)(nil)
