package vcf

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// INFO keys carrying pharmacogenomic annotations.
const (
	InfoGene = "GENE"
	InfoStar = "STAR"
)

// Parser streams target-gene records from VCF text.
// Malformed data lines are skipped; only read failures are returned as errors.
type Parser struct {
	reader         *bufio.Reader
	file           *os.File
	gzipReader     *gzip.Reader
	source         string
	lineNumber     int
	linesProcessed int
	skipped        int
	done           bool
	logger         *zap.Logger
}

// NewParser creates a parser for the given file.
// Supports both plain VCF and gzipped VCF (.vcf.gz) files.
func NewParser(path string) (*Parser, error) {
	if path == "-" {
		return NewParserFromReader(os.Stdin, "<stdin>")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Source: path, Err: err}
	}

	p, err := newParser(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}
	p.file = file
	return p, nil
}

// NewParserFromReader creates a parser from an io.Reader such as an upload body.
// Gzip input is detected from its magic bytes.
func NewParserFromReader(r io.Reader, source string) (*Parser, error) {
	return newParser(r, source)
}

func newParser(r io.Reader, source string) (*Parser, error) {
	p := &Parser{
		reader: bufio.NewReader(r),
		source: source,
		logger: zap.NewNop(),
	}

	// Check for gzip magic number (0x1f, 0x8b)
	magic, err := p.reader.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &ExtractionError{Source: source, Err: fmt.Errorf("read vcf header: %w", err)}
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		p.gzipReader, err = gzip.NewReader(p.reader)
		if err != nil {
			return nil, &ExtractionError{Source: source, Err: fmt.Errorf("create gzip reader: %w", err)}
		}
		p.reader = bufio.NewReader(p.gzipReader)
	}

	return p, nil
}

// SetLogger sets the logger used for skipped-line diagnostics.
func (p *Parser) SetLogger(l *zap.Logger) {
	p.logger = l
}

// Next reads the next target-gene record.
// Returns nil, nil when there are no more records.
func (p *Parser) Next() (*VariantRecord, error) {
	for !p.done {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, &ExtractionError{Source: p.source, Err: fmt.Errorf("read line %d: %w", p.lineNumber+1, err)}
			}
			p.done = true
			if line == "" {
				break
			}
		}
		p.lineNumber++

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p.linesProcessed++

		rec, err := p.parseLine(line)
		if err != nil {
			p.skipped++
			p.logger.Debug("skipping vcf line", zap.String("source", p.source), zap.Error(err))
			continue
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

// parseLine parses a single data line.
// Returns nil, nil for well-formed lines outside the target gene set.
func (p *Parser) parseLine(line string) (*VariantRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("expected at least 8 columns, found %d", len(fields)),
		}
	}

	chrom := fields[0]
	if !validChrom(chrom) {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("unrecognised chromosome: %q", chrom),
		}
	}

	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || pos < 0 {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("invalid position: %s", fields[1]),
		}
	}

	// QUAL (fields[5]) and FILTER (fields[6]) are not used.
	info := parseInfo(fields[7])

	gene := strings.ToUpper(strings.TrimSpace(info[InfoGene]))
	if !IsTargetGene(gene) {
		return nil, nil
	}

	rec := &VariantRecord{
		Gene:  gene,
		Chrom: chrom,
		Pos:   pos,
		Ref:   fields[3],
		Alt:   parseAlt(fields[4]),
	}
	if id := fields[2]; id != "." {
		rec.RSID = optional(id)
	}
	if star := strings.ToUpper(strings.TrimSpace(info[InfoStar])); star != "" {
		rec.StarAllele = optional(star)
	}

	return rec, nil
}

// parseInfo parses the INFO field into a map.
// Pairs without '=' (flags) are ignored.
func parseInfo(info string) map[string]string {
	result := make(map[string]string)
	if info == "" || info == "." {
		return result
	}

	for _, kv := range strings.Split(info, ";") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		result[key] = value
	}

	return result
}

// parseAlt splits the ALT column. A lone '.' means no alternate allele.
func parseAlt(alt string) []string {
	if alt == "." {
		return []string{}
	}
	return strings.Split(alt, ",")
}

// Source returns the name the parser was opened with.
func (p *Parser) Source() string {
	return p.source
}

// LineNumber returns the current line number being processed.
func (p *Parser) LineNumber() int {
	return p.lineNumber
}

// LinesProcessed returns the number of data lines examined so far.
func (p *Parser) LinesProcessed() int {
	return p.linesProcessed
}

// Skipped returns the number of malformed data lines dropped so far.
func (p *Parser) Skipped() int {
	return p.skipped
}

// Close closes the parser and underlying file.
func (p *Parser) Close() error {
	if p.gzipReader != nil {
		p.gzipReader.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ParseError describes a malformed data line. It is reported for
// diagnostics only and never aborts extraction.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vcf parse error at line %d: %s", e.Line, e.Message)
}

// ExtractionError is a file-level failure: the input could not be opened or read.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("vcf extraction failed for %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
