package phenotype

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/inodb/pharmguard/data"
)

// Source values returned by LoadTableOrDefault.
const (
	SourceBuiltin  = "builtin"  // hard-coded DefaultTable
	SourceEmbedded = "embedded" // data/phenotypes.yaml compiled into the binary
)

// Entry is one diplotype mapping. In YAML it is either a bare phenotype
// code or a mapping with a phenotype field and optional metadata.
type Entry struct {
	Phenotype     Phenotype `yaml:"phenotype" json:"phenotype"`
	ActivityScore *float64  `yaml:"activity_score,omitempty" json:"activity_score,omitempty"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// UnmarshalYAML accepts both `NM` and `{phenotype: NM, activity_score: 2}`.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p, ok := Parse(node.Value)
		if !ok {
			return fmt.Errorf("line %d: unknown phenotype %q", node.Line, node.Value)
		}
		*e = Entry{Phenotype: p}
		return nil
	case yaml.MappingNode:
		var rec struct {
			Phenotype     string   `yaml:"phenotype"`
			ActivityScore *float64 `yaml:"activity_score"`
			Description   string   `yaml:"description"`
		}
		if err := node.Decode(&rec); err != nil {
			return err
		}
		if rec.Phenotype == "" {
			return fmt.Errorf("line %d: entry has no phenotype field", node.Line)
		}
		p, ok := Parse(rec.Phenotype)
		if !ok {
			return fmt.Errorf("line %d: unknown phenotype %q", node.Line, rec.Phenotype)
		}
		*e = Entry{Phenotype: p, ActivityScore: rec.ActivityScore, Description: rec.Description}
		return nil
	default:
		return fmt.Errorf("line %d: phenotype entry must be a code or a mapping", node.Line)
	}
}

// Table maps gene -> diplotype -> Entry. It is read-only after construction.
type Table struct {
	genes map[string]map[string]Entry
}

// NewTable builds a table, upper-casing gene names and diplotype keys.
func NewTable(genes map[string]map[string]Entry) *Table {
	t := &Table{genes: make(map[string]map[string]Entry, len(genes))}
	for gene, dips := range genes {
		g := normalize(gene)
		m, ok := t.genes[g]
		if !ok {
			m = make(map[string]Entry, len(dips))
			t.genes[g] = m
		}
		for dip, e := range dips {
			m[normalize(dip)] = e
		}
	}
	return t
}

// Lookup returns the entry for a gene and diplotype.
func (t *Table) Lookup(gene, diplotype string) (Entry, bool) {
	dips, ok := t.genes[normalize(gene)]
	if !ok {
		return Entry{}, false
	}
	e, ok := dips[normalize(diplotype)]
	return e, ok
}

// Genes returns the covered genes in sorted order.
func (t *Table) Genes() []string {
	genes := make([]string, 0, len(t.genes))
	for g := range t.genes {
		genes = append(genes, g)
	}
	sort.Strings(genes)
	return genes
}

// Len returns the total number of diplotype entries.
func (t *Table) Len() int {
	n := 0
	for _, dips := range t.genes {
		n += len(dips)
	}
	return n
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// DefaultTable returns the built-in fallback table.
func DefaultTable() *Table {
	return NewTable(map[string]map[string]Entry{
		"CYP2D6": {
			"*1/*1":   {Phenotype: NM},
			"*1/*4":   {Phenotype: IM},
			"*4/*4":   {Phenotype: PM},
			"*1/*2xN": {Phenotype: URM},
		},
		"CYP2C19": {
			"*1/*1": {Phenotype: NM},
			"*1/*2": {Phenotype: IM},
			"*2/*2": {Phenotype: PM},
		},
		"CYP2C9": {
			"*1/*1": {Phenotype: NM},
			"*1/*3": {Phenotype: IM},
			"*3/*3": {Phenotype: PM},
		},
	})
}

// tableFile is the YAML document layout.
type tableFile struct {
	Version string                      `yaml:"version"`
	Genes   map[string]map[string]Entry `yaml:"genes"`
}

// LoadTable loads a table from a .yaml/.yml or .tsv file.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open phenotype table: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	case ".tsv", ".txt":
		return ParseTSV(f)
	default:
		return nil, fmt.Errorf("phenotype table %s: unsupported extension", path)
	}
}

// ParseYAML reads a YAML phenotype table.
func ParseYAML(r io.Reader) (*Table, error) {
	var doc tableFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("phenotype table: empty document")
		}
		return nil, fmt.Errorf("decode phenotype table: %w", err)
	}
	if len(doc.Genes) == 0 {
		return nil, fmt.Errorf("phenotype table: no genes defined")
	}
	return NewTable(doc.Genes), nil
}

// ParseTSV reads a tab-delimited table. The header must name "gene",
// "diplotype" and "phenotype" columns; "activity_score" is optional.
func ParseTSV(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)

	// Read header to find column indices
	if !scanner.Scan() {
		return nil, fmt.Errorf("phenotype table: empty file")
	}
	header := strings.Split(scanner.Text(), "\t")

	geneIdx, dipIdx, phenoIdx, scoreIdx := -1, -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "gene":
			geneIdx = i
		case "diplotype":
			dipIdx = i
		case "phenotype":
			phenoIdx = i
		case "activity_score":
			scoreIdx = i
		}
	}
	if geneIdx < 0 || dipIdx < 0 || phenoIdx < 0 {
		return nil, fmt.Errorf("phenotype table: header must contain gene, diplotype and phenotype columns")
	}

	genes := make(map[string]map[string]Entry)
	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) <= geneIdx || len(fields) <= dipIdx || len(fields) <= phenoIdx {
			continue
		}
		gene := strings.TrimSpace(fields[geneIdx])
		dip := strings.TrimSpace(fields[dipIdx])
		if gene == "" || dip == "" {
			continue
		}
		p, ok := Parse(fields[phenoIdx])
		if !ok {
			return nil, fmt.Errorf("phenotype table line %d: unknown phenotype %q", line, fields[phenoIdx])
		}
		e := Entry{Phenotype: p}
		if scoreIdx >= 0 && scoreIdx < len(fields) && strings.TrimSpace(fields[scoreIdx]) != "" {
			score, err := strconv.ParseFloat(strings.TrimSpace(fields[scoreIdx]), 64)
			if err != nil {
				return nil, fmt.Errorf("phenotype table line %d: invalid activity score %q", line, fields[scoreIdx])
			}
			e.ActivityScore = &score
		}
		if genes[gene] == nil {
			genes[gene] = make(map[string]Entry)
		}
		genes[gene][dip] = e
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading phenotype table: %w", err)
	}
	if len(genes) == 0 {
		return nil, fmt.Errorf("phenotype table: no entries")
	}

	return NewTable(genes), nil
}

// EmbeddedTable parses the phenotype table compiled into the binary.
func EmbeddedTable() (*Table, error) {
	return ParseYAML(bytes.NewReader(data.Phenotypes))
}

// LoadTableOrDefault loads path. An empty path, or one that cannot be loaded,
// falls back to EmbeddedTable and then to DefaultTable. The second value
// names the source used.
func LoadTableOrDefault(path string, logger *zap.Logger) (*Table, string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != "" {
		t, err := LoadTable(path)
		if err == nil {
			logger.Info("loaded phenotype table",
				zap.String("path", path),
				zap.Int("genes", len(t.genes)),
				zap.Int("entries", t.Len()))
			return t, path
		}
		logger.Warn("phenotype table unavailable, using embedded table",
			zap.String("path", path), zap.Error(err))
	}

	t, err := EmbeddedTable()
	if err != nil {
		logger.Error("embedded phenotype table invalid, using built-in table", zap.Error(err))
		return DefaultTable(), SourceBuiltin
	}
	return t, SourceEmbedded
}
