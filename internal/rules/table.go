package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/inodb/pharmguard/data"
	"github.com/inodb/pharmguard/internal/phenotype"
)

// Source values returned by LoadTableOrDefault.
const (
	SourceBuiltin  = "builtin"  // hard-coded DefaultTable
	SourceEmbedded = "embedded" // data/rules.yaml compiled into the binary
)

// Table maps an upper-cased drug name to its rules. It is read-only after construction.
type Table struct {
	drugs map[string]DrugRules
}

// NewTable validates and normalizes drug rules into a Table.
// Phenotype keys may be codes or long names; severities and evidence levels
// must be recognised values.
func NewTable(drugs map[string]DrugRules) (*Table, error) {
	t := &Table{drugs: make(map[string]DrugRules, len(drugs))}
	for name, dr := range drugs {
		drug := normalizeDrug(name)
		if drug == "" {
			return nil, fmt.Errorf("rule table: empty drug name")
		}

		norm := DrugRules{
			Gene:             normalizeDrug(dr.Gene),
			GuidelineVersion: dr.GuidelineVersion,
			Phenotypes:       make(map[phenotype.Phenotype]Rule, len(dr.Phenotypes)),
		}
		if dr.EvidenceLevel != "" {
			lvl, ok := ParseEvidenceLevel(string(dr.EvidenceLevel))
			if !ok {
				return nil, fmt.Errorf("rule table %s: unknown evidence level %q", drug, dr.EvidenceLevel)
			}
			norm.EvidenceLevel = lvl
		}

		for key, rule := range dr.Phenotypes {
			p, ok := phenotype.Parse(string(key))
			if !ok {
				return nil, fmt.Errorf("rule table %s: unknown phenotype %q", drug, key)
			}
			r, err := normalizeRule(rule)
			if err != nil {
				return nil, fmt.Errorf("rule table %s/%s: %w", drug, p, err)
			}
			norm.Phenotypes[p] = r
		}
		t.drugs[drug] = norm
	}
	return t, nil
}

func normalizeRule(r Rule) (Rule, error) {
	if r.RiskLabel == "" {
		return r, errors.New("missing risk_label")
	}
	if r.Recommendation == "" {
		return r, errors.New("missing recommendation")
	}
	sev, ok := ParseSeverity(string(r.Severity))
	if !ok {
		return r, fmt.Errorf("unknown severity %q", r.Severity)
	}
	r.Severity = sev
	if r.EvidenceLevel != "" {
		lvl, ok := ParseEvidenceLevel(string(r.EvidenceLevel))
		if !ok {
			return r, fmt.Errorf("unknown evidence level %q", r.EvidenceLevel)
		}
		r.EvidenceLevel = lvl
	}
	return r, nil
}

// Len returns the number of drugs in the table.
func (t *Table) Len() int {
	return len(t.drugs)
}

// tableFile is the YAML document layout.
type tableFile struct {
	Version string               `yaml:"version"`
	Drugs   map[string]DrugRules `yaml:"drugs"`
}

// LoadTable loads a YAML rule table.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule table: %w", err)
	}
	defer f.Close()
	return ParseYAML(f)
}

// ParseYAML reads a YAML rule table.
func ParseYAML(r io.Reader) (*Table, error) {
	var doc tableFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("rule table: empty document")
		}
		return nil, fmt.Errorf("decode rule table: %w", err)
	}
	if len(doc.Drugs) == 0 {
		return nil, fmt.Errorf("rule table: no drugs defined")
	}
	return NewTable(doc.Drugs)
}

// EmbeddedTable parses the rule table compiled into the binary.
func EmbeddedTable() (*Table, error) {
	return ParseYAML(bytes.NewReader(data.Rules))
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
			logger.Info("loaded rule table",
				zap.String("path", path),
				zap.Int("drugs", t.Len()))
			return t, path
		}
		logger.Warn("rule table unavailable, using embedded table",
			zap.String("path", path), zap.Error(err))
	}

	t, err := EmbeddedTable()
	if err != nil {
		logger.Error("embedded rule table invalid, using built-in table", zap.Error(err))
		return DefaultTable(), SourceBuiltin
	}
	return t, SourceEmbedded
}

func mustNewTable(drugs map[string]DrugRules) *Table {
	t, err := NewTable(drugs)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTable returns the built-in CPIC-derived rule table.
func DefaultTable() *Table {
	return mustNewTable(map[string]DrugRules{
		"CODEINE": {
			Gene:             "CYP2D6",
			EvidenceLevel:    EvidenceA,
			GuidelineVersion: "CPIC 2021 (CYP2D6, OPRM1, COMT and opioids)",
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.PM: {
					RiskLabel:      "Ineffective",
					Severity:       SeverityModerate,
					Recommendation: "Avoid codeine. Consider morphine or non-opioid analgesics.",
				},
				phenotype.URM: {
					RiskLabel:      "Toxic",
					Severity:       SeverityHigh,
					Recommendation: "Avoid codeine due to risk of respiratory depression.",
				},
				phenotype.NM: {
					RiskLabel:      "Safe",
					Severity:       SeverityNone,
					Recommendation: "Standard dosing recommended.",
				},
			},
		},
		"CLOPIDOGREL": {
			Gene:             "CYP2C19",
			EvidenceLevel:    EvidenceA,
			GuidelineVersion: "CPIC 2022 (CYP2C19 and clopidogrel)",
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.PM: {
					RiskLabel:      "Ineffective",
					Severity:       SeverityHigh,
					Recommendation: "Use alternative antiplatelet therapy (e.g., prasugrel).",
				},
				phenotype.IM: {
					RiskLabel:      "Adjust Dosage",
					Severity:       SeverityModerate,
					Recommendation: "Consider alternative therapy or monitor closely.",
				},
				phenotype.NM: {
					RiskLabel:      "Safe",
					Severity:       SeverityNone,
					Recommendation: "Standard dosing.",
				},
			},
		},
		"WARFARIN": {
			Gene:             "CYP2C9",
			EvidenceLevel:    EvidenceA,
			GuidelineVersion: "CPIC 2017 (CYP2C9, VKORC1, CYP4F2 and warfarin)",
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.PM: {
					RiskLabel:      "Toxic",
					Severity:       SeverityHigh,
					Recommendation: "Reduce initial dose and monitor INR closely.",
				},
				phenotype.IM: {
					RiskLabel:      "Adjust Dosage",
					Severity:       SeverityModerate,
					Recommendation: "Consider lower starting dose.",
				},
				phenotype.NM: {
					RiskLabel:      "Safe",
					Severity:       SeverityNone,
					Recommendation: "Standard dosing.",
				},
			},
		},
		"SIMVASTATIN": {
			Gene:             "SLCO1B1",
			EvidenceLevel:    EvidenceA,
			GuidelineVersion: "CPIC 2022 (SLCO1B1, ABCG2, CYP2C9 and statins)",
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.PM: {
					RiskLabel:      "Toxic",
					Severity:       SeverityHigh,
					Recommendation: "Prescribe an alternative statin. Increased risk of simvastatin-associated myopathy.",
				},
				phenotype.IM: {
					RiskLabel:      "Adjust Dosage",
					Severity:       SeverityModerate,
					Recommendation: "Prescribe a lower dose or consider an alternative statin. Avoid simvastatin doses above 20 mg/day.",
				},
				phenotype.NM: {
					RiskLabel:      "Safe",
					Severity:       SeverityNone,
					Recommendation: "Prescribe desired starting dose.",
				},
			},
		},
		"AZATHIOPRINE": {
			Gene:             "TPMT",
			EvidenceLevel:    EvidenceA,
			GuidelineVersion: "CPIC 2018 (TPMT, NUDT15 and thiopurines)",
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.PM: {
					RiskLabel:      "Toxic",
					Severity:       SeverityCritical,
					Recommendation: "Consider a non-thiopurine immunosuppressant. If used, reduce daily dose 10-fold and dose thrice weekly.",
				},
				phenotype.IM: {
					RiskLabel:      "Adjust Dosage",
					Severity:       SeverityModerate,
					Recommendation: "Start at 30-80% of the normal dose and adjust based on myelosuppression.",
				},
				phenotype.NM: {
					RiskLabel:      "Safe",
					Severity:       SeverityNone,
					Recommendation: "Start with normal starting dose.",
				},
			},
		},
		"FLUOROURACIL": {
			Gene:             "DPYD",
			EvidenceLevel:    EvidenceA,
			GuidelineVersion: "CPIC 2017 (DPYD and fluoropyrimidines)",
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.PM: {
					RiskLabel:      "Toxic",
					Severity:       SeverityCritical,
					Recommendation: "Avoid fluorouracil and other fluoropyrimidines.",
				},
				phenotype.IM: {
					RiskLabel:      "Adjust Dosage",
					Severity:       SeverityHigh,
					Recommendation: "Reduce starting dose by 50% followed by toxicity-guided titration.",
				},
				phenotype.NM: {
					RiskLabel:      "Safe",
					Severity:       SeverityNone,
					Recommendation: "Use label-recommended dosing.",
				},
			},
		},
	})
}
