// Package rules maps a drug and metabolizer phenotype to a clinical risk assessment.
//
// The engine is generic over its Table: supporting a new drug or phenotype
// only needs a table entry. Evaluation is pure and never fails; lookup gaps
// resolve to fixed low-confidence assessments.
package rules

import (
	"sort"
	"strings"

	"github.com/inodb/pharmguard/internal/phenotype"
)

// Severity is a qualitative risk tier.
type Severity string

// Severity tiers, lowest to highest.
const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityModerate: 2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}

// Rank orders severities from none (0) to critical (4). Unrecognised values rank -1.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// EvidenceLevel is a guideline confidence grade.
type EvidenceLevel string

// Evidence levels, strongest first.
const (
	EvidenceA EvidenceLevel = "A"
	EvidenceB EvidenceLevel = "B"
	EvidenceC EvidenceLevel = "C"
	EvidenceD EvidenceLevel = "D"
)

// ParseEvidenceLevel accepts "A".."D", optionally prefixed with "Level".
func ParseEvidenceLevel(s string) (EvidenceLevel, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSpace(strings.TrimPrefix(s, "LEVEL"))
	switch lvl := EvidenceLevel(s); lvl {
	case EvidenceA, EvidenceB, EvidenceC, EvidenceD:
		return lvl, true
	}
	return "", false
}

// Fixed texts for lookup gaps.
const (
	LabelUnknown             = "Unknown"
	RecommendationNoGuidance = "No CPIC guidance available."
	RecommendationNotCovered = "Phenotype not covered in CPIC guidance."
)

// Assessment is the deterministic risk classification for one drug and phenotype.
type Assessment struct {
	RiskLabel        string        `json:"risk_label"`
	Severity         Severity      `json:"severity"`
	Recommendation   string        `json:"recommendation"`
	EvidenceLevel    EvidenceLevel `json:"evidence_level"`
	GuidelineVersion string        `json:"guideline_version"`
}

// Rule is a phenotype-level record. Empty EvidenceLevel and GuidelineVersion
// inherit the drug-level defaults.
type Rule struct {
	RiskLabel        string        `yaml:"risk_label"`
	Severity         Severity      `yaml:"severity"`
	Recommendation   string        `yaml:"recommendation"`
	EvidenceLevel    EvidenceLevel `yaml:"evidence_level,omitempty"`
	GuidelineVersion string        `yaml:"guideline_version,omitempty"`
}

// DrugRules holds the rules and evidence metadata for one drug.
type DrugRules struct {
	Gene             string                        `yaml:"gene"`
	EvidenceLevel    EvidenceLevel                 `yaml:"evidence_level"`
	GuidelineVersion string                        `yaml:"guideline_version"`
	Phenotypes       map[phenotype.Phenotype]Rule `yaml:"phenotypes"`
}

// DrugInfo describes a supported drug.
type DrugInfo struct {
	Drug             string                `json:"drug"`
	Gene             string                `json:"gene"`
	EvidenceLevel    EvidenceLevel         `json:"evidence_level"`
	GuidelineVersion string                `json:"guideline_version"`
	Phenotypes       []phenotype.Phenotype `json:"phenotypes"`
}

// Engine evaluates risk against a read-only Table.
type Engine struct {
	table *Table
}

// NewEngine creates an engine over t. A nil table uses DefaultTable.
func NewEngine(t *Table) *Engine {
	if t == nil {
		t = DefaultTable()
	}
	return &Engine{table: t}
}

// Evaluate returns the assessment for drug and p. drug is upper-cased before lookup.
func (e *Engine) Evaluate(drug string, p phenotype.Phenotype) Assessment {
	dr, ok := e.table.drugs[normalizeDrug(drug)]
	if !ok {
		return Assessment{
			RiskLabel:      LabelUnknown,
			Severity:       SeverityLow,
			Recommendation: RecommendationNoGuidance,
			EvidenceLevel:  EvidenceD,
		}
	}

	rule, ok := dr.Phenotypes[p]
	if !ok {
		lvl := dr.EvidenceLevel
		if lvl == "" {
			lvl = EvidenceD
		}
		return Assessment{
			RiskLabel:        LabelUnknown,
			Severity:         SeverityLow,
			Recommendation:   RecommendationNotCovered,
			EvidenceLevel:    lvl,
			GuidelineVersion: dr.GuidelineVersion,
		}
	}

	a := Assessment{
		RiskLabel:        rule.RiskLabel,
		Severity:         rule.Severity,
		Recommendation:   rule.Recommendation,
		EvidenceLevel:    rule.EvidenceLevel,
		GuidelineVersion: rule.GuidelineVersion,
	}
	if a.EvidenceLevel == "" {
		a.EvidenceLevel = dr.EvidenceLevel
	}
	if a.EvidenceLevel == "" {
		a.EvidenceLevel = EvidenceD
	}
	if a.GuidelineVersion == "" {
		a.GuidelineVersion = dr.GuidelineVersion
	}
	return a
}

// Supports reports whether the table has rules for drug.
func (e *Engine) Supports(drug string) bool {
	_, ok := e.table.drugs[normalizeDrug(drug)]
	return ok
}

// Gene returns the primary gene for drug.
func (e *Engine) Gene(drug string) (string, bool) {
	dr, ok := e.table.drugs[normalizeDrug(drug)]
	if !ok {
		return "", false
	}
	return dr.Gene, true
}

// Drugs lists supported drugs in alphabetical order.
func (e *Engine) Drugs() []DrugInfo {
	infos := make([]DrugInfo, 0, len(e.table.drugs))
	for name, dr := range e.table.drugs {
		info := DrugInfo{
			Drug:             name,
			Gene:             dr.Gene,
			EvidenceLevel:    dr.EvidenceLevel,
			GuidelineVersion: dr.GuidelineVersion,
		}
		for p := range dr.Phenotypes {
			info.Phenotypes = append(info.Phenotypes, p)
		}
		sort.Slice(info.Phenotypes, func(i, j int) bool { return info.Phenotypes[i] < info.Phenotypes[j] })
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Drug < infos[j].Drug })
	return infos
}

func normalizeDrug(drug string) string {
	return strings.ToUpper(strings.TrimSpace(drug))
}
