package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inodb/pharmguard/internal/phenotype"
)

func TestEvaluate_TabledRules(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		drug           string
		phenotype      phenotype.Phenotype
		label          string
		severity       Severity
		recommendation string
	}{
		{"CODEINE", phenotype.PM, "Ineffective", SeverityModerate, "Avoid codeine. Consider morphine or non-opioid analgesics."},
		{"CODEINE", phenotype.URM, "Toxic", SeverityHigh, "Avoid codeine due to risk of respiratory depression."},
		{"CODEINE", phenotype.NM, "Safe", SeverityNone, "Standard dosing recommended."},
		{"CLOPIDOGREL", phenotype.PM, "Ineffective", SeverityHigh, "Use alternative antiplatelet therapy (e.g., prasugrel)."},
		{"CLOPIDOGREL", phenotype.IM, "Adjust Dosage", SeverityModerate, "Consider alternative therapy or monitor closely."},
		{"CLOPIDOGREL", phenotype.NM, "Safe", SeverityNone, "Standard dosing."},
		{"WARFARIN", phenotype.PM, "Toxic", SeverityHigh, "Reduce initial dose and monitor INR closely."},
		{"WARFARIN", phenotype.IM, "Adjust Dosage", SeverityModerate, "Consider lower starting dose."},
		{"WARFARIN", phenotype.NM, "Safe", SeverityNone, "Standard dosing."},
		{"FLUOROURACIL", phenotype.PM, "Toxic", SeverityCritical, "Avoid fluorouracil and other fluoropyrimidines."},
	}

	for _, tt := range tests {
		t.Run(tt.drug+"/"+string(tt.phenotype), func(t *testing.T) {
			a := e.Evaluate(tt.drug, tt.phenotype)
			assert.Equal(t, tt.label, a.RiskLabel)
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, tt.recommendation, a.Recommendation)
			assert.Equal(t, EvidenceA, a.EvidenceLevel)
			assert.NotEmpty(t, a.GuidelineVersion)
		})
	}
}

func TestEvaluate_CaseInsensitiveDrug(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, e.Evaluate("CODEINE", phenotype.PM), e.Evaluate("  codeine ", phenotype.PM))
}

func TestEvaluate_UnsupportedDrug(t *testing.T) {
	e := NewEngine(nil)

	for _, p := range []phenotype.Phenotype{phenotype.PM, phenotype.NM, phenotype.Unknown} {
		a := e.Evaluate("ASPIRIN", p)
		assert.Equal(t, Assessment{
			RiskLabel:      LabelUnknown,
			Severity:       SeverityLow,
			Recommendation: RecommendationNoGuidance,
			EvidenceLevel:  EvidenceD,
		}, a)
	}
}

func TestEvaluate_UncoveredPhenotype(t *testing.T) {
	e := NewEngine(nil)

	a := e.Evaluate("WARFARIN", phenotype.URM)
	assert.Equal(t, LabelUnknown, a.RiskLabel)
	assert.Equal(t, SeverityLow, a.Severity)
	assert.Equal(t, RecommendationNotCovered, a.Recommendation)
	assert.Equal(t, EvidenceA, a.EvidenceLevel)
	assert.Equal(t, "CPIC 2017 (CYP2C9, VKORC1, CYP4F2 and warfarin)", a.GuidelineVersion)

	a = e.Evaluate("CODEINE", phenotype.Unknown)
	assert.Equal(t, RecommendationNotCovered, a.Recommendation)

	for _, tt := range []struct {
		drug string
		p    phenotype.Phenotype
	}{
		{"CODEINE", phenotype.IM},
		{"CLOPIDOGREL", phenotype.URM},
	} {
		a := e.Evaluate(tt.drug, tt.p)
		assert.Equal(t, LabelUnknown, a.RiskLabel, "%s/%s", tt.drug, tt.p)
		assert.Equal(t, SeverityLow, a.Severity, "%s/%s", tt.drug, tt.p)
		assert.Equal(t, RecommendationNotCovered, a.Recommendation, "%s/%s", tt.drug, tt.p)
		assert.Equal(t, EvidenceA, a.EvidenceLevel, "%s/%s", tt.drug, tt.p)
	}
}

func TestEvaluate_MergesDrugDefaults(t *testing.T) {
	table, err := NewTable(map[string]DrugRules{
		"testdrug": {
			Gene:             "CYP2D6",
			EvidenceLevel:    "Level B",
			GuidelineVersion: "v1",
			Phenotypes: map[phenotype.Phenotype]Rule{
				"Poor Metabolizer": {RiskLabel: "Toxic", Severity: "HIGH", Recommendation: "Avoid."},
				phenotype.IM:       {RiskLabel: "Adjust Dosage", Severity: "moderate", Recommendation: "Lower.", EvidenceLevel: "C", GuidelineVersion: "v2"},
			},
		},
		"NOMETA": {
			Phenotypes: map[phenotype.Phenotype]Rule{
				phenotype.NM: {RiskLabel: "Safe", Severity: "none", Recommendation: "Standard."},
			},
		},
	})
	assert.NoError(t, err)
	e := NewEngine(table)

	a := e.Evaluate("TESTDRUG", phenotype.PM)
	assert.Equal(t, Assessment{RiskLabel: "Toxic", Severity: SeverityHigh, Recommendation: "Avoid.", EvidenceLevel: EvidenceB, GuidelineVersion: "v1"}, a)

	a = e.Evaluate("TESTDRUG", phenotype.IM)
	assert.Equal(t, EvidenceC, a.EvidenceLevel)
	assert.Equal(t, "v2", a.GuidelineVersion)

	a = e.Evaluate("NOMETA", phenotype.NM)
	assert.Equal(t, EvidenceD, a.EvidenceLevel)

	a = e.Evaluate("NOMETA", phenotype.PM)
	assert.Equal(t, EvidenceD, a.EvidenceLevel)
	assert.Equal(t, RecommendationNotCovered, a.Recommendation)
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEngine(nil)
	first := e.Evaluate("CLOPIDOGREL", phenotype.IM)
	for range 100 {
		assert.Equal(t, first, e.Evaluate("CLOPIDOGREL", phenotype.IM))
	}
}

func TestEngine_GeneAndDrugs(t *testing.T) {
	e := NewEngine(nil)

	wantGenes := map[string]string{
		"CODEINE":      "CYP2D6",
		"WARFARIN":     "CYP2C9",
		"CLOPIDOGREL":  "CYP2C19",
		"SIMVASTATIN":  "SLCO1B1",
		"AZATHIOPRINE": "TPMT",
		"FLUOROURACIL": "DPYD",
	}
	for drug, gene := range wantGenes {
		got, ok := e.Gene(drug)
		assert.True(t, ok, drug)
		assert.Equal(t, gene, got, drug)
		assert.True(t, e.Supports(drug))
	}
	_, ok := e.Gene("ASPIRIN")
	assert.False(t, ok)
	assert.False(t, e.Supports("ASPIRIN"))

	drugs := e.Drugs()
	assert.Len(t, drugs, 6)
	assert.Equal(t, "AZATHIOPRINE", drugs[0].Drug)
	assert.Equal(t, []phenotype.Phenotype{phenotype.IM, phenotype.NM, phenotype.PM}, drugs[0].Phenotypes)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"none", SeverityNone, true},
		{"Moderate", SeverityModerate, true},
		{" CRITICAL ", SeverityCritical, true},
		{"severe", "severe", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseSeverity(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Less(t, SeverityNone.Rank(), SeverityLow.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, -1, Severity("severe").Rank())
}

func TestParseEvidenceLevel(t *testing.T) {
	tests := []struct {
		in   string
		want EvidenceLevel
		ok   bool
	}{
		{"A", EvidenceA, true},
		{"d", EvidenceD, true},
		{"Level A", EvidenceA, true},
		{"level c", EvidenceC, true},
		{"E", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseEvidenceLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
