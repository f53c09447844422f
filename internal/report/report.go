// Package report assembles the final pharmacogenomic analysis report.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/inodb/pharmguard/internal/phenotype"
	"github.com/inodb/pharmguard/internal/rules"
	"github.com/inodb/pharmguard/internal/vcf"
)

// GuidelineSource is the guideline body cited in every recommendation.
const GuidelineSource = "CPIC"

// Report is the terminal aggregate for one analysis. It is not modified after Assemble.
type Report struct {
	AnalysisID             string                 `json:"analysis_id"`
	PatientID              string                 `json:"patient_id"`
	Drug                   string                 `json:"drug"`
	Timestamp              time.Time              `json:"timestamp"`
	RiskAssessment         RiskAssessment         `json:"risk_assessment"`
	PharmacogenomicProfile PharmacogenomicProfile `json:"pharmacogenomic_profile"`
	ClinicalRecommendation ClinicalRecommendation `json:"clinical_recommendation"`
	Explanation            Explanation            `json:"llm_generated_explanation"`
	QualityMetrics         QualityMetrics         `json:"quality_metrics"`
}

// RiskAssessment is the deterministic risk decision plus its score.
type RiskAssessment struct {
	RiskLabel        string              `json:"risk_label"`
	RiskScore        float64             `json:"risk_score"`
	Severity         rules.Severity      `json:"severity"`
	EvidenceLevel    rules.EvidenceLevel `json:"evidence_level"`
	GuidelineVersion string              `json:"guideline_version"`
}

// PharmacogenomicProfile describes the gene result and its triggering variant.
type PharmacogenomicProfile struct {
	PrimaryGene      string              `json:"primary_gene"`
	Diplotype        string              `json:"diplotype"`
	Phenotype        phenotype.Phenotype `json:"phenotype"`
	DetectedVariants []vcf.VariantRecord `json:"detected_variants"`
}

// ClinicalRecommendation carries the guideline recommendation text.
type ClinicalRecommendation struct {
	RecommendationText string              `json:"recommendation_text"`
	GuidelineSource    string              `json:"guideline_source"`
	EvidenceLevel      rules.EvidenceLevel `json:"evidence_level"`
}

// Explanation is opaque narrative text. It never influences risk fields.
type Explanation struct {
	Summary   string `json:"summary"`
	Mechanism string `json:"mechanism"`
}

// QualityMetrics records how the input was processed.
type QualityMetrics struct {
	VCFParsingSuccess bool `json:"vcf_parsing_success"`
	VariantCount      int  `json:"variant_count"`
	LinesProcessed    int  `json:"lines_processed"`
	RuleEngineApplied bool `json:"rule_engine_applied"`
}

// Input holds everything Assemble aggregates.
type Input struct {
	PatientID      string
	Drug           string
	Variant        vcf.VariantRecord
	Phenotype      phenotype.Result
	Assessment     rules.Assessment
	Score          float64
	Explanation    Explanation
	VariantCount   int
	LinesProcessed int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithIDFunc sets the analysis id generator.
func WithIDFunc(newID func() string) Option {
	return func(a *Assembler) {
		a.newID = newID
	}
}

// Assembler builds Reports.
type Assembler struct {
	now   func() time.Time
	newID func() string
}

// NewAssembler creates an assembler using uuid ids and the wall clock.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble aggregates in into a new Report with a fresh analysis id and a UTC timestamp.
func (a *Assembler) Assemble(in Input) Report {
	variant := in.Variant
	variant.Alt = append([]string{}, in.Variant.Alt...)

	return Report{
		AnalysisID: a.newID(),
		PatientID:  in.PatientID,
		Drug:       in.Drug,
		Timestamp:  a.now().UTC(),
		RiskAssessment: RiskAssessment{
			RiskLabel:        in.Assessment.RiskLabel,
			RiskScore:        in.Score,
			Severity:         in.Assessment.Severity,
			EvidenceLevel:    in.Assessment.EvidenceLevel,
			GuidelineVersion: in.Assessment.GuidelineVersion,
		},
		PharmacogenomicProfile: PharmacogenomicProfile{
			PrimaryGene:      variant.Gene,
			Diplotype:        in.Phenotype.Diplotype,
			Phenotype:        in.Phenotype.Phenotype,
			DetectedVariants: []vcf.VariantRecord{variant},
		},
		ClinicalRecommendation: ClinicalRecommendation{
			RecommendationText: in.Assessment.Recommendation,
			GuidelineSource:    GuidelineSource,
			EvidenceLevel:      in.Assessment.EvidenceLevel,
		},
		Explanation: in.Explanation,
		QualityMetrics: QualityMetrics{
			VCFParsingSuccess: true,
			VariantCount:      in.VariantCount,
			LinesProcessed:    in.LinesProcessed,
			RuleEngineApplied: true,
		},
	}
}

// Variant returns the triggering variant record.
func (r *Report) Variant() vcf.VariantRecord {
	if len(r.PharmacogenomicProfile.DetectedVariants) == 0 {
		return vcf.VariantRecord{}
	}
	return r.PharmacogenomicProfile.DetectedVariants[0]
}
