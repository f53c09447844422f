// Package analysis runs the pharmacogenomic pipeline:
// extract -> resolve -> evaluate -> score -> explain -> assemble.
package analysis

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/explain"
	"github.com/inodb/pharmguard/internal/metrics"
	"github.com/inodb/pharmguard/internal/phenotype"
	"github.com/inodb/pharmguard/internal/report"
	"github.com/inodb/pharmguard/internal/rules"
	"github.com/inodb/pharmguard/internal/scoring"
	"github.com/inodb/pharmguard/internal/vcf"
)

// ErrNoTargetVariants means the input parsed but held no target-gene record.
var ErrNoTargetVariants = errors.New("no target pharmacogenomic variants detected in VCF")

// Request is one analysis request.
type Request struct {
	PatientID string
	Drug      string
	Audience  explain.Audience
	VCF       io.Reader
	Source    string // input name for logs and errors
}

// Recorder receives analysis outcomes. *metrics.Manager implements it.
type Recorder interface {
	RecordAnalysis(drug, riskLabel string, score float64, d time.Duration)
	RecordAnalysisFailure(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAnalysis(string, string, float64, time.Duration) {}
func (nopRecorder) RecordAnalysisFailure(string)                          {}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithExplainer sets the explanation strategy. Defaults to explain.Template.
func WithExplainer(e explain.Explainer) Option {
	return func(a *Analyzer) {
		if e != nil {
			a.explainer = e
		}
	}
}

// WithScorer sets the score calibration.
func WithScorer(s *scoring.Scorer) Option {
	return func(a *Analyzer) {
		if s != nil {
			a.scorer = s
		}
	}
}

// WithAssembler sets the report assembler.
func WithAssembler(asm *report.Assembler) Option {
	return func(a *Analyzer) {
		if asm != nil {
			a.assembler = asm
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithWorkers sets the worker count for multi-drug analysis. 0 uses runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		a.workers = n
	}
}

// Analyzer runs the pipeline against read-only lookup tables.
// It holds no per-request state and is safe for concurrent use.
type Analyzer struct {
	extractor *vcf.Extractor
	resolver  *phenotype.Resolver
	engine    *rules.Engine
	scorer    *scoring.Scorer
	explainer explain.Explainer
	assembler *report.Assembler
	recorder  Recorder
	logger    *zap.Logger
	workers   int
}

// New creates an Analyzer. Nil resolver or engine use the built-in tables.
func New(resolver *phenotype.Resolver, engine *rules.Engine, opts ...Option) *Analyzer {
	if resolver == nil {
		resolver = phenotype.NewResolver(nil)
	}
	if engine == nil {
		engine = rules.NewEngine(nil)
	}
	a := &Analyzer{
		extractor: vcf.NewExtractor(),
		resolver:  resolver,
		engine:    engine,
		scorer:    scoring.New(),
		explainer: explain.Template{},
		assembler: report.NewAssembler(),
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.extractor.SetLogger(a.logger)
	return a
}

// Engine returns the rule engine.
func (a *Analyzer) Engine() *rules.Engine {
	return a.engine
}

// Analyze runs the full pipeline for req.Drug.
// Returns ErrNoTargetVariants when nothing qualifies and *vcf.ExtractionError
// when the input cannot be read.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*report.Report, error) {
	res, err := a.Extract(req)
	if err != nil {
		return nil, err
	}
	r, err := a.Evaluate(ctx, res, req.PatientID, req.Drug, req.Audience)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Extract reads req.VCF and rejects inputs without a target-gene record.
func (a *Analyzer) Extract(req Request) (*vcf.Result, error) {
	source := req.Source
	if source == "" {
		source = "<upload>"
	}
	res, err := a.extractor.Extract(req.VCF, source)
	return a.checkExtraction(res, err, req.PatientID, source)
}

// ExtractFile reads a plain or gzipped VCF file ("-" for stdin) and rejects
// inputs without a target-gene record. A missing file yields *vcf.ExtractionError.
func (a *Analyzer) ExtractFile(path, patientID string) (*vcf.Result, error) {
	res, err := a.extractor.ExtractFile(path)
	return a.checkExtraction(res, err, patientID, path)
}

func (a *Analyzer) checkExtraction(res *vcf.Result, err error, patientID, source string) (*vcf.Result, error) {
	if err != nil {
		a.recorder.RecordAnalysisFailure(metrics.ReasonExtraction)
		a.logger.Error("vcf extraction failed",
			zap.String("patient_id", patientID),
			zap.String("source", source),
			zap.Error(err))
		return nil, err
	}
	if res.Empty() {
		a.recorder.RecordAnalysisFailure(metrics.ReasonNoVariants)
		a.logger.Warn("no target variants found",
			zap.String("patient_id", patientID),
			zap.String("source", source),
			zap.Int("lines", res.LinesProcessed))
		return nil, ErrNoTargetVariants
	}
	return res, nil
}

// Evaluate runs resolve -> evaluate -> score -> explain -> assemble on the
// first extracted variant. Explanation failures fall back to the template.
func (a *Analyzer) Evaluate(ctx context.Context, res *vcf.Result, patientID, drug string, audience explain.Audience) (report.Report, error) {
	if res == nil || res.Empty() {
		return report.Report{}, ErrNoTargetVariants
	}
	start := time.Now()
	drug = strings.ToUpper(strings.TrimSpace(drug))
	if audience == "" {
		audience = explain.Clinician
	}

	variant := res.First()
	pheno := a.resolver.Resolve(variant.Gene, variant.StarAllele)
	assessment := a.engine.Evaluate(drug, pheno.Phenotype)
	score := a.scorer.Score(pheno.Phenotype, assessment.Severity)

	dc := explain.Context{
		Gene:           variant.Gene,
		Diplotype:      pheno.Diplotype,
		Phenotype:      string(pheno.Phenotype),
		Drug:           drug,
		RiskLabel:      assessment.RiskLabel,
		Severity:       string(assessment.Severity),
		Recommendation: assessment.Recommendation,
		Audience:       audience,
	}
	exp, err := a.explainer.Explain(ctx, dc)
	if err != nil {
		a.logger.Warn("explanation failed, using template", zap.String("drug", drug), zap.Error(err))
		exp, _ = explain.Template{}.Explain(ctx, dc)
	}

	r := a.assembler.Assemble(report.Input{
		PatientID:      patientID,
		Drug:           drug,
		Variant:        *variant,
		Phenotype:      pheno,
		Assessment:     assessment,
		Score:          score,
		Explanation:    exp,
		VariantCount:   len(res.Variants),
		LinesProcessed: res.LinesProcessed,
	})

	a.recorder.RecordAnalysis(drug, assessment.RiskLabel, score, time.Since(start))
	a.logger.Info("analysis completed",
		zap.String("analysis_id", r.AnalysisID),
		zap.String("patient_id", patientID),
		zap.String("drug", drug),
		zap.String("gene", variant.Gene),
		zap.String("diplotype", pheno.Diplotype),
		zap.String("phenotype", string(pheno.Phenotype)),
		zap.String("risk_label", assessment.RiskLabel),
		zap.Float64("risk_score", score))

	return r, nil
}
