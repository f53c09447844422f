package main

import (
	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/analysis"
	"github.com/inodb/pharmguard/internal/config"
	"github.com/inodb/pharmguard/internal/explain"
	"github.com/inodb/pharmguard/internal/metrics"
	"github.com/inodb/pharmguard/internal/phenotype"
	"github.com/inodb/pharmguard/internal/rules"
	"github.com/inodb/pharmguard/internal/server"
)

// newAnalyzer loads the lookup tables and explainer named by cfg.
// m may be nil.
func newAnalyzer(cfg *config.Config, logger *zap.Logger, m *metrics.Manager) (*analysis.Analyzer, server.TableSources, error) {
	phenoTable, phenoSrc := phenotype.LoadTableOrDefault(cfg.Tables.PhenotypePath, logger)
	ruleTable, rulesSrc := rules.LoadTableOrDefault(cfg.Tables.RulesPath, logger)
	sources := server.TableSources{Phenotype: phenoSrc, Rules: rulesSrc}

	var onFallback func(error)
	if m != nil {
		onFallback = func(error) { m.RecordExplanationFallback() }
	}
	explainer, err := explain.New(cfg.ExplainerConfig(), logger, onFallback)
	if err != nil {
		return nil, sources, err
	}

	opts := []analysis.Option{
		analysis.WithExplainer(explainer),
		analysis.WithLogger(logger),
		analysis.WithWorkers(cfg.Analysis.Workers),
	}
	if m != nil {
		opts = append(opts, analysis.WithRecorder(m))
	}

	a := analysis.New(phenotype.NewResolver(phenoTable), rules.NewEngine(ruleTable), opts...)
	return a, sources, nil
}
