package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newDrugsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drugs",
		Short: "List drugs covered by the rule table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrugs(a, cmd.OutOrStdout())
		},
	}
}

func runDrugs(a *app, w io.Writer) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	analyzer, _, err := newAnalyzer(cfg, logger, nil)
	if err != nil {
		return err
	}

	enabled := make(map[string]bool, len(cfg.Analysis.Drugs))
	for _, d := range cfg.Analysis.Drugs {
		enabled[d] = true
	}

	fmt.Fprintln(w, "#Drug\tGene\tEvidence\tPhenotypes\tEnabled\tGuideline")
	for _, info := range analyzer.Engine().Drugs() {
		phenos := make([]string, len(info.Phenotypes))
		for i, p := range info.Phenotypes {
			phenos[i] = string(p)
		}
		on := "no"
		if enabled[info.Drug] {
			on = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Drug, info.Gene, info.EvidenceLevel, strings.Join(phenos, ","), on, info.GuidelineVersion)
	}
	return nil
}
