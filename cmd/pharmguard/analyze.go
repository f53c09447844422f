package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/duckdb"
	"github.com/inodb/pharmguard/internal/explain"
	"github.com/inodb/pharmguard/internal/output"
	"github.com/inodb/pharmguard/internal/report"
	"github.com/inodb/pharmguard/internal/vcf"
)

type analyzeOptions struct {
	drugs      string
	patientID  string
	audience   string
	format     string
	outputFile string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze [flags] <input.vcf>",
		Short: "Assess drug risk for one VCF file",
		Long: `Assess drug risk for one VCF file (plain or gzip-compressed).
Use '-' to read from stdin.`,
		Example: `  pharmguard analyze --drug CODEINE --patient PATIENT_001 sample.vcf
  pharmguard analyze --drug codeine,warfarin --patient P1 -f tab sample.vcf.gz
  cat sample.vcf | pharmguard analyze --drug CLOPIDOGREL --patient P1 --audience patient -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), a, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.drugs, "drug", "d", "", "Drug name, or a comma-separated list")
	cmd.Flags().StringVarP(&opts.patientID, "patient", "p", "", "Patient identifier")
	cmd.Flags().StringVar(&opts.audience, "audience", "", "Explanation audience: clinician, patient (default from explain.audience)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json, tab")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Output file (default: stdout)")
	_ = cmd.MarkFlagRequired("drug")
	_ = cmd.MarkFlagRequired("patient")

	return cmd
}

func runAnalyze(ctx context.Context, a *app, inputPath string, opts analyzeOptions, stdout io.Writer) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	patientID := strings.TrimSpace(opts.patientID)
	if patientID == "" {
		return errors.New("--patient must be non-empty")
	}
	drugs := splitDrugs(opts.drugs)
	if len(drugs) == 0 {
		return errors.New("--drug must name at least one drug")
	}
	audienceName := opts.audience
	if audienceName == "" {
		audienceName = cfg.Explain.Audience
	}
	audience, err := explain.ParseAudience(audienceName)
	if err != nil {
		return err
	}

	var out io.Writer = stdout
	if opts.outputFile != "" {
		f, err := os.Create(opts.outputFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	writer, ok := output.New(opts.format, out)
	if !ok {
		return fmt.Errorf("unknown output format %q", opts.format)
	}

	analyzer, _, err := newAnalyzer(cfg, logger, nil)
	if err != nil {
		return err
	}

	res, err := analyzer.ExtractFile(inputPath, patientID)
	if err != nil {
		var extErr *vcf.ExtractionError
		if errors.As(err, &extErr) && errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w (check that the file path is correct)", err)
		}
		return err
	}

	var reports []report.Report
	if len(drugs) == 1 {
		r, err := analyzer.Evaluate(ctx, res, patientID, drugs[0], audience)
		if err != nil {
			return err
		}
		reports = []report.Report{r}
	} else {
		reports, err = analyzer.EvaluateDrugs(ctx, res, patientID, audience, drugs)
		if err != nil {
			return err
		}
	}

	if path, ok := cfg.StorePath(); ok && path != "" {
		if err := archive(ctx, path, reports); err != nil {
			logger.Warn("report persistence failed", zap.String("path", path), zap.Error(err))
		}
	}

	if err := writer.WriteHeader(); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i := range reports {
		if err := writer.Write(&reports[i]); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return writer.Flush()
}

// archive appends reports to the on-disk store. In-memory stores are skipped
// since nothing would outlive the process.
func archive(ctx context.Context, path string, reports []report.Report) error {
	store, err := duckdb.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.WriteReports(ctx, reports)
}

func splitDrugs(s string) []string {
	var drugs []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.ToUpper(strings.TrimSpace(d)); d != "" {
			drugs = append(drugs, d)
		}
	}
	return drugs
}
