package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/pharmguard/internal/phenotype"
	"github.com/inodb/pharmguard/internal/report"
	"github.com/inodb/pharmguard/internal/rules"
	"github.com/inodb/pharmguard/internal/vcf"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func makeReport(id, patient, drug string, ts time.Time) report.Report {
	return report.Report{
		AnalysisID: id,
		PatientID:  patient,
		Drug:       drug,
		Timestamp:  ts,
		RiskAssessment: report.RiskAssessment{
			RiskLabel:        "Ineffective",
			RiskScore:        85.0,
			Severity:         rules.SeverityModerate,
			EvidenceLevel:    rules.EvidenceA,
			GuidelineVersion: "CPIC 2021",
		},
		PharmacogenomicProfile: report.PharmacogenomicProfile{
			PrimaryGene: "CYP2D6",
			Diplotype:   "*4/*4",
			Phenotype:   phenotype.PM,
			DetectedVariants: []vcf.VariantRecord{{
				Gene: "CYP2D6", RSID: strPtr("rs3892097"), StarAllele: strPtr("*4"),
				Chrom: "chr22", Pos: 42522613, Ref: "C", Alt: []string{"T"},
			}},
		},
		ClinicalRecommendation: report.ClinicalRecommendation{
			RecommendationText: "Avoid codeine.",
			GuidelineSource:    report.GuidelineSource,
			EvidenceLevel:      rules.EvidenceA,
		},
		QualityMetrics: report.QualityMetrics{
			VCFParsingSuccess: true,
			VariantCount:      1,
			LinesProcessed:    1,
			RuleEngineApplied: true,
		},
	}
}

func TestOpenClose(t *testing.T) {
	s := openInMemory(t)
	assert.NotNil(t, s.DB())
	assert.Equal(t, "", s.Path())
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/reports.duckdb"
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
}

func TestWriteAndLookupReport(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteReports(ctx, []report.Report{makeReport("a-1", "PATIENT_001", "CODEINE", ts)}))

	got, err := s.LookupReport(ctx, "a-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "PATIENT_001", got.PatientID)
	assert.Equal(t, "*4/*4", got.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, 85.0, got.RiskAssessment.RiskScore)
	assert.True(t, ts.Equal(got.Timestamp))
	require.Len(t, got.PharmacogenomicProfile.DetectedVariants, 1)
	assert.Equal(t, "*4", got.PharmacogenomicProfile.DetectedVariants[0].Star())

	missing, err := s.LookupReport(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWriteReportsDeduplicates(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	ts := time.Now()

	r := makeReport("dup", "P", "CODEINE", ts)
	require.NoError(t, s.WriteReports(ctx, []report.Report{r, r}))

	n, err := s.CountReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.WriteReports(ctx, nil))
}

func TestSearchByPatient(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteReports(ctx, []report.Report{
		makeReport("r1", "P1", "CODEINE", base),
		makeReport("r2", "P1", "WARFARIN", base.Add(time.Hour)),
		makeReport("r3", "P2", "CODEINE", base.Add(2*time.Hour)),
	}))

	found, err := s.SearchByPatient(ctx, "P1", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "r2", found[0].AnalysisID)
	assert.Equal(t, "WARFARIN", found[0].Drug)
	assert.Equal(t, "r1", found[1].AnalysisID)
	assert.Equal(t, "PM", found[1].Phenotype)

	limited, err := s.SearchByPatient(ctx, "P1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "r2", limited[0].AnalysisID)

	none, err := s.SearchByPatient(ctx, "NOBODY", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClearReports(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, s.WriteReports(ctx, []report.Report{makeReport("c1", "P", "CODEINE", time.Now())}))
	require.NoError(t, s.ClearReports())

	n, err := s.CountReports(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
