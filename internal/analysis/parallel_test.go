package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/pharmguard/internal/vcf"
)

func extractFixture(t *testing.T) *vcf.Result {
	t.Helper()
	res, err := vcf.NewExtractor().Extract(strings.NewReader(cyp2d6Line), "fixture")
	require.NoError(t, err)
	return res
}

func makeItems(drugs []string) <-chan WorkItem {
	ch := make(chan WorkItem, len(drugs))
	for i, d := range drugs {
		ch <- WorkItem{Seq: i, Drug: d}
	}
	close(ch)
	return ch
}

func TestParallelEvaluate_OrderPreservation(t *testing.T) {
	a := New(nil, nil)
	res := extractFixture(t)

	drugs := make([]string, 200)
	for i := range drugs {
		drugs[i] = []string{"CODEINE", "WARFARIN", "CLOPIDOGREL", "ASPIRIN"}[i%4]
	}

	results := a.ParallelEvaluate(context.Background(), makeItems(drugs), res, "P", "", 8)

	var collected []int
	err := OrderedCollect(results, func(r WorkResult) error {
		require.NoError(t, r.Err)
		assert.Equal(t, drugs[r.Seq], r.Report.Drug)
		collected = append(collected, r.Seq)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, collected, 200)
	for i, seq := range collected {
		assert.Equal(t, i, seq, "result %d out of order", i)
	}
}

func TestParallelEvaluate_CanceledContext(t *testing.T) {
	a := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := a.ParallelEvaluate(ctx, makeItems([]string{"CODEINE", "WARFARIN"}), extractFixture(t), "P", "", 2)
	err := OrderedCollect(results, func(r WorkResult) error { return r.Err })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrderedCollect_StopsOnError(t *testing.T) {
	a := New(nil, nil)
	results := a.ParallelEvaluate(context.Background(), makeItems([]string{"A", "B", "C", "D"}), extractFixture(t), "P", "", 1)

	stop := errors.New("stop")
	calls := 0
	err := OrderedCollect(results, func(r WorkResult) error {
		calls++
		if r.Seq == 1 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestAnalyzeDrugs(t *testing.T) {
	rec := &recorder{}
	a := New(nil, nil, WithRecorder(rec), WithWorkers(3))

	reports, err := a.AnalyzeDrugs(context.Background(), Request{
		PatientID: "P",
		VCF:       strings.NewReader(cyp2d6Line),
	}, []string{"codeine", "WARFARIN", " Codeine ", "", "CLOPIDOGREL"})
	require.NoError(t, err)

	require.Len(t, reports, 3)
	assert.Equal(t, "CODEINE", reports[0].Drug)
	assert.Equal(t, "WARFARIN", reports[1].Drug)
	assert.Equal(t, "CLOPIDOGREL", reports[2].Drug)
	assert.Equal(t, "Ineffective", reports[0].RiskAssessment.RiskLabel)

	ids := map[string]bool{}
	for _, r := range reports {
		assert.Equal(t, "*4/*4", r.PharmacogenomicProfile.Diplotype)
		ids[r.AnalysisID] = true
	}
	assert.Len(t, ids, 3)
	assert.Len(t, rec.analyses, 3)
}

func TestAnalyzeDrugs_NoTargets(t *testing.T) {
	_, err := New(nil, nil).AnalyzeDrugs(context.Background(), Request{
		PatientID: "P",
		VCF:       strings.NewReader("#CHROM\tPOS\n"),
	}, []string{"CODEINE"})
	assert.ErrorIs(t, err, ErrNoTargetVariants)
}
