package analysis

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/inodb/pharmguard/internal/explain"
	"github.com/inodb/pharmguard/internal/report"
	"github.com/inodb/pharmguard/internal/vcf"
)

// WorkItem is one drug to evaluate against a shared extraction.
type WorkItem struct {
	Seq  int
	Drug string
}

// WorkResult holds the report for a single drug.
type WorkResult struct {
	Seq    int
	Drug   string
	Report report.Report
	Err    error
}

// ParallelEvaluate evaluates work items using a pool of workers.
// Results are sent to the returned channel in arrival order (not sequence order).
// Use OrderedCollect to consume results in sequence-number order.
// If workers is 0, runtime.NumCPU() is used.
func (a *Analyzer) ParallelEvaluate(ctx context.Context, items <-chan WorkItem, res *vcf.Result, patientID string, audience explain.Audience, workers int) <-chan WorkResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan WorkResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				if err := ctx.Err(); err != nil {
					results <- WorkResult{Seq: item.Seq, Drug: item.Drug, Err: err}
					continue
				}
				r, err := a.Evaluate(ctx, res, patientID, item.Drug, audience)
				results <- WorkResult{
					Seq:    item.Seq,
					Drug:   item.Drug,
					Report: r,
					Err:    err,
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// OrderedCollect calls fn for each result in sequence-number order.
// It buffers out-of-order results in a pending map and emits them
// as soon as the next expected sequence number is available.
// Blocks until the results channel is closed.
func OrderedCollect(results <-chan WorkResult, fn func(WorkResult) error) error {
	pending := make(map[int]WorkResult)
	nextSeq := 0

	for r := range results {
		pending[r.Seq] = r

		for {
			rr, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := fn(rr); err != nil {
				// Drain remaining results to unblock workers.
				for range results {
				}
				return err
			}
		}
	}

	return nil
}

// AnalyzeDrugs extracts req.VCF once and hands the result to EvaluateDrugs.
func (a *Analyzer) AnalyzeDrugs(ctx context.Context, req Request, drugs []string) ([]report.Report, error) {
	res, err := a.Extract(req)
	if err != nil {
		return nil, err
	}
	return a.EvaluateDrugs(ctx, res, req.PatientID, req.Audience, drugs)
}

// EvaluateDrugs evaluates every drug concurrently against an extracted result.
// Reports are returned in the order of drugs; duplicate names are evaluated once.
func (a *Analyzer) EvaluateDrugs(ctx context.Context, res *vcf.Result, patientID string, audience explain.Audience, drugs []string) ([]report.Report, error) {
	if res == nil || res.Empty() {
		return nil, ErrNoTargetVariants
	}
	unique := dedupeDrugs(drugs)
	items := make(chan WorkItem, len(unique))
	for i, d := range unique {
		items <- WorkItem{Seq: i, Drug: d}
	}
	close(items)

	workers := a.workers
	if workers <= 0 || workers > len(unique) {
		workers = min(len(unique), runtime.NumCPU())
	}
	results := a.ParallelEvaluate(ctx, items, res, patientID, audience, workers)

	reports := make([]report.Report, 0, len(unique))
	if err := OrderedCollect(results, func(r WorkResult) error {
		if r.Err != nil {
			return r.Err
		}
		reports = append(reports, r.Report)
		return nil
	}); err != nil {
		return nil, err
	}
	return reports, nil
}

func dedupeDrugs(drugs []string) []string {
	seen := make(map[string]bool, len(drugs))
	out := make([]string, 0, len(drugs))
	for _, d := range drugs {
		d = strings.ToUpper(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
