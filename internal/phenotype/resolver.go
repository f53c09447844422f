package phenotype

import "strings"

// Resolver maps a gene and detected star allele to a PhenotypeResult.
// Only a single allele is reported per record, so the diplotype is
// inferred as homozygous (allele/allele).
type Resolver struct {
	table *Table
}

// NewResolver creates a resolver over t. A nil table uses DefaultTable.
func NewResolver(t *Table) *Resolver {
	if t == nil {
		t = DefaultTable()
	}
	return &Resolver{table: t}
}

// Table returns the table the resolver reads from.
func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve returns the diplotype and phenotype for gene and star.
// A nil or blank star yields ("Unknown", Unknown); an unmapped diplotype
// yields Unknown with the diplotype preserved.
func (r *Resolver) Resolve(gene string, star *string) Result {
	if star == nil {
		return Result{Diplotype: string(Unknown), Phenotype: Unknown}
	}
	allele := strings.ToUpper(strings.TrimSpace(*star))
	if allele == "" {
		return Result{Diplotype: string(Unknown), Phenotype: Unknown}
	}

	diplotype := allele + "/" + allele
	e, ok := r.table.Lookup(gene, diplotype)
	if !ok {
		return Result{Diplotype: diplotype, Phenotype: Unknown}
	}
	return Result{Diplotype: diplotype, Phenotype: e.Phenotype}
}
