// Package vcf extracts pharmacogenomic variant records from VCF text.
package vcf

import "strings"

// Target genes recognised by the extractor.
const (
	GeneCYP2D6  = "CYP2D6"
	GeneCYP2C19 = "CYP2C19"
	GeneCYP2C9  = "CYP2C9"
	GeneSLCO1B1 = "SLCO1B1"
	GeneTPMT    = "TPMT"
	GeneDPYD    = "DPYD"
)

// TargetGenes lists the genes the extractor keeps, in display order.
var TargetGenes = []string{
	GeneCYP2D6,
	GeneCYP2C19,
	GeneCYP2C9,
	GeneSLCO1B1,
	GeneTPMT,
	GeneDPYD,
}

var targetGeneSet = func() map[string]bool {
	m := make(map[string]bool, len(TargetGenes))
	for _, g := range TargetGenes {
		m[g] = true
	}
	return m
}()

// IsTargetGene reports whether gene (already upper-cased) is a target gene.
func IsTargetGene(gene string) bool {
	return targetGeneSet[gene]
}

// VariantRecord is one detected pharmacogenomic variant.
// RSID and StarAllele are nil when the source line does not carry them.
type VariantRecord struct {
	Gene       string   `json:"gene"`
	RSID       *string  `json:"rsid"`
	StarAllele *string  `json:"star_allele"`
	Chrom      string   `json:"chromosome"`
	Pos        int64    `json:"position"`
	Ref        string   `json:"reference"`
	Alt        []string `json:"alternate"`
}

// HasStarAllele returns true if the record carries a star-allele annotation.
func (v *VariantRecord) HasStarAllele() bool {
	return v.StarAllele != nil
}

// Star returns the star allele or "" when absent.
func (v *VariantRecord) Star() string {
	if v.StarAllele == nil {
		return ""
	}
	return *v.StarAllele
}

// validChrom reports whether chrom starts with a recognised chromosome token.
func validChrom(chrom string) bool {
	if chrom == "" {
		return false
	}
	if strings.HasPrefix(chrom, "chr") {
		return true
	}
	switch c := chrom[0]; {
	case c >= '1' && c <= '9':
		return true
	case c == 'X', c == 'Y', c == 'M':
		return true
	}
	return false
}

func optional(s string) *string {
	return &s
}
