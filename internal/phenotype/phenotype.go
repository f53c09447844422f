// Package phenotype resolves star alleles to diplotypes and metabolizer phenotypes.
package phenotype

import "strings"

// Phenotype is a metabolizer phenotype category.
type Phenotype string

// Metabolizer phenotypes.
const (
	NM      Phenotype = "NM"      // normal metabolizer
	IM      Phenotype = "IM"      // intermediate metabolizer
	PM      Phenotype = "PM"      // poor metabolizer
	URM     Phenotype = "URM"     // ultra-rapid metabolizer
	Unknown Phenotype = "Unknown" // unmapped or no allele detected
)

var descriptions = map[Phenotype]string{
	NM:      "Normal Metabolizer",
	IM:      "Intermediate Metabolizer",
	PM:      "Poor Metabolizer",
	URM:     "Ultrarapid Metabolizer",
	Unknown: "Unknown",
}

var aliases = map[string]Phenotype{
	"NM":                       NM,
	"IM":                       IM,
	"PM":                       PM,
	"URM":                      URM,
	"UM":                       URM,
	"UNKNOWN":                  Unknown,
	"NORMAL METABOLIZER":       NM,
	"INTERMEDIATE METABOLIZER": IM,
	"POOR METABOLIZER":         PM,
	"ULTRARAPID METABOLIZER":   URM,
	"ULTRA-RAPID METABOLIZER":  URM,
	"NORMAL FUNCTION":          NM,
	"DECREASED FUNCTION":       IM,
	"POOR FUNCTION":            PM,
	"INCREASED FUNCTION":       URM,
}

// Parse converts a code ("PM") or long name ("Poor Metabolizer") to a Phenotype.
func Parse(s string) (Phenotype, bool) {
	p, ok := aliases[strings.ToUpper(strings.TrimSpace(s))]
	return p, ok
}

// Description returns the long display name.
func (p Phenotype) Description() string {
	if d, ok := descriptions[p]; ok {
		return d
	}
	return string(p)
}

// Known returns true for any phenotype other than Unknown.
func (p Phenotype) Known() bool {
	return p != Unknown && descriptions[p] != ""
}

// Result is the resolved diplotype and phenotype for one gene.
type Result struct {
	Diplotype string    `json:"diplotype"`
	Phenotype Phenotype `json:"phenotype"`
}
