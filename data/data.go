// Package data embeds the lookup tables shipped with the binary.
package data

import _ "embed"

// Phenotypes is the shipped diplotype to phenotype table (phenotypes.yaml).
//
//go:embed phenotypes.yaml
var Phenotypes []byte

// Rules is the shipped drug rule table (rules.yaml).
//
//go:embed rules.yaml
var Rules []byte
