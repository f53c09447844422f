// Package explain produces narrative explanations of risk decisions.
//
// Explainers only receive the finished decision and return text; nothing
// here can change a risk label, severity or score.
package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/inodb/pharmguard/internal/report"
)

// Audience selects the register of the explanation.
type Audience string

// Supported audiences.
const (
	Clinician Audience = "clinician"
	Patient   Audience = "patient"
)

// ParseAudience parses an audience name. Empty input yields Clinician.
func ParseAudience(s string) (Audience, error) {
	switch a := Audience(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return Clinician, nil
	case Clinician, Patient:
		return a, nil
	default:
		return "", fmt.Errorf("invalid audience %q: use 'clinician' or 'patient'", s)
	}
}

// Context is the structured decision an explanation is written for.
type Context struct {
	Gene           string
	Diplotype      string
	Phenotype      string
	Drug           string
	RiskLabel      string
	Severity       string
	Recommendation string
	Audience       Audience
}

// Explainer turns a decision context into an explanation.
type Explainer interface {
	Explain(ctx context.Context, c Context) (report.Explanation, error)
}
