package explain

import (
	"context"
	"fmt"

	"github.com/inodb/pharmguard/internal/report"
)

// Template is the deterministic local explainer. It never fails.
type Template struct{}

// Explain renders the clinician or patient template.
func (Template) Explain(_ context.Context, c Context) (report.Explanation, error) {
	var text string
	if c.Audience == Patient {
		text = patientTemplate(c)
	} else {
		text = clinicianTemplate(c)
	}
	return report.Explanation{Summary: text, Mechanism: text}, nil
}

func clinicianTemplate(c Context) string {
	return fmt.Sprintf(`Pharmacokinetic Analysis:

Gene: %[1]s
Diplotype: %[2]s
Phenotype: %[3]s

Drug: %[4]s
Risk Classification: %[5]s
Severity: %[6]s

Mechanism:
The %[1]s %[3]s status indicates altered metabolic capacity for %[4]s.

Clinical Implication:
%[4]s exposure and therapeutic efficacy may differ from typical patients.

Guideline Alignment:
This recommendation aligns with Clinical Pharmacogenetics Implementation Consortium (CPIC) guidance.

Recommended Action:
%[7]s`, c.Gene, c.Diplotype, c.Phenotype, c.Drug, c.RiskLabel, c.Severity, c.Recommendation)
}

func patientTemplate(c Context) string {
	return fmt.Sprintf(`Your Personalized Drug Information:

Your genetic profile: %[1]s %[2]s
This means you are a %[3]s for this gene group.

About %[4]s:
Based on your genetics, %[4]s may not work the usual way for you.

Assessment Level: %[5]s

What You Should Do:
%[6]s

Always discuss this with your healthcare provider.`, c.Gene, c.Diplotype, c.Phenotype, c.Drug, c.RiskLabel, c.Recommendation)
}
