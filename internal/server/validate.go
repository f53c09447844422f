package server

import (
	"fmt"
	"regexp"
	"strings"
)

// safeFilename allows plain base names only: no separators, no leading dot,
// no whitespace.
var safeFilename = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var allowedExtensions = []string{".vcf", ".vcf.gz"}

func validatePatientID(id string) (string, *APIError) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", validationError("patient_id", "Patient ID is required and must be non-empty")
	}
	return id, nil
}

// parseDrugs merges the drug and comma-separated drugs fields, upper-cased
// and in request order without duplicates.
func parseDrugs(fields ...string) []string {
	var drugs []string
	seen := make(map[string]bool)
	for _, f := range fields {
		for _, d := range strings.Split(f, ",") {
			d = strings.ToUpper(strings.TrimSpace(d))
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			drugs = append(drugs, d)
		}
	}
	return drugs
}

func (s *Server) validateDrugs(drugs []string) *APIError {
	if len(drugs) == 0 {
		return validationError("drug", "Drug name is required")
	}
	for _, d := range drugs {
		if !s.supported(d) {
			return validationError("drug", fmt.Sprintf("Drug '%s' is not supported. Supported drugs: %s", d, s.drugNames))
		}
	}
	return nil
}

// allowedFile reports whether name is a safe base name with a VCF extension.
func allowedFile(name string) bool {
	if name == "" || strings.Contains(name, "..") || !safeFilename.MatchString(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}
