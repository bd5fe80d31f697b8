package consensus

import (
	"context"
	"fmt"
	"strings"
)

// HistoricalVerifier applies age-banded safety heuristics. It is the
// weakest signal: it starts from a moderate baseline rather than 1.0, and
// any internal failure degrades it to 0.5 instead of dropping it from the
// aggregation, because it is advisory rather than authoritative.
type HistoricalVerifier struct{}

const (
	historicalBaseline = 0.65
	historicalDegraded = 0.50
	agePenalty         = 0.15
	pediatricCutoff    = 18
	geriatricCutoff    = 65
)

// pediatricFlags are medications or phrasings that warrant caution in
// patients under 18 (e.g. aspirin and Reye's syndrome).
var pediatricFlags = []string{
	"aspirin",
	"codeine",
	"tetracycline",
	"fluoroquinolone",
	"adult dose",
}

// geriatricFlags follow the usual potentially-inappropriate-medication
// lists for patients 65 and over.
var geriatricFlags = []string{
	"benzodiazepine",
	"diazepam",
	"diphenhydramine",
	"long-term nsaid",
	"muscle relaxant",
}

// NewHistoricalVerifier creates the verifier.
func NewHistoricalVerifier() *HistoricalVerifier {
	return &HistoricalVerifier{}
}

// Name identifies the verifier.
func (v *HistoricalVerifier) Name() string {
	return "historical-pattern"
}

// Weight is the verifier's aggregation weight.
func (v *HistoricalVerifier) Weight() float64 {
	return historicalWeight
}

// Verify checks the response against the age band of the patient. It
// degrades to a neutral result instead of returning an error.
func (v *HistoricalVerifier) Verify(_ context.Context, cc ClinicalContext, primary PrimaryResponse) (result VerifierResult, _ error) {
	defer func() {
		if r := recover(); r != nil {
			result = VerifierResult{
				VerifierName: v.Name(),
				Agrees:       false,
				Confidence:   historicalDegraded,
				Concerns:     []string{fmt.Sprintf("historical verifier degraded: %v", r)},
			}
		}
	}()

	lowered := strings.ToLower(primary.Content)
	confidence := historicalBaseline
	var concerns []string

	switch {
	case cc.PatientAge > 0 && cc.PatientAge < pediatricCutoff:
		for _, flag := range pediatricFlags {
			if strings.Contains(lowered, flag) {
				confidence -= agePenalty
				concerns = append(concerns, fmt.Sprintf("pediatric safety flag: %q", flag))
			}
		}
	case cc.PatientAge >= geriatricCutoff:
		for _, flag := range geriatricFlags {
			if strings.Contains(lowered, flag) {
				confidence -= agePenalty
				concerns = append(concerns, fmt.Sprintf("geriatric safety flag: %q", flag))
			}
		}
	}

	if confidence < 0 {
		confidence = 0
	}

	return VerifierResult{
		VerifierName: v.Name(),
		Agrees:       len(concerns) == 0,
		Confidence:   confidence,
		Concerns:     concerns,
	}, nil
}
