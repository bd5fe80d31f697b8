package consensus

import (
	"context"
	"fmt"
	"strings"
)

// RuleVerifier scans the primary response against static safety patterns
// and a small table of known medication/condition contraindications.
// Each match subtracts a fixed penalty and records a concern.
type RuleVerifier struct {
	safetyPatterns   []string
	contraindication map[string][]string
}

const (
	safetyPenalty  = 0.20
	hedgingPenalty = 0.10
	agreeFloor     = 0.60
)

// defaultSafetyPatterns are response phrasings that demand a closer look
// even when the model sounds certain.
var defaultSafetyPatterns = []string{
	"contraindicated",
	"overdose",
	"allergy",
	"allergic reaction",
	"black box warning",
	"do not administer",
	"fatal",
	"life-threatening",
	"toxicity",
}

// hedgingPhrases proxy low model confidence.
var hedgingPhrases = []string{
	"uncertain",
	"might be",
	"possibly",
	"not sure",
	"unclear",
	"could be",
}

// defaultContraindications maps medications to conditions they must not
// be combined with. Deliberately small: the authoritative interaction
// database is an external collaborator, this table is a tripwire.
var defaultContraindications = map[string][]string{
	"warfarin":     {"pregnancy", "active bleeding"},
	"metformin":    {"renal failure", "severe kidney disease"},
	"aspirin":      {"peptic ulcer", "hemophilia"},
	"ibuprofen":    {"peptic ulcer", "kidney disease", "heart failure"},
	"lisinopril":   {"pregnancy", "angioedema"},
	"isotretinoin": {"pregnancy"},
}

// NewRuleVerifier creates the verifier with the built-in pattern list and
// contraindication table. Extra patterns from configuration are appended.
func NewRuleVerifier(extraPatterns []string) *RuleVerifier {
	return &RuleVerifier{
		safetyPatterns:   append(append([]string{}, defaultSafetyPatterns...), extraPatterns...),
		contraindication: defaultContraindications,
	}
}

// Name identifies the verifier.
func (v *RuleVerifier) Name() string {
	return "rule"
}

// Weight is the verifier's aggregation weight.
func (v *RuleVerifier) Weight() float64 {
	return ruleWeight
}

// Verify applies the static checks. It never calls a backend and never
// returns an error.
func (v *RuleVerifier) Verify(_ context.Context, cc ClinicalContext, primary PrimaryResponse) (VerifierResult, error) {
	lowered := strings.ToLower(primary.Content)
	confidence := 1.0
	var concerns []string

	for _, pattern := range v.safetyPatterns {
		if strings.Contains(lowered, pattern) {
			confidence -= safetyPenalty
			concerns = append(concerns, fmt.Sprintf("safety pattern matched: %q", pattern))
		}
	}

	contraindicated := false
	for _, med := range cc.Medications {
		conditions, ok := v.contraindication[strings.ToLower(med)]
		if !ok {
			continue
		}
		for _, condition := range conditions {
			if hasCondition(cc.Conditions, condition) {
				contraindicated = true
				confidence -= safetyPenalty
				concerns = append(concerns, fmt.Sprintf("contraindicated: %s with %s", med, condition))
			}
		}
	}

	for _, phrase := range hedgingPhrases {
		if strings.Contains(lowered, phrase) {
			confidence -= hedgingPenalty
			concerns = append(concerns, fmt.Sprintf("hedging language: %q", phrase))
		}
	}

	if confidence < 0 {
		confidence = 0
	}

	return VerifierResult{
		VerifierName: v.Name(),
		Agrees:       !contraindicated && confidence >= agreeFloor,
		Confidence:   confidence,
		Concerns:     concerns,
	}, nil
}

func hasCondition(conditions []string, condition string) bool {
	for _, c := range conditions {
		if strings.Contains(strings.ToLower(c), condition) {
			return true
		}
	}
	return false
}
