package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/medgate/pkg/provider"
	"github.com/zen-systems/medgate/pkg/router"
)

// SecondaryModelVerifier asks a different provider than the one that
// produced the primary response to judge its appropriateness.
type SecondaryModelVerifier struct {
	router     *router.Router
	candidates []provider.ID
}

// NewSecondaryModelVerifier creates the verifier. candidates is the
// preference order of verification backends; the first one differing from
// the primary's provider is used.
func NewSecondaryModelVerifier(r *router.Router, candidates []provider.ID) *SecondaryModelVerifier {
	return &SecondaryModelVerifier{router: r, candidates: candidates}
}

// Name identifies the verifier.
func (v *SecondaryModelVerifier) Name() string {
	return "secondary-model"
}

// Weight is the verifier's aggregation weight.
func (v *SecondaryModelVerifier) Weight() float64 {
	return secondaryWeight
}

type secondaryReply struct {
	Agrees     bool     `json:"agrees"`
	Confidence float64  `json:"confidence"`
	Concerns   []string `json:"concerns"`
}

// Verify routes a structured verification prompt to an independent
// provider. A malformed reply counts as disagreement with moderate
// confidence, never as silent success.
func (v *SecondaryModelVerifier) Verify(ctx context.Context, cc ClinicalContext, primary PrimaryResponse) (VerifierResult, error) {
	target := v.pickProvider(primary.Provider)
	if target == "" {
		return VerifierResult{}, fmt.Errorf("no verification provider independent of %s", primary.Provider)
	}

	res, err := v.router.Route(ctx, router.Request{
		Provider: target,
		Messages: []provider.Message{
			{Role: "system", Content: "You are a clinical safety reviewer. Reply with JSON only."},
			{Role: "user", Content: buildVerificationPrompt(cc, primary)},
		},
	})
	if err != nil {
		return VerifierResult{}, fmt.Errorf("secondary verification call: %w", err)
	}

	reply, parseErr := parseSecondaryReply(res.Content)
	if parseErr != nil {
		return VerifierResult{
			VerifierName: v.Name(),
			Agrees:       false,
			Confidence:   0.5,
			Concerns:     []string{fmt.Sprintf("verification reply unparsable: %v", parseErr)},
		}, nil
	}

	return VerifierResult{
		VerifierName: v.Name(),
		Agrees:       reply.Agrees,
		Confidence:   clamp01(reply.Confidence),
		Concerns:     reply.Concerns,
	}, nil
}

// pickProvider returns the first candidate that is not the primary's
// provider, so the check stays independent.
func (v *SecondaryModelVerifier) pickProvider(primary provider.ID) provider.ID {
	for _, id := range v.candidates {
		if id != primary {
			return id
		}
	}
	return ""
}

func buildVerificationPrompt(cc ClinicalContext, primary PrimaryResponse) string {
	var sb strings.Builder
	sb.WriteString("Assess whether the following AI-generated clinical response is appropriate and safe.\n")
	sb.WriteString("Return ONLY JSON: {\"agrees\":true|false,\"confidence\":0-1,\"concerns\":[\"...\"]}.\n\n")
	if cc.PatientAge > 0 {
		sb.WriteString(fmt.Sprintf("Patient age: %d\n", cc.PatientAge))
	}
	if len(cc.Medications) > 0 {
		sb.WriteString(fmt.Sprintf("Current medications: %s\n", strings.Join(cc.Medications, ", ")))
	}
	if len(cc.Conditions) > 0 {
		sb.WriteString(fmt.Sprintf("Known conditions: %s\n", strings.Join(cc.Conditions, ", ")))
	}
	if cc.TaskType != "" {
		sb.WriteString(fmt.Sprintf("Task type: %s\n", cc.TaskType))
	}
	sb.WriteString("\nResponse under review:\n")
	sb.WriteString(primary.Content)
	return sb.String()
}

func parseSecondaryReply(content string) (*secondaryReply, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var reply secondaryReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, err
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return nil, fmt.Errorf("confidence out of range")
	}
	return &reply, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
