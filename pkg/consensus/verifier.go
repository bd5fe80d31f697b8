// Package consensus cross-checks a primary AI answer against independent
// verifiers before a safety-critical clinical decision may proceed.
package consensus

import (
	"context"
	"time"

	"github.com/zen-systems/medgate/pkg/provider"
)

// Verifier weights. Fixed: the secondary model is the strongest signal,
// static rules next, historical heuristics weakest.
const (
	secondaryWeight  = 0.40
	ruleWeight       = 0.35
	historicalWeight = 0.25
)

// ClinicalContext is the de-identified patient context a verification
// call judges the primary response against.
type ClinicalContext struct {
	PatientAge  int      `json:"patient_age,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`
	TaskType    string   `json:"task_type,omitempty"`
}

// PrimaryResponse is the answer under verification.
type PrimaryResponse struct {
	Content    string      `json:"content"`
	Provider   provider.ID `json:"provider"`
	Confidence float64     `json:"confidence"` // self-reported, in [0,1]
}

// VerifierResult is one verifier's judgment. Created once, never mutated.
type VerifierResult struct {
	VerifierName string   `json:"verifier_name"`
	Agrees       bool     `json:"agrees"`
	Confidence   float64  `json:"confidence"`
	Concerns     []string `json:"concerns,omitempty"`
	Err          string   `json:"error,omitempty"`
}

// ConsensusResult aggregates the verifier set into one decision.
type ConsensusResult struct {
	OverallConfidence  float64          `json:"overall_confidence"`
	AgreementCount     int              `json:"agreement_count"`
	DisagreementCount  int              `json:"disagreement_count"`
	EscalationRequired bool             `json:"escalation_required"`
	EscalationReason   string           `json:"escalation_reason,omitempty"`
	QueueID            string           `json:"queue_id,omitempty"`
	VerifierResults    []VerifierResult `json:"verifier_results"`
}

// Verifier is one independent verification strategy.
type Verifier interface {
	// Name identifies the verifier in results and logs.
	Name() string

	// Weight is the verifier's share in the confidence aggregation.
	Weight() float64

	// Verify judges the primary response. A returned error marks the
	// verifier as errored and excludes it from aggregation; verifiers
	// that prefer to degrade instead return a result and nil.
	Verify(ctx context.Context, cc ClinicalContext, primary PrimaryResponse) (VerifierResult, error)
}

// Escalation is the payload handed to the human review queue.
type Escalation struct {
	ID              string           `json:"id"`
	ActorID         string           `json:"actor_id,omitempty"`
	Context         ClinicalContext  `json:"context"`
	Primary         PrimaryResponse  `json:"primary"`
	Confidence      float64          `json:"confidence"`
	Reason          string           `json:"reason"`
	VerifierResults []VerifierResult `json:"verifier_results"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ReviewQueue is the external human-review collaborator. Enqueue failures
// must be catchable and never abort the verification call.
type ReviewQueue interface {
	Enqueue(ctx context.Context, esc Escalation) (queueID string, err error)
}
