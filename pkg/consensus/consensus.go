package consensus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Thresholds tune the escalation decision.
type Thresholds struct {
	// Low is the confidence below which a decision escalates.
	Low float64

	// Medium is the primary-confidence level below which verification is
	// triggered for tasks where it is optional.
	Medium float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Low <= 0 {
		t.Low = 0.50
	}
	if t.Medium <= 0 {
		t.Medium = 0.70
	}
	return t
}

// escalationKeywords in any verifier concern force escalation regardless
// of confidence.
var escalationKeywords = []string{"contraindicated", "safety"}

// BlockedError is the fail-safe boundary for safety-critical flows: a
// clinical action must not proceed while a decision awaits human review.
type BlockedError struct {
	Reason  string
	QueueID string
}

func (e *BlockedError) Error() string {
	if e.QueueID == "" {
		return fmt.Sprintf("action blocked pending human review: %s (escalation could not be queued)", e.Reason)
	}
	return fmt.Sprintf("action blocked pending human review: %s (queue id %s)", e.Reason, e.QueueID)
}

// Engine runs the verifier set and decides accept, escalate, or block.
type Engine struct {
	verifiers     []Verifier
	queue         ReviewQueue
	thresholds    Thresholds
	criticalTasks map[string]bool
	triggerWords  []string
	logger        *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTriggerPatterns extends the response-text patterns that trigger
// optional verification.
func WithTriggerPatterns(patterns []string) EngineOption {
	return func(e *Engine) { e.triggerWords = append(e.triggerWords, patterns...) }
}

// NewEngine creates the consensus engine. criticalTasks is the set of
// task types for which verification is mandatory.
func NewEngine(verifiers []Verifier, queue ReviewQueue, thresholds Thresholds, criticalTasks []string, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	tasks := make(map[string]bool, len(criticalTasks))
	for _, t := range criticalTasks {
		tasks[t] = true
	}
	e := &Engine{
		verifiers:     verifiers,
		queue:         queue,
		thresholds:    thresholds.withDefaults(),
		criticalTasks: tasks,
		triggerWords:  append([]string{}, defaultSafetyPatterns...),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ShouldVerify reports whether the trigger policy demands verification:
// always for safety-critical task types, otherwise when the primary's
// self-reported confidence is below the medium threshold or its text
// matches a safety pattern.
func (e *Engine) ShouldVerify(taskType string, primary PrimaryResponse) bool {
	if e.criticalTasks[taskType] {
		return true
	}
	if primary.Confidence > 0 && primary.Confidence < e.thresholds.Medium {
		return true
	}
	lowered := strings.ToLower(primary.Content)
	for _, pattern := range e.triggerWords {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// Verify runs every verifier concurrently, waits for all to settle, and
// aggregates. One verifier failing never aborts its siblings. Escalations
// are queued for human review; a queue failure is logged and the result
// still reports escalation with no queue id, which callers must treat as
// a block.
func (e *Engine) Verify(ctx context.Context, cc ClinicalContext, primary PrimaryResponse, actorID string) *ConsensusResult {
	results := make([]VerifierResult, len(e.verifiers))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range e.verifiers {
		g.Go(func() error {
			res, err := v.Verify(gctx, cc, primary)
			if err != nil {
				// Errored verifiers stay in the result set for audit but
				// are excluded from the aggregation.
				res = VerifierResult{
					VerifierName: v.Name(),
					Agrees:       false,
					Confidence:   0,
					Err:          err.Error(),
				}
				e.logger.Warn("verifier failed",
					zap.String("verifier", v.Name()),
					zap.Error(err),
				)
			}
			results[i] = res
			return nil
		})
	}
	// Goroutines always return nil; Wait is purely a settle barrier.
	_ = g.Wait()

	out := e.aggregate(results, primary)
	if out.EscalationRequired {
		out.QueueID = e.enqueue(ctx, cc, primary, actorID, out)
	}
	return out
}

// VerifyOrBlock is the strict wrapper: it refuses to let a clinical
// action proceed when escalation is required, returning *BlockedError
// with the reason and queue id.
func (e *Engine) VerifyOrBlock(ctx context.Context, cc ClinicalContext, primary PrimaryResponse, actorID string) (*ConsensusResult, error) {
	res := e.Verify(ctx, cc, primary, actorID)
	if res.EscalationRequired {
		return res, &BlockedError{Reason: res.EscalationReason, QueueID: res.QueueID}
	}
	return res, nil
}

// aggregate combines verifier outputs under the fixed weighting and
// applies the escalation rules in priority order.
func (e *Engine) aggregate(results []VerifierResult, primary PrimaryResponse) *ConsensusResult {
	var weightedSum, weightTotal float64
	var agreements, disagreements int

	for i, res := range results {
		if res.Err != "" {
			continue
		}
		w := e.verifiers[i].Weight()
		weightedSum += res.Confidence * w
		weightTotal += w
		if res.Agrees {
			agreements++
		} else {
			disagreements++
		}
	}

	var overall float64
	if weightTotal > 0 {
		overall = weightedSum / weightTotal
	}

	out := &ConsensusResult{
		OverallConfidence: overall,
		AgreementCount:    agreements,
		DisagreementCount: disagreements,
		VerifierResults:   results,
	}

	// First matching rule wins, in this order.
	switch {
	case overall < e.thresholds.Low:
		out.EscalationRequired = true
		out.EscalationReason = fmt.Sprintf("Overall verification confidence too low (%.2f < %.2f)", overall, e.thresholds.Low)
	case primary.Confidence < e.thresholds.Low:
		out.EscalationRequired = true
		out.EscalationReason = fmt.Sprintf("Primary AI confidence too low (%.2f < %.2f)", primary.Confidence, e.thresholds.Low)
	case disagreements > agreements:
		out.EscalationRequired = true
		out.EscalationReason = fmt.Sprintf("Verifier disagreement (%d disagree, %d agree)", disagreements, agreements)
	default:
		if concern, ok := firstSafetyConcern(results); ok {
			out.EscalationRequired = true
			out.EscalationReason = fmt.Sprintf("Safety concern raised: %s", concern)
		}
	}
	return out
}

func firstSafetyConcern(results []VerifierResult) (string, bool) {
	for _, res := range results {
		for _, concern := range res.Concerns {
			lowered := strings.ToLower(concern)
			for _, kw := range escalationKeywords {
				if strings.Contains(lowered, kw) {
					return concern, true
				}
			}
		}
	}
	return "", false
}

// enqueue hands the escalation to the review queue. Failure is logged
// and reported as an empty queue id, never raised.
func (e *Engine) enqueue(ctx context.Context, cc ClinicalContext, primary PrimaryResponse, actorID string, res *ConsensusResult) string {
	if e.queue == nil {
		e.logger.Warn("no review queue configured, escalation not queued",
			zap.String("reason", res.EscalationReason))
		return ""
	}

	queueID, err := e.queue.Enqueue(ctx, Escalation{
		ID:              uuid.NewString(),
		ActorID:         actorID,
		Context:         cc,
		Primary:         primary,
		Confidence:      res.OverallConfidence,
		Reason:          res.EscalationReason,
		VerifierResults: res.VerifierResults,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("failed to enqueue escalation for human review",
			zap.String("reason", res.EscalationReason),
			zap.Error(err),
		)
		return ""
	}

	e.logger.Info("escalated to human review",
		zap.String("queue_id", queueID),
		zap.String("reason", res.EscalationReason),
	)
	return queueID
}
