package router

import (
	"strings"

	"github.com/zen-systems/medgate/pkg/provider"
)

// Complexity grades a request by how much model capability it needs.
// It is derived per request and never persisted.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
	Critical Complexity = "critical"
)

// criticalKeywords force the critical grade regardless of other signals.
var criticalKeywords = []string{
	"emergency",
	"overdose",
	"anaphylaxis",
	"cardiac arrest",
	"stroke",
	"sepsis",
	"suicide",
	"unresponsive",
	"hemorrhage",
}

var complexKeywords = []string{
	"differential diagnosis",
	"drug interaction",
	"contraindication",
	"comorbid",
	"polypharmacy",
	"dosage adjustment",
	"renal impairment",
	"hepatic impairment",
	"black box warning",
}

var moderateKeywords = []string{
	"diagnosis",
	"treatment plan",
	"medication",
	"prescribe",
	"dose",
	"symptom",
	"lab result",
}

const (
	moderateLength = 400
	complexLength  = 1500
	moderateTurns  = 4
	complexTurns   = 8
)

// Classify grades a conversation from keyword, length, and turn-count
// heuristics. It is only consulted when neither an explicit provider nor
// a task mapping decides the route.
func Classify(messages []provider.Message) Complexity {
	var totalLength int
	var text strings.Builder
	for _, m := range messages {
		totalLength += len(m.Content)
		text.WriteString(strings.ToLower(m.Content))
		text.WriteString("\n")
	}
	lowered := text.String()
	turns := len(messages)

	for _, kw := range criticalKeywords {
		if strings.Contains(lowered, kw) {
			return Critical
		}
	}

	complexHits := countMatches(lowered, complexKeywords)
	if complexHits > 0 || totalLength > complexLength || turns > complexTurns {
		return Complex
	}

	moderateHits := countMatches(lowered, moderateKeywords)
	if moderateHits > 0 || totalLength > moderateLength || turns > moderateTurns {
		return Moderate
	}
	return Simple
}

func countMatches(text string, keywords []string) int {
	var n int
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
