// Package availability is the shared, TTL-bounded view of provider
// health. Breaker state in this cache is a mirror for routing decisions
// and for other process instances; the in-process breaker stays
// authoritative where both exist.
package availability

import (
	"time"

	"github.com/zen-systems/medgate/pkg/provider"
)

// Record is the cache-resident health entry for one provider.
type Record struct {
	Provider             provider.ID `json:"provider"`
	Available            bool        `json:"available"`
	CircuitState         string      `json:"circuit_state"`
	LastChecked          time.Time   `json:"last_checked"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	LastError            string      `json:"last_error,omitempty"`
	ResponseTimeMs       int64       `json:"response_time_ms,omitempty"`
}
