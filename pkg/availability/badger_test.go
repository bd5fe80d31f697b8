package availability

import (
	"context"
	"testing"
	"time"

	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/provider"
)

func TestBadgerStore_RoundTrip(t *testing.T) {
	s, err := OpenBadgerStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	got, err := s.Get(ctx, provider.Anthropic)
	if err != nil || got != nil {
		t.Fatalf("missing key must read as nil, got %+v err %v", got, err)
	}

	rec := Record{
		Provider:            provider.Anthropic,
		Available:           false,
		CircuitState:        breaker.Open.String(),
		ConsecutiveFailures: 5,
		LastError:           "upstream 529",
		ResponseTimeMs:      840,
	}
	if err := s.Set(ctx, provider.Anthropic, rec, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err = s.Get(ctx, provider.Anthropic)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.CircuitState != breaker.Open.String() || got.ConsecutiveFailures != 5 {
		t.Fatalf("record did not round-trip: %+v", got)
	}
	if got.LastError != "upstream 529" || got.ResponseTimeMs != 840 {
		t.Fatalf("record fields lost: %+v", got)
	}
}

func TestBadgerStore_TTLExpiry(t *testing.T) {
	s, err := OpenBadgerStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	rec := Record{Provider: provider.Ollama, Available: true, CircuitState: breaker.Closed.String()}
	if err := s.Set(ctx, provider.Ollama, rec, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(120 * time.Millisecond)
	got, err := s.Get(ctx, provider.Ollama)
	if err != nil || got != nil {
		t.Fatalf("expired record must read as nil, got %+v err %v", got, err)
	}
}
