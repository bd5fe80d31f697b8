package router

import (
	"strings"
	"testing"

	"github.com/zen-systems/medgate/pkg/provider"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		messages []provider.Message
		want     Complexity
	}{
		{
			name:     "short chit-chat is simple",
			messages: userMessage("what are your clinic hours?"),
			want:     Simple,
		},
		{
			name:     "medication keyword is moderate",
			messages: userMessage("can you list this medication's common side effects?"),
			want:     Moderate,
		},
		{
			name:     "drug interaction keyword is complex",
			messages: userMessage("is there a drug interaction between warfarin and ibuprofen?"),
			want:     Complex,
		},
		{
			name:     "critical keyword wins regardless of other signals",
			messages: userMessage("possible overdose, what now"),
			want:     Critical,
		},
		{
			name: "critical keyword scanned across all turns",
			messages: []provider.Message{
				{Role: "user", Content: "my father collapsed"},
				{Role: "assistant", Content: "is he breathing?"},
				{Role: "user", Content: "no, he is unresponsive"},
			},
			want: Critical,
		},
		{
			name:     "long text without keywords is complex",
			messages: userMessage(strings.Repeat("describe the procedure step by step. ", 50)),
			want:     Complex,
		},
		{
			name:     "mid-length text without keywords is moderate",
			messages: userMessage(strings.Repeat("tell me about the visit. ", 20)),
			want:     Moderate,
		},
		{
			name: "many turns without keywords is moderate",
			messages: []provider.Message{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
				{Role: "user", Content: "ok"},
				{Role: "assistant", Content: "yes"},
				{Role: "user", Content: "thanks"},
			},
			want: Moderate,
		},
		{
			name:     "empty conversation is simple",
			messages: nil,
			want:     Simple,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.messages); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}
