package llm

import (
	"sort"
	"testing"
)

func TestKnownModelsSorted(t *testing.T) {
	models := KnownModels(ProviderOpenAI)
	if len(models) == 0 {
		t.Fatal("expected catalog models for openai")
	}
	if !sort.StringsAreSorted(models) {
		t.Fatalf("models not sorted: %v", models)
	}

	// Map iteration order varies per run; the listing must not.
	again := KnownModels(ProviderOpenAI)
	if len(again) != len(models) {
		t.Fatalf("listing changed size: %d vs %d", len(again), len(models))
	}
	for i := range models {
		if again[i] != models[i] {
			t.Fatalf("listing not stable at %d: %q vs %q", i, models[i], again[i])
		}
	}
}

func TestEndpointForO3Mini(t *testing.T) {
	if got := EndpointFor("o3-mini"); got != EndpointChatCompletions {
		t.Fatalf("o3-mini endpoint = %s, want chat_completions", got)
	}
	if got := EndpointFor("o3"); got != EndpointResponses {
		t.Fatalf("o3 endpoint = %s, want responses", got)
	}
}
