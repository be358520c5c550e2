package apitrigger

import (
	"context"
	"strings"
	"testing"

	"github.com/nstogner/autoassist/pkg/models/fake"
	"github.com/nstogner/autoassist/pkg/store"
)

func TestSimpleParams(t *testing.T) {
	cfg := store.APIConfig{Auth: &store.APIAuth{Type: "bearer", Token: "t0k"}}
	p := SimpleParams("hello", cfg)
	if p["prompt"] != "hello" || p["token"] != "t0k" {
		t.Errorf("unexpected params %v", p)
	}
	if _, ok := SimpleParams("hello", store.APIConfig{})["token"]; ok {
		t.Errorf("token should be absent without auth")
	}
}

func TestExtractor(t *testing.T) {
	cfg := store.APIConfig{
		Name: "weather",
		Parameters: []store.ParameterSpec{
			{Name: "city", Description: "city name", Required: true},
			{Name: "date", Description: "ISO date"},
		},
	}

	model := fake.Replies("```json\n{\"city\": \"Osaka\", \"date\": \"2026-10-17\"}\n```")
	e := &Extractor{Completion: model, Credential: "key"}
	got := e.Extract(context.Background(), cfg, "大阪の明日の天気")
	if got["city"] != "Osaka" || got["date"] != "2026-10-17" {
		t.Errorf("unexpected params %v", got)
	}

	calls := model.Calls()
	if len(calls) != 1 || calls[0].Credential != "key" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	prompt := calls[0].LastText()
	for _, want := range []string{"city (required): city name", "date: ISO date", "大阪の明日の天気"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestExtractor_FallsBack(t *testing.T) {
	cfg := store.APIConfig{Name: "x", Parameters: []store.ParameterSpec{{Name: "q"}}}

	for name, model := range map[string]*fake.Model{
		"malformed": fake.Replies("I cannot help with that"),
		"error":     fake.Replies(),
		"array":     fake.Replies(`["q"]`),
	} {
		t.Run(name, func(t *testing.T) {
			got := (&Extractor{Completion: model}).Extract(context.Background(), cfg, "text")
			if len(got) != 1 || got["prompt"] != "text" {
				t.Errorf("expected simple params, got %v", got)
			}
		})
	}

	var nilExtractor *Extractor
	if got := nilExtractor.Extract(context.Background(), cfg, "text"); got["prompt"] != "text" {
		t.Errorf("nil extractor should use simple params, got %v", got)
	}
}
