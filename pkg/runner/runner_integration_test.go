package runner_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/autoassist/pkg/autoassist"
	"github.com/nstogner/autoassist/pkg/models/gemini"
	"github.com/nstogner/autoassist/pkg/runner"
	"github.com/nstogner/autoassist/pkg/store"
	"github.com/nstogner/autoassist/pkg/store/jsonl"
)

func TestIntegration_Runner_Gemini(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping integration test: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Initializing Gemini model...")
	model, err := gemini.New(ctx, apiKey, gemini.DefaultModel)
	if err != nil {
		t.Fatalf("Failed to create gemini client: %v", err)
	}
	defer model.Close()

	s, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureAutoAssist(ctx, s); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, s, store.Assistant{
		Title:             "Kansai",
		SystemInstruction: "You rewrite Japanese text in the Kansai dialect.",
		Summary:           "Converts Japanese text to Kansai dialect (関西弁).",
	}); err != nil {
		t.Fatal(err)
	}

	r := runner.New(s, model, runner.Options{AgentMode: true})
	go r.Start(ctx)

	t.Log("Sending AutoAssist request...")
	if err := r.Send(ctx, runner.Message{
		AssistantID: store.AutoAssistID,
		Text:        "「今日はとても良い天気です」という文を要約して、その後関西弁に変換して",
	}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if st := r.Session().State; st != autoassist.StateIdle {
		t.Errorf("expected idle session, got %s", st)
	}
	auto, err := store.Get(ctx, s, store.AutoAssistID)
	if err != nil {
		t.Fatal(err)
	}
	report := auto.Messages[len(auto.Messages)-1].Content
	t.Logf("Report:\n%s", report)
	if !strings.Contains(report, "## Task 1/") {
		t.Errorf("expected a task report, got %q", report)
	}
}
