package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/nstogner/autoassist/pkg/store"
)

func TestToContents(t *testing.T) {
	turns := []store.WireTurn{
		{Role: store.WireRoleUser, Parts: []store.Part{
			{Text: "look at this"},
			{InlineData: &store.Blob{MIMEType: "image/png", Data: "aGVsbG8="}},
		}},
		{Role: store.WireRoleModel, Parts: []store.Part{{Text: "ok"}}},
		{Role: store.WireRoleUser, Parts: nil},
		{Role: string(store.RoleAssistant), Parts: []store.Part{{Text: "legacy role"}}},
	}

	contents, err := toContents(turns)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 3 {
		t.Fatalf("expected empty turn to be dropped, got %d contents", len(contents))
	}
	blob, ok := contents[0].Parts[1].(genai.Blob)
	if !ok || string(blob.Data) != "hello" || blob.MIMEType != "image/png" {
		t.Errorf("inline data not decoded: %#v", contents[0].Parts[1])
	}
	if contents[1].Role != "model" || contents[2].Role != "model" {
		t.Errorf("roles not mapped: %q %q", contents[1].Role, contents[2].Role)
	}
}

func TestToContents_InvalidBase64(t *testing.T) {
	turns := []store.WireTurn{{Role: store.WireRoleUser, Parts: []store.Part{
		{InlineData: &store.Blob{MIMEType: "image/png", Data: "%%%"}},
	}}}
	if _, err := toContents(turns); err == nil {
		t.Error("expected error for invalid inline data")
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("a"), genai.Text("b")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}
	got, err := responseText(resp)
	if err != nil || got != "ab" {
		t.Errorf("responseText = %q, %v", got, err)
	}
	if _, err := responseText(&genai.GenerateContentResponse{}); err != ErrEmptyResponse {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}
