package apitrigger

import (
	"context"
	"strings"
	"testing"

	"github.com/nstogner/autoassist/pkg/store"
)

type stubInvoker struct {
	results map[string]Result
	panicOn string
	calls   []string
	params  []map[string]any
}

func (s *stubInvoker) Invoke(ctx context.Context, cfg store.APIConfig, params map[string]any) Result {
	s.calls = append(s.calls, cfg.Name)
	s.params = append(s.params, params)
	if cfg.Name == s.panicOn {
		panic("boom")
	}
	return s.results[cfg.Name]
}

func TestProcess_WeatherScenario(t *testing.T) {
	inv := &stubInvoker{results: map[string]Result{
		"weather": {Success: true, Data: "晴れ 25℃", Status: 200},
	}}
	p := NewPipeline(inv, nil)
	text := "今日の天気は？"

	out := p.Process(context.Background(), text, []store.APIConfig{keywordConfig("weather", "天気")})

	if !strings.HasPrefix(out.ProcessedMessage, text) {
		t.Errorf("processed message should start with the original text, got %q", out.ProcessedMessage)
	}
	if n := strings.Count(out.ProcessedMessage, "[supplementary info: "); n != 1 {
		t.Errorf("expected exactly one supplementary block, got %d in %q", n, out.ProcessedMessage)
	}
	if !strings.Contains(out.ProcessedMessage, "[supplementary info: weather]\n晴れ 25℃") {
		t.Errorf("unexpected processed message %q", out.ProcessedMessage)
	}
	if out.Image != "" || out.ImageOnly {
		t.Errorf("expected no image, got %q (imageOnly=%v)", out.Image, out.ImageOnly)
	}
	if !out.Changed() || out.APIResult() == nil {
		t.Errorf("expected outcome to report a change")
	}
	if got := inv.params[0]["prompt"]; got != text {
		t.Errorf("expected simple params prompt %q, got %v", text, got)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	inv := &stubInvoker{results: map[string]Result{"weather": {Success: true, Data: "sunny"}}}
	p := NewPipeline(inv, nil)
	cfgs := []store.APIConfig{keywordConfig("weather", "weather")}

	text := "tell me a joke"
	first := p.Process(context.Background(), text, cfgs)
	second := p.Process(context.Background(), first.ProcessedMessage, cfgs)

	if first.ProcessedMessage != text || second.ProcessedMessage != text {
		t.Errorf("expected unchanged text, got %q then %q", first.ProcessedMessage, second.ProcessedMessage)
	}
	if first.Changed() || first.APIResult() != nil {
		t.Errorf("expected no change to be reported")
	}
	if len(inv.calls) != 0 {
		t.Errorf("expected no invocations, got %v", inv.calls)
	}
}

func TestProcess_FailuresAreNotesAndDoNotAbort(t *testing.T) {
	inv := &stubInvoker{
		panicOn: "broken",
		results: map[string]Result{
			"down": {Error: "down returned 503: unavailable", Status: 503},
			"news": {Success: true, Data: map[string]any{"headline": "ok"}},
		},
	}
	p := NewPipeline(inv, nil)
	cfgs := []store.APIConfig{
		keywordConfig("broken", "q"),
		keywordConfig("down", "q"),
		keywordConfig("news", "q"),
	}

	out := p.Process(context.Background(), "q", cfgs)

	if len(inv.calls) != 3 {
		t.Fatalf("expected all three configs invoked, got %v", inv.calls)
	}
	if len(out.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", out.Errors)
	}
	if !strings.Contains(out.ProcessedMessage, "[supplementary info: down]\nerror: down returned 503") {
		t.Errorf("missing failure note in %q", out.ProcessedMessage)
	}
	if !strings.Contains(out.ProcessedMessage, `"headline": "ok"`) {
		t.Errorf("missing success note in %q", out.ProcessedMessage)
	}
	if res := out.APIResult(); res == nil || res.Error == "" {
		t.Errorf("expected API result with error, got %+v", res)
	}
}

func TestProcess_Image(t *testing.T) {
	img := store.APIConfig{
		Name:         "painter",
		Triggers:     []store.APITrigger{{Type: store.TriggerPattern, Value: `^draw`}},
		ResponseType: store.ResponseImage,
	}
	inv := &stubInvoker{results: map[string]Result{"painter": {Success: true, Data: "aGVsbG8="}}}
	p := NewPipeline(inv, nil)

	out := p.Process(context.Background(), "Draw a cat", []store.APIConfig{img})
	if out.Image != "aGVsbG8=" || !out.ImageOnly {
		t.Errorf("expected image-only result, got image=%q imageOnly=%v", out.Image, out.ImageOnly)
	}
	if out.Changed() {
		t.Errorf("image configs should not add notes")
	}

	// A forced config that does not match its own triggers never forces image-only.
	forced := p.ProcessWith(context.Background(), "a picture of a dog", []store.APIConfig{img})
	if forced.Image == "" || forced.ImageOnly {
		t.Errorf("expected image without image-only, got image=%q imageOnly=%v", forced.Image, forced.ImageOnly)
	}
}

func TestProcess_ImageFailureSkipped(t *testing.T) {
	img := store.APIConfig{
		Name:         "painter",
		Triggers:     []store.APITrigger{{Type: store.TriggerKeyword, Value: "draw"}},
		ResponseType: store.ResponseImage,
	}
	inv := &stubInvoker{results: map[string]Result{"painter": {Error: "boom"}}}
	out := NewPipeline(inv, nil).Process(context.Background(), "draw", []store.APIConfig{img})
	if out.Image != "" || out.ImageOnly || out.Changed() || len(out.Errors) != 0 {
		t.Errorf("expected failed image config to be skipped, got %+v", out)
	}
}
