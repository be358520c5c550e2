package apitrigger

import (
	"testing"

	"github.com/nstogner/autoassist/pkg/store"
)

func keywordConfig(name, value string) store.APIConfig {
	return store.APIConfig{
		ID:           name,
		Name:         name,
		Triggers:     []store.APITrigger{{Type: store.TriggerKeyword, Value: value}},
		ResponseType: store.ResponseText,
	}
}

func names(cfgs []store.APIConfig) map[string]bool {
	m := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		m[c.Name] = true
	}
	return m
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		text string
		tr   store.APITrigger
		want bool
	}{
		{"keyword hit", "今日の天気は？", store.APITrigger{Type: store.TriggerKeyword, Value: "天気"}, true},
		{"keyword case insensitive", "What's the WEATHER", store.APITrigger{Type: store.TriggerKeyword, Value: "weather"}, true},
		{"keyword list", "show me a stock price", store.APITrigger{Type: store.TriggerKeyword, Value: "weather, stock ,news"}, true},
		{"keyword miss", "hello", store.APITrigger{Type: store.TriggerKeyword, Value: "weather,news"}, false},
		{"empty keyword entries ignored", "hello", store.APITrigger{Type: store.TriggerKeyword, Value: " , ,"}, false},
		{"pattern hit", "Draw a CAT please", store.APITrigger{Type: store.TriggerPattern, Value: `draw (a|an) \w+`}, true},
		{"pattern miss", "hello", store.APITrigger{Type: store.TriggerPattern, Value: `^draw`}, false},
		{"invalid pattern", "anything [", store.APITrigger{Type: store.TriggerPattern, Value: `[unclosed`}, false},
		{"unknown type", "hello", store.APITrigger{Type: "magic", Value: "hello"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := store.APIConfig{Name: "cfg", Triggers: []store.APITrigger{tt.tr}}
			if got := Matches(tt.text, cfg); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetect_OrderIndependent(t *testing.T) {
	a := keywordConfig("A", "weather")
	b := keywordConfig("B", "stock")
	texts := []string{"weather", "stock", "weather and stock", "nothing"}
	for _, text := range texts {
		ab := names(Detect(text, []store.APIConfig{a, b}))
		ba := names(Detect(text, []store.APIConfig{b, a}))
		if len(ab) != len(ba) {
			t.Fatalf("%q: [A,B] matched %v, [B,A] matched %v", text, ab, ba)
		}
		for n := range ab {
			if !ba[n] {
				t.Errorf("%q: %s matched only in one order", text, n)
			}
		}
	}
}

func TestDetect_EmptyTriggersNeverMatch(t *testing.T) {
	empty := store.APIConfig{Name: "empty", ResponseType: store.ResponseText}
	for _, text := range []string{"", "weather", "anything at all", "[supplementary info: empty]"} {
		if got := Detect(text, []store.APIConfig{empty}); len(got) != 0 {
			t.Errorf("Detect(%q) = %v, want none", text, got)
		}
	}
}
