// Package apitrigger decides which external APIs apply to a user message,
// calls them and folds their results back into the turn.
package apitrigger

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/nstogner/autoassist/pkg/store"
)

// Detect returns the configs whose triggers match text, in the order given.
// Configs without triggers never match.
func Detect(text string, configs []store.APIConfig) []store.APIConfig {
	var matched []store.APIConfig
	for _, cfg := range configs {
		if Matches(text, cfg) {
			matched = append(matched, cfg)
		}
	}
	return matched
}

// Matches reports whether any trigger of cfg matches text.
func Matches(text string, cfg store.APIConfig) bool {
	for _, tr := range cfg.Triggers {
		if triggerMatches(text, tr, cfg.Name) {
			return true
		}
	}
	return false
}

func triggerMatches(text string, tr store.APITrigger, cfgName string) bool {
	switch tr.Type {
	case store.TriggerKeyword:
		lower := strings.ToLower(text)
		for _, kw := range strings.Split(tr.Value, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	case store.TriggerPattern:
		if tr.Value == "" {
			return false
		}
		re, err := regexp.Compile("(?i)" + tr.Value)
		if err != nil {
			slog.Warn("Invalid trigger pattern", "api", cfgName, "pattern", tr.Value, "error", err)
			return false
		}
		return re.MatchString(text)
	default:
		slog.Debug("Unknown trigger type", "api", cfgName, "type", tr.Type)
		return false
	}
}
