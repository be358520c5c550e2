package apitrigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/autoassist/pkg/llmjson"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

// SimpleParams is the parameter bag used when a config declares no
// parameters or when extraction fails.
func SimpleParams(text string, cfg store.APIConfig) map[string]any {
	params := map[string]any{"prompt": text}
	if cfg.Auth != nil && cfg.Auth.Token != "" {
		params["token"] = cfg.Auth.Token
	}
	return params
}

// Extractor pulls declared parameters out of user text with a model call.
type Extractor struct {
	Completion models.CompletionService
	Credential string
}

const extractionInstruction = "You extract API parameters from user messages. Reply with a single JSON object and nothing else."

// Extract returns the parameters for cfg. It never fails: any problem with
// the model call or its reply yields SimpleParams.
func (e *Extractor) Extract(ctx context.Context, cfg store.APIConfig, text string) map[string]any {
	if e == nil || e.Completion == nil || len(cfg.Parameters) == 0 {
		return SimpleParams(text, cfg)
	}

	reply, err := e.Completion.Complete(ctx,
		[]store.WireTurn{store.TextTurn(store.WireRoleUser, extractionPrompt(cfg, text))},
		e.Credential, extractionInstruction)
	metrics.RecordCompletion("extract", err)
	if err != nil {
		slog.Warn("Parameter extraction failed", "api", cfg.Name, "error", err)
		return SimpleParams(text, cfg)
	}

	var params map[string]any
	if err := llmjson.Decode(reply, &params); err != nil || params == nil {
		slog.Debug("Parameter extraction reply not usable", "api", cfg.Name, "reply", reply)
		return SimpleParams(text, cfg)
	}
	return params
}

func extractionPrompt(cfg store.APIConfig, text string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the parameters for the API %q from the user message below.\n\n", cfg.Name)
	sb.WriteString("Parameters:\n")
	for _, p := range cfg.Parameters {
		req := ""
		if p.Required {
			req = " (required)"
		}
		fmt.Fprintf(&sb, "- %s%s: %s\n", p.Name, req, p.Description)
	}
	fmt.Fprintf(&sb, "\nUser message:\n%s\n\n", text)
	sb.WriteString("Reply with only a JSON object whose keys are the parameter names. Omit parameters that cannot be determined.")
	return sb.String()
}
