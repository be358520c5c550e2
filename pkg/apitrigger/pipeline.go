package apitrigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/store"
)

// Outcome is the result of running the pipeline over one user message.
type Outcome struct {
	// Original is the user text the pipeline was run on.
	Original string
	// ProcessedMessage is Original plus one note per text API call.
	ProcessedMessage string
	// Matched lists the configs that were invoked.
	Matched []store.APIConfig
	// Image is a base64 encoded image returned by an image config, if any.
	Image string
	// ImageOnly means the image is the whole reply and no model call follows.
	ImageOnly bool
	// Errors holds one entry per failed text config.
	Errors []string
}

// Changed reports whether processing altered the message.
func (o Outcome) Changed() bool { return o.ProcessedMessage != o.Original }

// APIResult returns the record used to augment the system instruction, or
// nil when the turn needs no augmentation.
func (o Outcome) APIResult() *APIResult {
	if !o.Changed() && len(o.Errors) == 0 {
		return nil
	}
	return &APIResult{
		Original:  o.Original,
		Processed: o.ProcessedMessage,
		Error:     strings.Join(o.Errors, "; "),
	}
}

// Pipeline runs detection, extraction, invocation and folding of API results.
type Pipeline struct {
	Invoker   Invoker
	Extractor *Extractor
}

// NewPipeline returns a pipeline. A nil extractor always uses SimpleParams.
func NewPipeline(invoker Invoker, extractor *Extractor) *Pipeline {
	return &Pipeline{Invoker: invoker, Extractor: extractor}
}

// NoteHeader returns the label that starts a supplementary note.
func NoteHeader(name string) string {
	return fmt.Sprintf("[supplementary info: %s]", name)
}

// Process invokes every config in configs whose triggers match text.
func (p *Pipeline) Process(ctx context.Context, text string, configs []store.APIConfig) Outcome {
	return p.ProcessWith(ctx, text, Detect(text, configs))
}

// ProcessWith invokes the given configs without running detection. An image
// config only forces an image-only reply when its own triggers match text.
func (p *Pipeline) ProcessWith(ctx context.Context, text string, configs []store.APIConfig) Outcome {
	out := Outcome{Original: text, ProcessedMessage: text, Matched: configs}
	if len(configs) == 0 {
		return out
	}

	var notes strings.Builder
	for _, cfg := range configs {
		params := p.Extractor.Extract(ctx, cfg, text)
		res := p.invoke(ctx, cfg, params)
		metrics.RecordAPIInvocation(cfg.Name, res.Success)

		if cfg.ResponseType == store.ResponseImage {
			img, _ := res.Data.(string)
			if !res.Success || img == "" {
				slog.Warn("Image API call failed", "api", cfg.Name, "status", res.Status, "error", res.Error)
				continue
			}
			if out.Image != "" {
				slog.Debug("Replacing earlier image result", "api", cfg.Name)
			}
			out.Image = img
			out.ImageOnly = Matches(text, cfg)
			continue
		}

		notes.WriteString("\n\n")
		notes.WriteString(NoteHeader(cfg.Name))
		notes.WriteString("\n")
		if res.Success {
			notes.WriteString(FormatData(res.Data))
			slog.Debug("API call succeeded", "api", cfg.Name, "status", res.Status)
		} else {
			fmt.Fprintf(&notes, "error: %s", res.Error)
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", cfg.Name, res.Error))
			slog.Warn("API call failed", "api", cfg.Name, "status", res.Status, "error", res.Error)
		}
	}
	out.ProcessedMessage = text + notes.String()
	return out
}

// invoke recovers from a panicking invoker so one config cannot abort the rest.
func (p *Pipeline) invoke(ctx context.Context, cfg store.APIConfig, params map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("API invoker panicked", "api", cfg.Name, "panic", r)
			res = Result{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	if p.Invoker == nil {
		return Result{Error: "no invoker configured"}
	}
	return p.Invoker.Invoke(ctx, cfg, params)
}
