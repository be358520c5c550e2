package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nstogner/autoassist/pkg/apitrigger"
	"github.com/nstogner/autoassist/pkg/attach"
	"github.com/nstogner/autoassist/pkg/autoassist"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/store"
)

// Message is a user turn addressed to one assistant.
type Message struct {
	AssistantID int64
	Text        string
	// Attachments are file paths sent along with the text.
	Attachments []string
	// APIs names API configs to call regardless of their triggers.
	APIs []string
}

func (r *Runner) handleMessage(ctx context.Context, msg Message) error {
	turn, err := r.buildTurn(msg.Text, msg.Attachments)
	if err != nil {
		return err
	}
	display := displayText(msg.Text, msg.Attachments)

	if msg.AssistantID == store.AutoAssistID {
		return r.runAutoAssist(func(sess autoassist.Session) (autoassist.Session, error) {
			return r.engine.Submit(ctx, sess, autoassist.Request{Display: display, Turn: turn})
		})
	}

	a, err := store.Update(ctx, r.store, msg.AssistantID, func(a *store.Assistant) error {
		a.Append(store.DisplayMessage{Role: store.RoleUser, Content: display}, turn)
		return nil
	})
	if a, err = r.commit(a, err); err != nil {
		return err
	}
	return r.respond(ctx, a, msg.APIs)
}

func (r *Runner) handleEdit(ctx context.Context, assistantID int64, index int, text string) error {
	a, err := store.Get(ctx, r.store, assistantID)
	if err != nil {
		if assistantID == store.AutoAssistID && errors.Is(err, store.ErrNotFound) {
			r.setSession(autoassist.IdleSession())
			return autoassist.ErrAutoAssistMissing
		}
		return err
	}
	inRange := index >= 0 && index < len(a.PostMessages) && index < len(a.Messages)

	if assistantID == store.AutoAssistID {
		// The engine validates the index so a bad edit is recorded in the history.
		turn := store.TextTurn(store.WireRoleUser, text)
		if inRange {
			turn = replaceText(a.PostMessages[index], text)
		}
		return r.runAutoAssist(func(sess autoassist.Session) (autoassist.Session, error) {
			return r.engine.Edit(ctx, sess, index, autoassist.Request{Display: text, Turn: turn})
		})
	}
	if !inRange {
		return fmt.Errorf("%w: index %d out of range", store.ErrInvalidMessage, index)
	}
	turn := replaceText(a.PostMessages[index], text)

	updated, err := store.Update(ctx, r.store, assistantID, func(a *store.Assistant) error {
		if index >= len(a.Messages) || a.Messages[index].Role != store.RoleUser {
			return fmt.Errorf("%w: message %d is not a user message", store.ErrInvalidMessage, index)
		}
		a.TruncateAt(index)
		a.Append(store.DisplayMessage{Role: store.RoleUser, Content: text}, turn)
		return nil
	})
	dropped := store.Assistant{Messages: a.Messages[index:]}
	if a, err = r.commit(updated, err); err != nil {
		return err
	}
	r.deleteImages(dropped)
	return r.respond(ctx, a, nil)
}

func (r *Runner) runAutoAssist(fn func(autoassist.Session) (autoassist.Session, error)) error {
	next, err := fn(r.Session())
	r.setSession(next)
	return err
}

// respond answers the last user turn of a: it runs the API pipeline, calls
// the model and appends the reply.
func (r *Runner) respond(ctx context.Context, a store.Assistant, forced []string) error {
	if len(a.PostMessages) == 0 {
		return nil
	}
	last := a.PostMessages[len(a.PostMessages)-1]
	outcome := r.runPipeline(ctx, a, last.Text(), forced)

	var imagePath string
	if outcome.Image != "" {
		imagePath = r.saveImage(outcome.Image)
	}
	if imagePath != "" && outcome.ImageOnly {
		content := "Generated image"
		if len(outcome.Matched) > 0 {
			content = fmt.Sprintf("Generated image (%s)", outcome.Matched[0].Name)
		}
		return r.appendReply(ctx, a.ID, content, imagePath)
	}

	turns := append([]store.WireTurn(nil), a.PostMessages...)
	if outcome.Changed() {
		turns[len(turns)-1] = replaceText(last, outcome.ProcessedMessage)
	}
	if r.files != nil && len(a.Files) > 0 {
		turns = attach.WithKnowledge(turns, attach.KnowledgeParts(r.files, a.Files))
	}

	instruction := a.SystemInstruction
	if res := outcome.APIResult(); res != nil {
		instruction = apitrigger.AugmentInstruction(instruction, outcome.Matched, res)
	}

	slog.Info("Calling model", "assistantID", a.ID, "turns", len(turns))
	reply, err := r.completion.Complete(ctx, turns, r.credential, instruction)
	metrics.RecordCompletion("chat", err)
	if err != nil {
		return fmt.Errorf("model call failed: %w", err)
	}
	return r.appendReply(ctx, a.ID, reply, imagePath)
}

func (r *Runner) runPipeline(ctx context.Context, a store.Assistant, text string, forced []string) apitrigger.Outcome {
	if !a.EnableAPI || len(a.APIConfigs) == 0 {
		return apitrigger.Outcome{Original: text, ProcessedMessage: text}
	}
	if len(forced) > 0 {
		return r.pipeline.ProcessWith(ctx, text, selectConfigs(a.APIConfigs, forced))
	}
	return r.pipeline.Process(ctx, text, a.APIConfigs)
}

func (r *Runner) saveImage(data string) string {
	if r.files == nil {
		slog.Warn("Dropping generated image: no file store configured")
		return ""
	}
	path, err := r.files.SaveImage(data)
	if err != nil {
		slog.Warn("Failed to save generated image", "error", err)
		r.warn(fmt.Errorf("failed to save generated image: %w", err))
		return ""
	}
	return path
}

func (r *Runner) appendReply(ctx context.Context, id int64, text, imagePath string) error {
	wire := text
	if wire == "" && imagePath != "" {
		wire = "[image]"
	}
	a, err := store.Update(ctx, r.store, id, func(a *store.Assistant) error {
		a.Append(
			store.DisplayMessage{Role: store.RoleAssistant, Content: text, ImagePath: imagePath},
			store.TextTurn(store.WireRoleModel, wire),
		)
		return nil
	})
	_, err = r.commit(a, err)
	return err
}

func (r *Runner) buildTurn(text string, attachments []string) (store.WireTurn, error) {
	if len(attachments) == 0 {
		return store.TextTurn(store.WireRoleUser, text), nil
	}
	if r.files == nil {
		return store.WireTurn{}, fmt.Errorf("attachments need a file store")
	}
	return attach.BuildTurn(r.files, text, attachments)
}

// selectConfigs returns the configs whose ID or name is in names.
func selectConfigs(configs []store.APIConfig, names []string) []store.APIConfig {
	var out []store.APIConfig
	for _, cfg := range configs {
		for _, n := range names {
			if strings.EqualFold(cfg.ID, n) || strings.EqualFold(cfg.Name, n) {
				out = append(out, cfg)
				break
			}
		}
	}
	return out
}

// replaceText returns a copy of turn whose first part holds text.
func replaceText(turn store.WireTurn, text string) store.WireTurn {
	parts := make([]store.Part, len(turn.Parts))
	copy(parts, turn.Parts)
	if len(parts) == 0 || parts[0].InlineData != nil {
		parts = append([]store.Part{{Text: text}}, parts...)
	} else {
		parts[0].Text = text
	}
	return store.WireTurn{Role: turn.Role, Parts: parts}
}

func displayText(text string, attachments []string) string {
	if len(attachments) == 0 {
		return text
	}
	names := make([]string, len(attachments))
	for i, p := range attachments {
		names[i] = filepath.Base(p)
	}
	return fmt.Sprintf("%s\n\n(attached: %s)", text, strings.Join(names, ", "))
}
