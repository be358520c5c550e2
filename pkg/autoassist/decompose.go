package autoassist

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nstogner/autoassist/pkg/llmjson"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

const decomposeInstruction = `You split user requests into subtasks.
Split only when the request genuinely needs several logical steps. When you split, use 2 to 4 subtasks and give each a short, explicit name.
If one step is enough, return a single subtask containing the request.
Reply with only a JSON array of strings, for example ["Task1: ...", "Task2: ..."]. Do not add any other text.`

var taskPrefix = regexp.MustCompile(`(?i)^\s*(タスク|task)\s*\d+\s*[:：]\s*`)

// Decomposer splits a request into ordered task descriptions.
type Decomposer struct {
	Completion models.CompletionService
	Credential string
}

// Decompose never fails: an unusable reply yields the original text as the only task.
func (d *Decomposer) Decompose(ctx context.Context, text string) []string {
	reply, err := d.Completion.Complete(ctx,
		[]store.WireTurn{store.TextTurn(store.WireRoleUser, "Request:\n"+text)},
		d.Credential, decomposeInstruction)
	metrics.RecordCompletion("decompose", err)
	if err != nil {
		slog.Warn("Decomposition failed, using the request as a single task", "error", err)
		return []string{text}
	}
	return ParseTasks(reply, text)
}

// ParseTasks parses a decomposition reply, falling back to [original].
func ParseTasks(reply, original string) []string {
	var raw []string
	if err := llmjson.Decode(reply, &raw); err != nil {
		slog.Debug("Decomposition reply not usable", "reply", reply)
		return []string{original}
	}
	var tasks []string
	for _, t := range raw {
		t = strings.TrimSpace(taskPrefix.ReplaceAllString(t, ""))
		if t != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return []string{original}
	}
	return tasks
}
