package autoassist

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

const resolveInstruction = `You route tasks to assistants. Pick the single assistant from the catalog best suited to the task, or null if none fits.
Reply with only a JSON object of the form {"assistantTitle": "<title>"} or {"assistantTitle": null}.`

// Resolver picks an assistant for each task.
type Resolver struct {
	Completion models.CompletionService
	Credential string
}

// Resolve runs one model call per task, in order. Unusable replies resolve to nil.
func (r *Resolver) Resolve(ctx context.Context, tasks []string, catalog []store.Assistant) []store.SubtaskInfo {
	subtasks := make([]store.SubtaskInfo, 0, len(tasks))
	for i, task := range tasks {
		prompt := ResolvePrompt(tasks, i, catalog)
		reply, err := r.Completion.Complete(ctx,
			[]store.WireTurn{store.TextTurn(store.WireRoleUser, prompt)},
			r.Credential, resolveInstruction)
		metrics.RecordCompletion("resolve", err)

		info := store.SubtaskInfo{Task: task}
		if err != nil {
			slog.Warn("Assistant resolution failed", "task", task, "error", err)
		} else {
			info.Assistant = parseAssistantTitle(reply)
		}
		slog.Debug("Resolved subtask", "index", i, "task", task, "assistant", info.Assistant)
		subtasks = append(subtasks, info)
	}
	return subtasks
}

// ResolvePrompt builds the routing prompt for tasks[i].
func ResolvePrompt(tasks []string, i int, catalog []store.Assistant) string {
	var sb strings.Builder
	sb.WriteString("Assistant catalog:\n")
	n := 0
	for _, a := range catalog {
		if a.IsAutoAssist() {
			continue
		}
		n++
		summary := a.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", a.Title, summary)
	}
	if n == 0 {
		sb.WriteString("(no assistants)\n")
	}
	fmt.Fprintf(&sb, "\nTask:\n%s\n", tasks[i])
	if len(tasks) > 1 {
		fmt.Fprintf(&sb, "\nContext: this is task %d of %d.", i+1, len(tasks))
		if i > 0 {
			fmt.Fprintf(&sb, " previous task: %s.", tasks[i-1])
		}
		if i < len(tasks)-1 {
			fmt.Fprintf(&sb, " next task: %s.", tasks[i+1])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseAssistantTitle(reply string) *string {
	var v struct {
		AssistantTitle *string `json:"assistantTitle"`
	}
	if err := llmjson.Decode(reply, &v); err != nil {
		slog.Debug("Resolution reply not usable", "reply", reply)
		return nil
	}
	if v.AssistantTitle == nil || strings.TrimSpace(*v.AssistantTitle) == "" {
		return nil
	}
	title := strings.TrimSpace(*v.AssistantTitle)
	return &title
}
