package autoassist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/autoassist/pkg/attach"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

// SubtaskResult is the output of one executed subtask.
type SubtaskResult struct {
	Task string
	// Assistant is the title of the assistant that ran the task.
	Assistant string
	Output    string
	Err       error
}

// Executor runs planned subtasks one after another, feeding earlier outputs
// into later tasks.
type Executor struct {
	Completion models.CompletionService
	Credential string
	// Files, when set, is used to inline the knowledge files of delegated assistants.
	Files store.FileStore
}

// Execute runs every subtask. A failing subtask produces a failure marker as
// its output and does not stop the rest.
func (e *Executor) Execute(ctx context.Context, subtasks []store.SubtaskInfo, original *store.WireTurn, catalog []store.Assistant) []SubtaskResult {
	results := make([]SubtaskResult, 0, len(subtasks))
	for i := range subtasks {
		res := e.run(ctx, i, subtasks, original, catalog, results)
		metrics.RecordSubtask(res.Err)
		results = append(results, res)
	}
	return results
}

func (e *Executor) run(ctx context.Context, i int, subtasks []store.SubtaskInfo, original *store.WireTurn, catalog []store.Assistant, prior []SubtaskResult) (res SubtaskResult) {
	st := subtasks[i]
	n := len(subtasks)
	res = SubtaskResult{Task: st.Task, Assistant: store.AutoAssistTitle}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subtask panicked", "index", i, "panic", r)
			res.Err = fmt.Errorf("panic: %v", r)
			res.Output = FailureMarker(res.Err)
		}
	}()

	instruction := store.AutoAssistInstruction + "\n\nCarry out the task below directly and reply with the result."
	var knowledge []store.Part
	if st.Assistant != nil {
		if a, ok := store.FindByTitle(catalog, *st.Assistant); ok && !a.IsAutoAssist() {
			res.Assistant = a.Title
			instruction = a.SystemInstruction + "\n\n" + sequenceNote(i, n, len(prior) > 0)
			if e.Files != nil && len(a.Files) > 0 {
				knowledge = attach.KnowledgeParts(e.Files, a.Files)
			}
		} else {
			slog.Info("Recommended assistant not found, using fallback", "assistant", *st.Assistant)
		}
	}

	parts := []store.Part{{Text: ContextText(i, n, st.Task, prior)}}
	if original != nil && len(original.Parts) > 1 {
		parts = append(parts, original.Parts[1:]...)
	}
	parts = append(parts, knowledge...)
	turn := store.WireTurn{Role: store.WireRoleUser, Parts: parts}

	slog.Info("Executing subtask", "index", i+1, "of", n, "assistant", res.Assistant)
	out, err := e.Completion.Complete(ctx, []store.WireTurn{turn}, e.Credential, instruction)
	metrics.RecordCompletion("execute", err)
	if err != nil {
		slog.Warn("Subtask failed", "index", i+1, "error", err)
		res.Err = err
		res.Output = FailureMarker(err)
		return res
	}
	res.Output = out
	return res
}

func sequenceNote(i, n int, hasPrior bool) string {
	note := fmt.Sprintf("You are handling step %d of %d in a sequence of tasks.", i+1, n)
	if hasPrior {
		note += " Results of the earlier tasks are included in the message; build on them."
	}
	return note
}

// ContextText is the message text sent for task i of n.
func ContextText(i, n int, task string, prior []SubtaskResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "current task %d/%d: %s", i+1, n, task)
	for k, p := range prior {
		fmt.Fprintf(&sb, "\n\nresult of task %d:\n%s", k+1, p.Output)
	}
	return sb.String()
}

// FailureMarker is the output recorded for a failed subtask.
func FailureMarker(err error) string {
	return fmt.Sprintf("[task failed: %v]", err)
}

// Report renders one labelled section per result, in order.
func Report(results []SubtaskResult) string {
	n := len(results)
	if n == 0 {
		return "No tasks were planned."
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## Task %d/%d: %s\nAssistant: %s\n\n%s", i+1, n, r.Task, r.Assistant, r.Output)
	}
	return sb.String()
}
