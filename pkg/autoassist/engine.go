package autoassist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

// Fixed replies of the confirmation step.
const (
	CancelMessage   = "Cancelled. The planned tasks were discarded."
	RepromptMessage = "Please answer yes or no."
)

// Request is one user turn addressed to AutoAssist.
type Request struct {
	// Display is the text shown in the history.
	Display string
	// Turn is what the model sees, including attachments.
	Turn store.WireTurn
}

// Engine drives the AutoAssist state machine. Every transition appends at
// least one message to the AutoAssist record and writes it back before
// returning, so the record alone describes the conversation.
//
// The session is passed in and returned explicitly; the engine holds none.
type Engine struct {
	Store      store.AgentStore
	Decomposer *Decomposer
	Resolver   *Resolver
	Executor   *Executor

	// OnUpdate receives the working copy of the AutoAssist record after each write.
	OnUpdate func(store.Assistant)
	// OnSession receives every session the engine moves to.
	OnSession func(Session)
	// OnWarning receives errors that did not stop the operation, such as a failed save.
	OnWarning func(error)

	agentMode atomic.Bool
}

// NewEngine wires the three stages to one completion service.
func NewEngine(s store.AgentStore, completion models.CompletionService, credential string, files store.FileStore) *Engine {
	return &Engine{
		Store:      s,
		Decomposer: &Decomposer{Completion: completion, Credential: credential},
		Resolver:   &Resolver{Completion: completion, Credential: credential},
		Executor:   &Executor{Completion: completion, Credential: credential, Files: files},
	}
}

// SetAgentMode toggles running plans without asking for confirmation.
func (e *Engine) SetAgentMode(on bool) { e.agentMode.Store(on) }

// AgentMode reports whether plans run without confirmation.
func (e *Engine) AgentMode() bool { return e.agentMode.Load() }

// Submit handles a new user turn.
func (e *Engine) Submit(ctx context.Context, sess Session, req Request) (Session, error) {
	sess = sess.Normalized()
	switch sess.State {
	case StateAwaitConfirm:
		return e.answer(ctx, sess, req)
	case StateExecuting:
		// Only seen when a previous run died before its cleanup.
		slog.Warn("Discarding stale executing session")
		e.transition(StateExecuting, StateIdle)
	}

	if err := e.appendMessages(ctx, userMessage(req)); err != nil {
		return e.abort(ctx, err)
	}
	return e.plan(ctx, req.Turn)
}

// Edit replaces the user message at index, drops everything after it and
// plans the edited request from scratch. Any pending plan is discarded.
func (e *Engine) Edit(ctx context.Context, sess Session, index int, req Request) (Session, error) {
	sess = sess.Normalized()
	if sess.State != StateIdle {
		slog.Info("Edit discards the pending plan", "state", sess.State, "pending", len(sess.Pending))
		e.transition(sess.State, StateIdle)
	}

	a, err := store.Update(ctx, e.Store, store.AutoAssistID, func(a *store.Assistant) error {
		if index < 0 || index >= len(a.Messages) {
			return fmt.Errorf("%w: index %d out of range", store.ErrInvalidMessage, index)
		}
		if a.Messages[index].Role != store.RoleUser {
			return fmt.Errorf("%w: message %d is not a user message", store.ErrInvalidMessage, index)
		}
		a.TruncateAt(index)
		m := userMessage(req)
		a.Append(m.display, m.turn)
		return nil
	})
	if err := e.handleWrite(a, err); err != nil {
		return e.abort(ctx, err)
	}
	return e.plan(ctx, req.Turn)
}

// Reset clears the AutoAssist history and returns the idle session.
func (e *Engine) Reset(ctx context.Context) (Session, error) {
	a, err := store.Update(ctx, e.Store, store.AutoAssistID, func(a *store.Assistant) error {
		a.Reset()
		return nil
	})
	if err := e.handleWrite(a, err); err != nil {
		return e.abort(ctx, err)
	}
	next := IdleSession()
	e.publish(next)
	return next, nil
}

func (e *Engine) plan(ctx context.Context, turn store.WireTurn) (Session, error) {
	tasks := e.Decomposer.Decompose(ctx, turn.Text())

	catalog, err := e.catalog(ctx)
	if err != nil {
		return e.abort(ctx, err)
	}
	subtasks := e.Resolver.Resolve(ctx, tasks, catalog)

	if e.AgentMode() {
		return e.execute(ctx, StateIdle, subtasks, &turn, catalog)
	}

	if err := e.appendMessages(ctx, assistantMessage(PlanMessage(subtasks))); err != nil {
		return e.abort(ctx, err)
	}
	next := Session{State: StateAwaitConfirm, Pending: subtasks, PendingTurn: &turn}
	e.transition(StateIdle, StateAwaitConfirm)
	e.publish(next)
	return next, nil
}

func (e *Engine) answer(ctx context.Context, sess Session, req Request) (Session, error) {
	if err := e.appendMessages(ctx, userMessage(req)); err != nil {
		return e.abort(ctx, err)
	}

	ans := strings.TrimSpace(req.Turn.Text())
	switch {
	case strings.EqualFold(ans, "yes"):
		catalog, err := e.catalog(ctx)
		if err != nil {
			return e.abort(ctx, err)
		}
		return e.execute(ctx, StateAwaitConfirm, sess.Pending, sess.PendingTurn, catalog)

	case strings.EqualFold(ans, "no"):
		err := e.appendMessages(ctx, assistantMessage(CancelMessage))
		e.transition(StateAwaitConfirm, StateIdle)
		next := IdleSession()
		e.publish(next)
		return next, err

	default:
		if err := e.appendMessages(ctx, assistantMessage(RepromptMessage)); err != nil {
			return e.abort(ctx, err)
		}
		e.transition(StateAwaitConfirm, StateAwaitConfirm)
		return sess, nil
	}
}

// execute always ends in the idle session, whatever happens while running.
func (e *Engine) execute(ctx context.Context, from State, subtasks []store.SubtaskInfo, turn *store.WireTurn, catalog []store.Assistant) (next Session, err error) {
	e.transition(from, StateExecuting)
	e.publish(Session{State: StateExecuting, Pending: subtasks, PendingTurn: turn})
	defer func() {
		next = IdleSession()
		e.transition(StateExecuting, StateIdle)
		e.publish(next)
	}()

	results := e.Executor.Execute(ctx, subtasks, turn, catalog)
	return IdleSession(), e.appendMessages(ctx, assistantMessage(Report(results)))
}

func (e *Engine) catalog(ctx context.Context) ([]store.Assistant, error) {
	all, err := e.Store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load assistants: %w", err)
	}
	if store.Index(all, store.AutoAssistID) < 0 {
		return nil, ErrAutoAssistMissing
	}
	return all, nil
}

// abort records err in the AutoAssist history when the record can still be
// written, forces the idle session and returns err.
func (e *Engine) abort(ctx context.Context, err error) (Session, error) {
	slog.Error("AutoAssist operation aborted", "error", err)
	if !errors.Is(err, ErrAutoAssistMissing) {
		m := assistantMessage(FailureMessage(err))
		a, uerr := store.Update(ctx, e.Store, store.AutoAssistID, func(a *store.Assistant) error {
			a.Append(m.display, m.turn)
			return nil
		})
		if uerr := e.handleWrite(a, uerr); uerr != nil {
			slog.Warn("Could not record AutoAssist failure", "error", uerr)
		}
	}
	next := IdleSession()
	e.publish(next)
	return next, err
}

// FailureMessage is the assistant message recorded when an AutoAssist
// operation is aborted.
func FailureMessage(err error) string {
	return fmt.Sprintf("The request could not be completed: %v", err)
}

type message struct {
	display store.DisplayMessage
	turn    store.WireTurn
}

func userMessage(req Request) message {
	display := req.Display
	if display == "" {
		display = req.Turn.Text()
	}
	return message{
		display: store.DisplayMessage{Role: store.RoleUser, Content: display},
		turn:    req.Turn,
	}
}

func assistantMessage(text string) message {
	return message{
		display: store.DisplayMessage{Role: store.RoleAssistant, Content: text},
		turn:    store.TextTurn(store.WireRoleModel, text),
	}
}

func (e *Engine) appendMessages(ctx context.Context, msgs ...message) error {
	a, err := store.Update(ctx, e.Store, store.AutoAssistID, func(a *store.Assistant) error {
		for _, m := range msgs {
			a.Append(m.display, m.turn)
		}
		return nil
	})
	return e.handleWrite(a, err)
}

// handleWrite turns a failed save into a warning and a missing record into
// ErrAutoAssistMissing.
func (e *Engine) handleWrite(a store.Assistant, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSaveFailed):
		metrics.RecordStoreWriteFailure()
		e.warn(fmt.Errorf("the AutoAssist conversation may not have been saved: %w", err))
	case errors.Is(err, store.ErrNotFound):
		return ErrAutoAssistMissing
	default:
		return err
	}
	if e.OnUpdate != nil {
		e.OnUpdate(a)
	}
	return nil
}

func (e *Engine) warn(err error) {
	slog.Warn("AutoAssist warning", "error", err)
	if e.OnWarning != nil {
		e.OnWarning(err)
	}
}

func (e *Engine) publish(s Session) {
	if e.OnSession != nil {
		e.OnSession(s)
	}
}

func (e *Engine) transition(from, to State) {
	if err := ValidateTransition(from, to); err != nil {
		slog.Error("Unexpected AutoAssist transition", "error", err)
	}
	slog.Debug("AutoAssist transition", "from", from, "to", to)
	metrics.RecordTransition(string(from), string(to))
}

// PlanMessage describes the planned subtasks and asks for confirmation.
func PlanMessage(subtasks []store.SubtaskInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I will handle this request in %d step(s):\n", len(subtasks))
	for i, st := range subtasks {
		who := store.AutoAssistTitle + " (no matching assistant)"
		if st.Assistant != nil {
			who = *st.Assistant
		}
		fmt.Fprintf(&sb, "%d. %s -> %s\n", i+1, st.Task, who)
	}
	sb.WriteString("\nProceed? Answer yes or no.")
	return sb.String()
}
