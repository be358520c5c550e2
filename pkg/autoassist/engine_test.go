package autoassist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nstogner/autoassist/pkg/models/fake"
	"github.com/nstogner/autoassist/pkg/store"
	"github.com/nstogner/autoassist/pkg/store/jsonl"
)

// flakyStore fails SaveAll while fail is set.
type flakyStore struct {
	store.AgentStore
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) SaveAll(ctx context.Context, a []store.Assistant) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.AgentStore.SaveAll(ctx, a)
}

func routerModel(decompose string) *fake.Model {
	return fake.New(func(c fake.Call) (string, error) {
		switch c.SystemInstruction {
		case decomposeInstruction:
			return decompose, nil
		case resolveInstruction:
			if strings.Contains(c.LastText(), "Task:\ntranslate") {
				return `{"assistantTitle": "TRANSLATOR"}`, nil
			}
			return `{"assistantTitle": null}`, nil
		}
		return "done: " + strings.SplitN(c.LastText(), "\n", 2)[0], nil
	})
}

func newTestEngine(t *testing.T, model *fake.Model) (*Engine, store.AgentStore) {
	t.Helper()
	ctx := context.Background()
	s, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureAutoAssist(ctx, s); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, s, store.Assistant{Title: "Translator", SystemInstruction: "You translate.", Summary: "translation"}); err != nil {
		t.Fatal(err)
	}
	return NewEngine(s, model, "key", nil), s
}

func textRequest(text string) Request {
	return Request{Display: text, Turn: store.TextTurn(store.WireRoleUser, text)}
}

func autoAssist(t *testing.T, s store.AgentStore) store.Assistant {
	t.Helper()
	a, err := store.Get(context.Background(), s, store.AutoAssistID)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Messages) != len(a.PostMessages) {
		t.Fatalf("display and wire histories out of step: %d vs %d", len(a.Messages), len(a.PostMessages))
	}
	return a
}

func lastContent(a store.Assistant) string {
	return a.Messages[len(a.Messages)-1].Content
}

func TestEngine_ConfirmYes(t *testing.T) {
	for _, yes := range []string{"yes", "Yes", "YES", "  yes \n"} {
		t.Run(yes, func(t *testing.T) {
			ctx := context.Background()
			e, s := newTestEngine(t, routerModel(`["summarize", "translate"]`))

			sess, err := e.Submit(ctx, IdleSession(), textRequest("summarize then translate"))
			if err != nil {
				t.Fatal(err)
			}
			if sess.State != StateAwaitConfirm || len(sess.Pending) != 2 || sess.PendingTurn == nil {
				t.Fatalf("unexpected session %+v", sess)
			}
			a := autoAssist(t, s)
			if len(a.Messages) != 2 || !strings.Contains(lastContent(a), "Proceed?") {
				t.Fatalf("expected request and plan messages, got %+v", a.Messages)
			}
			if !strings.Contains(lastContent(a), "translate -> TRANSLATOR") {
				t.Errorf("plan should name the resolved assistant: %q", lastContent(a))
			}

			var seen []State
			e.OnSession = func(s Session) { seen = append(seen, s.State) }
			sess, err = e.Submit(ctx, sess, textRequest(yes))
			if err != nil {
				t.Fatal(err)
			}
			if sess.State != StateIdle || sess.Pending != nil {
				t.Errorf("expected idle session, got %+v", sess)
			}
			if len(seen) < 2 || seen[0] != StateExecuting || seen[len(seen)-1] != StateIdle {
				t.Errorf("expected executing then idle, saw %v", seen)
			}

			a = autoAssist(t, s)
			if len(a.Messages) != 4 {
				t.Fatalf("expected 4 messages, got %d", len(a.Messages))
			}
			report := lastContent(a)
			if strings.Count(report, "## Task ") != 2 || !strings.Contains(report, "Assistant: Translator") {
				t.Errorf("unexpected report:\n%s", report)
			}
		})
	}
}

func TestEngine_ConfirmNo(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, routerModel(`["a", "b"]`))

	sess, _ := e.Submit(ctx, IdleSession(), textRequest("do a and b"))
	sess, err := e.Submit(ctx, sess, textRequest("No"))
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateIdle || sess.Pending != nil || sess.PendingTurn != nil {
		t.Errorf("expected cleared idle session, got %+v", sess)
	}
	a := autoAssist(t, s)
	if len(a.Messages) != 4 || lastContent(a) != CancelMessage {
		t.Errorf("expected cancellation message, got %+v", a.Messages)
	}
}

func TestEngine_ConfirmOther(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, routerModel(`["a", "b"]`))

	sess, _ := e.Submit(ctx, IdleSession(), textRequest("do a and b"))
	pending := sess.Pending

	for _, other := range []string{"maybe", "yes please", ""} {
		next, err := e.Submit(ctx, sess, textRequest(other))
		if err != nil {
			t.Fatal(err)
		}
		if next.State != StateAwaitConfirm || len(next.Pending) != len(pending) {
			t.Errorf("%q: expected unchanged awaitConfirm session, got %+v", other, next)
		}
		sess = next
	}
	a := autoAssist(t, s)
	if len(a.Messages) != 8 || lastContent(a) != RepromptMessage {
		t.Errorf("expected re-prompt after each answer, got %d messages", len(a.Messages))
	}
}

func TestEngine_AgentMode(t *testing.T) {
	ctx := context.Background()
	model := routerModel(`["only task"]`)
	e, s := newTestEngine(t, model)
	e.SetAgentMode(true)

	sess, err := e.Submit(ctx, IdleSession(), textRequest("just do it"))
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateIdle {
		t.Errorf("expected idle, got %s", sess.State)
	}
	a := autoAssist(t, s)
	if len(a.Messages) != 2 || !strings.Contains(lastContent(a), "## Task 1/1: only task") {
		t.Errorf("expected request and report, got %+v", a.Messages)
	}
}

func TestEngine_EditDuringAwaitConfirm(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, routerModel(`["first plan"]`))

	sess, _ := e.Submit(ctx, IdleSession(), textRequest("original request"))
	if sess.State != StateAwaitConfirm {
		t.Fatalf("expected awaitConfirm, got %s", sess.State)
	}

	if _, err := e.Edit(ctx, sess, 1, textRequest("edited")); !errors.Is(err, store.ErrInvalidMessage) {
		t.Errorf("editing an assistant message should fail with ErrInvalidMessage, got %v", err)
	}

	sess, err := e.Edit(ctx, sess, 0, textRequest("edited request"))
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateAwaitConfirm || sess.PendingTurn.Text() != "edited request" {
		t.Errorf("expected a fresh plan for the edited request, got %+v", sess)
	}
	a := autoAssist(t, s)
	if len(a.Messages) != 2 {
		t.Fatalf("expected edited request plus new plan, got %+v", a.Messages)
	}
	if a.Messages[0].Content != "edited request" || a.PostMessages[0].Text() != "edited request" {
		t.Errorf("edited turn not stored once: %+v", a.Messages[0])
	}
}

func TestEngine_AbortRecordsFailure(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, routerModel(`["a"]`))

	if _, err := e.Submit(ctx, IdleSession(), textRequest("request")); err != nil {
		t.Fatal(err)
	}
	before := len(autoAssist(t, s).Messages)

	sess, err := e.Edit(ctx, IdleSession(), 7, textRequest("edited"))
	if !errors.Is(err, store.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if sess.State != StateIdle {
		t.Errorf("expected idle session, got %s", sess.State)
	}

	a := autoAssist(t, s)
	if len(a.Messages) != before+1 {
		t.Fatalf("expected one failure message appended, got %+v", a.Messages)
	}
	last := a.Messages[len(a.Messages)-1]
	if last.Role != store.RoleAssistant || last.Content != FailureMessage(err) {
		t.Errorf("unexpected failure message %+v", last)
	}
	if a.PostMessages[len(a.PostMessages)-1].Role != store.WireRoleModel {
		t.Errorf("failure not recorded as a model turn: %+v", a.PostMessages[len(a.PostMessages)-1])
	}
}

func TestEngine_AutoAssistMissing(t *testing.T) {
	ctx := context.Background()
	s, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(s, routerModel(`["a"]`), "", nil)

	pending := Session{State: StateAwaitConfirm, Pending: []store.SubtaskInfo{{Task: "a"}}}
	sess, err := e.Submit(ctx, pending, textRequest("yes"))
	if !errors.Is(err, ErrAutoAssistMissing) {
		t.Fatalf("expected ErrAutoAssistMissing, got %v", err)
	}
	if sess.State != StateIdle || sess.Pending != nil {
		t.Errorf("session should be forced idle, got %+v", sess)
	}
}

func TestEngine_SaveFailureWarns(t *testing.T) {
	ctx := context.Background()
	base, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureAutoAssist(ctx, base); err != nil {
		t.Fatal(err)
	}
	flaky := &flakyStore{AgentStore: base, fail: true}
	e := NewEngine(flaky, routerModel(`["a"]`), "", nil)

	var warnings []error
	var updates []store.Assistant
	e.OnWarning = func(err error) { warnings = append(warnings, err) }
	e.OnUpdate = func(a store.Assistant) { updates = append(updates, a) }

	sess, err := e.Submit(ctx, IdleSession(), textRequest("hello"))
	if err != nil {
		t.Fatalf("save failures must not abort: %v", err)
	}
	if sess.State != StateAwaitConfirm {
		t.Errorf("expected awaitConfirm, got %s", sess.State)
	}
	if len(warnings) != 2 || !errors.Is(warnings[0], store.ErrSaveFailed) {
		t.Errorf("expected one warning per failed write, got %v", warnings)
	}
	if len(updates) != 2 || len(updates[1].Messages) == 0 {
		t.Errorf("working copy should still be delivered, got %d updates", len(updates))
	}
}

func TestEngine_Reset(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, routerModel(`["a"]`))
	sess, _ := e.Submit(ctx, IdleSession(), textRequest("hello"))
	if sess.State != StateAwaitConfirm {
		t.Fatalf("expected awaitConfirm")
	}
	sess, err := e.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateIdle {
		t.Errorf("expected idle")
	}
	if a := autoAssist(t, s); len(a.Messages) != 0 {
		t.Errorf("expected empty history, got %d", len(a.Messages))
	}
}
