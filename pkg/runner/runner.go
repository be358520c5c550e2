package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nstogner/autoassist/pkg/apitrigger"
	"github.com/nstogner/autoassist/pkg/autoassist"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

// ErrQueueFull is returned when too many requests are waiting.
var ErrQueueFull = errors.New("request queue is full")

// Options configures a Runner.
type Options struct {
	// Credential is passed to every completion call.
	Credential string
	// Files stores attachments and generated images. Required for attachments,
	// knowledge files and image APIs.
	Files store.FileStore
	// Invoker performs external API calls. Defaults to an HTTP invoker.
	Invoker   apitrigger.Invoker
	AgentMode bool
	// QueueSize bounds the number of waiting requests.
	QueueSize int
}

// Runner serializes chat requests. Requests are queued and executed one at a
// time by Start, so each request observes the results of the previous one.
// It owns the AutoAssist session.
type Runner struct {
	store      store.AgentStore
	files      store.FileStore
	completion models.CompletionService
	credential string
	pipeline   *apitrigger.Pipeline
	engine     *autoassist.Engine

	jobs chan job

	mu      sync.RWMutex
	session autoassist.Session

	// ErrorChan receives errors of failed requests.
	ErrorChan chan error
	// Warnings receives problems that did not stop a request, such as failed saves.
	Warnings chan error
	// Updates receives the working copy of an assistant after each write.
	Updates chan store.Assistant
}

type job struct {
	name string
	run  func(ctx context.Context) error
	done chan error
}

func New(s store.AgentStore, completion models.CompletionService, opts Options) *Runner {
	if opts.Invoker == nil {
		opts.Invoker = apitrigger.NewHTTPInvoker()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	r := &Runner{
		store:      s,
		files:      opts.Files,
		completion: completion,
		credential: opts.Credential,
		pipeline: apitrigger.NewPipeline(opts.Invoker, &apitrigger.Extractor{
			Completion: completion,
			Credential: opts.Credential,
		}),
		engine:    autoassist.NewEngine(s, completion, opts.Credential, opts.Files),
		jobs:      make(chan job, opts.QueueSize),
		session:   autoassist.IdleSession(),
		ErrorChan: make(chan error, 10),
		Warnings:  make(chan error, 10),
		Updates:   make(chan store.Assistant, 10),
	}
	r.engine.SetAgentMode(opts.AgentMode)
	r.engine.OnSession = r.setSession
	r.engine.OnWarning = r.warn
	r.engine.OnUpdate = r.publish
	return r
}

// Start executes queued requests until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-r.jobs:
			err := j.run(ctx)
			if err != nil {
				slog.Error("Request failed", "request", j.name, "error", err)
				select {
				case r.ErrorChan <- err:
				default:
				}
			}
			j.done <- err
		}
	}
}

// enqueue schedules fn and returns a channel that receives its result.
func (r *Runner) enqueue(name string, fn func(ctx context.Context) error) (<-chan error, error) {
	j := job{name: name, run: fn, done: make(chan error, 1)}
	select {
	case r.jobs <- j:
		return j.done, nil
	default:
		return nil, ErrQueueFull
	}
}

func (r *Runner) wait(ctx context.Context, done <-chan error, err error) error {
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Submit queues a user message and returns without waiting for the reply.
func (r *Runner) Submit(msg Message) (<-chan error, error) {
	return r.enqueue("send", func(ctx context.Context) error {
		return r.handleMessage(ctx, msg)
	})
}

// Send queues a user message and waits until it has been answered.
func (r *Runner) Send(ctx context.Context, msg Message) error {
	done, err := r.Submit(msg)
	return r.wait(ctx, done, err)
}

// Edit replaces the user message at index and re-runs the conversation from there.
func (r *Runner) Edit(ctx context.Context, assistantID int64, index int, text string) error {
	done, err := r.enqueue("edit", func(ctx context.Context) error {
		return r.handleEdit(ctx, assistantID, index, text)
	})
	return r.wait(ctx, done, err)
}

// Reset clears the history of an assistant and deletes its generated images.
// It runs immediately, concurrently with any queued request.
func (r *Runner) Reset(ctx context.Context, assistantID int64) error {
	a, err := store.Get(ctx, r.store, assistantID)
	if err != nil {
		return err
	}
	r.deleteImages(a)

	if assistantID == store.AutoAssistID {
		_, err := r.engine.Reset(ctx)
		return err
	}
	a, err = store.Update(ctx, r.store, assistantID, func(a *store.Assistant) error {
		a.Reset()
		return nil
	})
	_, err = r.commit(a, err)
	return err
}

// DeleteAssistant removes an assistant and its generated images.
func (r *Runner) DeleteAssistant(ctx context.Context, assistantID int64) error {
	a, err := store.Get(ctx, r.store, assistantID)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, r.store, assistantID); err != nil {
		return err
	}
	r.deleteImages(a)
	return nil
}

func (r *Runner) deleteImages(a store.Assistant) {
	if r.files == nil {
		return
	}
	for _, m := range a.Messages {
		if m.ImagePath == "" {
			continue
		}
		if _, err := r.files.Delete(m.ImagePath); err != nil {
			slog.Warn("Failed to delete image", "path", m.ImagePath, "error", err)
		}
	}
}

// Session returns the current AutoAssist session.
func (r *Runner) Session() autoassist.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

func (r *Runner) setSession(s autoassist.Session) {
	r.mu.Lock()
	r.session = s
	r.mu.Unlock()
}

// SetAgentMode toggles running AutoAssist plans without confirmation.
func (r *Runner) SetAgentMode(on bool) {
	slog.Info("Agent mode changed", "enabled", on)
	r.engine.SetAgentMode(on)
}

func (r *Runner) AgentMode() bool { return r.engine.AgentMode() }

func (r *Runner) warn(err error) {
	select {
	case r.Warnings <- err:
	default:
	}
}

func (r *Runner) publish(a store.Assistant) {
	select {
	case r.Updates <- a:
	default:
	}
}

// commit handles the result of a store.Update. A failed save is downgraded to
// a warning and the working copy is still published.
func (r *Runner) commit(a store.Assistant, err error) (store.Assistant, error) {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSaveFailed):
		metrics.RecordStoreWriteFailure()
		slog.Warn("Assistant may not have been saved", "assistantID", a.ID, "error", err)
		r.warn(fmt.Errorf("%s may not have been saved: %w", a.Title, err))
	default:
		return a, err
	}
	r.publish(a)
	return a, nil
}
