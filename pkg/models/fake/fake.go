// Package fake provides completion services that need no network: a scripted
// one for tests and an echo one for running the CLI without a real model.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/store"
)

// Call records one Complete invocation.
type Call struct {
	Turns             []store.WireTurn
	Credential        string
	SystemInstruction string
}

// LastText returns the text of the final turn of the call.
func (c Call) LastText() string {
	if len(c.Turns) == 0 {
		return ""
	}
	return c.Turns[len(c.Turns)-1].Text()
}

// HandlerFunc produces the reply for one call.
type HandlerFunc func(call Call) (string, error)

// Model is a CompletionService driven by a HandlerFunc. It records every call.
type Model struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []Call
}

var (
	_ models.CompletionService = (*Model)(nil)
	_ models.ModelLister       = (*Model)(nil)
)

// New returns a Model using handler.
func New(handler HandlerFunc) *Model {
	return &Model{Handler: handler}
}

// Replies returns a Model that answers with replies in order, then errors.
func Replies(replies ...string) *Model {
	var mu sync.Mutex
	i := 0
	return New(func(Call) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(replies) {
			return "", fmt.Errorf("fake: no reply scripted for call %d", i+1)
		}
		r := replies[i]
		i++
		return r, nil
	})
}

// Echo returns a Model that repeats the last user text.
func Echo() *Model {
	return New(func(c Call) (string, error) {
		return "Echo: " + c.LastText(), nil
	})
}

// Complete implements models.CompletionService.
func (m *Model) Complete(ctx context.Context, turns []store.WireTurn, credential, systemInstruction string) (string, error) {
	c := Call{
		Turns:             append([]store.WireTurn(nil), turns...),
		Credential:        credential,
		SystemInstruction: systemInstruction,
	}
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()

	if m.Handler == nil {
		return "", fmt.Errorf("fake: no handler")
	}
	return m.Handler(c)
}

// List implements models.ModelLister.
func (m *Model) List(ctx context.Context) ([]string, error) {
	return []string{"mock-model"}, nil
}

// Calls returns a copy of the recorded calls.
func (m *Model) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
