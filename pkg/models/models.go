package models

import (
	"context"

	"github.com/nstogner/autoassist/pkg/store"
)

// CompletionService turns a conversation into a single text completion.
// Implementations fail fast and never retry; callers recover.
type CompletionService interface {
	// Complete sends turns with the given system instruction and returns the reply text.
	// credential is the API key used for this call.
	Complete(ctx context.Context, turns []store.WireTurn, credential, systemInstruction string) (string, error)
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	// List returns the names of available models.
	List(ctx context.Context) ([]string, error)
}
