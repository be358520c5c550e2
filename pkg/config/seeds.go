package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nstogner/autoassist/pkg/store"
)

// AssistantSeed describes an assistant in the config file.
type AssistantSeed struct {
	Title             string            `yaml:"title"`
	SystemInstruction string            `yaml:"system_instruction"`
	Summary           string            `yaml:"summary"`
	Files             []string          `yaml:"files"`
	EnableAPI         bool              `yaml:"enable_api"`
	APIConfigs        []store.APIConfig `yaml:"apis"`
}

// Assistant converts the seed. API configs without an ID get a fresh one.
func (s AssistantSeed) Assistant() store.Assistant {
	apis := make([]store.APIConfig, len(s.APIConfigs))
	copy(apis, s.APIConfigs)
	for i := range apis {
		if apis[i].ID == "" {
			apis[i].ID = uuid.New().String()
		}
		if apis[i].ResponseType == "" {
			apis[i].ResponseType = store.ResponseText
		}
	}
	return store.Assistant{
		Title:             s.Title,
		SystemInstruction: s.SystemInstruction,
		Summary:           s.Summary,
		Files:             s.Files,
		EnableAPI:         s.EnableAPI,
		APIConfigs:        apis,
	}
}

// ImportAssistants creates every seed whose title is not taken yet.
func ImportAssistants(ctx context.Context, s store.AgentStore, seeds []AssistantSeed) (created, skipped int, err error) {
	for _, seed := range seeds {
		all, err := s.LoadAll(ctx)
		if err != nil {
			return created, skipped, fmt.Errorf("failed to load assistants: %w", err)
		}
		if _, ok := store.FindByTitle(all, seed.Title); ok {
			slog.Info("Skipping existing assistant", "title", seed.Title)
			skipped++
			continue
		}
		if _, err := store.Create(ctx, s, seed.Assistant()); err != nil {
			return created, skipped, fmt.Errorf("failed to create %s: %w", seed.Title, err)
		}
		slog.Info("Imported assistant", "title", seed.Title)
		created++
	}
	return created, skipped, nil
}
