package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/autoassist/pkg/config"
	"github.com/nstogner/autoassist/pkg/models"
	"github.com/nstogner/autoassist/pkg/models/fake"
	"github.com/nstogner/autoassist/pkg/models/gemini"
	"github.com/nstogner/autoassist/pkg/runner"
	"github.com/nstogner/autoassist/pkg/store"
	"github.com/nstogner/autoassist/pkg/store/files"
	"github.com/nstogner/autoassist/pkg/store/jsonl"
	"github.com/nstogner/autoassist/pkg/store/sqlite"
)

type rootFlags struct {
	configPath string
	mock       bool
}

func newRootCmd(version string) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:          "autoassist",
		Short:        "Chat with assistants that call external APIs and delegate to each other",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (env: AUTOASSIST_CONFIG)")
	cmd.PersistentFlags().BoolVar(&flags.mock, "mock", false, "Use an echo model instead of Gemini")

	cmd.AddCommand(newTUICmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newAssistantsCmd(flags))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Version = version
	return cmd
}

// app holds the dependencies shared by every command.
type app struct {
	cfg        *config.Config
	store      store.AgentStore
	files      store.FileStore
	completion models.CompletionService
	lister     models.ModelLister

	closers []func()
}

// openStore opens the configured agent store and seeds AutoAssist.
func openStore(ctx context.Context, cfg *config.Config) (store.AgentStore, func(), error) {
	var (
		s       store.AgentStore
		closeFn = func() {}
	)
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				slog.Error("Failed to close sqlite store", "error", err)
			}
		}
	default:
		js, err := jsonl.New(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open jsonl store: %w", err)
		}
		s = js
	}
	if err := store.EnsureAutoAssist(ctx, s); err != nil {
		closeFn()
		return nil, nil, err
	}
	slog.Info("Store opened", "driver", cfg.StoreDriver, "dataDir", cfg.DataDir)
	return s, closeFn, nil
}

// loadApp wires configuration, storage and the completion service.
func loadApp(ctx context.Context, flags *rootFlags, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	s, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, closeStore)

	fs, err := files.New(cfg.ImageDir, cfg.UploadDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open image directory: %w", err)
	}
	a.files = fs

	if flags.mock {
		slog.Info("Using mock model")
		m := fake.Echo()
		a.completion, a.lister = m, m
		return a, nil
	}
	if err := cfg.RequireAPIKey(); err != nil {
		a.Close()
		return nil, err
	}
	gm, err := gemini.New(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	a.completion, a.lister = gm, gm
	a.closers = append(a.closers, gm.Close)
	return a, nil
}

func (a *app) newRunner() *runner.Runner {
	return runner.New(a.store, a.completion, runner.Options{
		Credential: a.cfg.APIKey,
		Files:      a.files,
		AgentMode:  a.cfg.AgentMode,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
