package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/loader"
)

// openRunStore returns the configured run store and a function releasing it.
func openRunStore(ctx context.Context, backend string) (analysis.RunStore, func(), error) {
	switch backend {
	case "sqlite":
		store, err := analysis.NewSQLiteRunStore(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open run store: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Failed to close run store", "error", err)
			}
		}, nil
	case "memory", "":
		return analysis.NewMemoryRunStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown runs backend: %s", backend)
	}
}

// newEngine wires the analysis engine from settings.
func newEngine(settings config.Settings, store analysis.RunStore, executor analysis.Executor, recorder analysis.Recorder, onFallback func(op string)) (*analysis.Engine, error) {
	ranker, err := createRanker(settings, onFallback)
	if err != nil {
		return nil, err
	}

	engine, err := analysis.NewEngine(analysis.Deps{
		Store:    store,
		Loader:   loader.New(),
		Ranker:   ranker,
		Executor: executor,
		Metrics:  recorder,
		Logger:   slog.Default(),
		Settings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis engine: %w", err)
	}
	return engine, nil
}
