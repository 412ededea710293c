// Package backends selects the storage implementation named in config.
package backends

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/repository"
	"github.com/example/deepfake-detector/internal/repository/document"
	"github.com/example/deepfake-detector/internal/repository/relational"
)

// Open connects to the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendRelational:
		return OpenRelational(ctx, cfg, logger)
	case config.BackendDocument:
		return OpenDocument(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
}

// OpenRelational connects to the relational backend regardless of storage.backend.
func OpenRelational(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	store, err := relational.Open(ctx, cfg.Relational, cfg.Log.Level, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenDocument connects to the document backend regardless of storage.backend.
func OpenDocument(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	store, err := document.Open(ctx, cfg.Document, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}
