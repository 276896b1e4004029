// Package store persists recorded workflows and pause checkpoints.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
)

// OpenWorkflowStore builds the workflow store selected by cfg.Backend.
func OpenWorkflowStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (schemas.WorkflowStore, error) {
	switch cfg.Backend {
	case config.StorageFile, "":
		s, err := NewFileStore(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("storage.database_url is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
}

// OpenCheckpointStore builds the checkpoint store selected by
// cfg.CheckpointBackend. Callers close it when it implements io.Closer.
func OpenCheckpointStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (schemas.CheckpointStore, error) {
	switch cfg.CheckpointBackend {
	case "memory", "":
		return NewMemoryCheckpointStore(), nil
	case "redis":
		s, err := NewRedisCheckpointStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CheckpointTTL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported checkpoint backend %q", cfg.CheckpointBackend)
}
