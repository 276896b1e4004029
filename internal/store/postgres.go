package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateWorkflows = `
        CREATE TABLE IF NOT EXISTS workflows (
            id          TEXT PRIMARY KEY,
            name        TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            created_at  TIMESTAMPTZ NOT NULL,
            start_url   TEXT NOT NULL DEFAULT '',
            duration    DOUBLE PRECISION NOT NULL DEFAULT 0,
            actions     JSONB NOT NULL DEFAULT '[]'
        );
        CREATE INDEX IF NOT EXISTS workflows_created_at_idx ON workflows (created_at DESC);
    `
	sqlUpsertWorkflow = `
        INSERT INTO workflows (id, name, description, created_at, start_url, duration, actions)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            description = EXCLUDED.description,
            start_url = EXCLUDED.start_url,
            duration = EXCLUDED.duration,
            actions = EXCLUDED.actions;
    `
	sqlSelectWorkflow = `
        SELECT id, name, description, created_at, start_url, duration, actions
        FROM workflows
        WHERE id = $1;
    `
	sqlListWorkflows = `
        SELECT id, name, description, created_at, start_url, duration, jsonb_array_length(actions)
        FROM workflows
        ORDER BY created_at DESC;
    `
	sqlDeleteWorkflow = `DELETE FROM workflows WHERE id = $1;`
	sqlUpdateMetadata = `
        UPDATE workflows SET
            name = COALESCE(NULLIF($2, ''), name),
            description = COALESCE(NULLIF($3, ''), description)
        WHERE id = $1;
    `
)

// PostgresStore keeps workflows in a shared PostgreSQL table so several
// operators can replay each other's recordings.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.WorkflowStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new store instance and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store.postgres"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the workflows table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateWorkflows); err != nil {
		return fmt.Errorf("failed to create workflows schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, wf *schemas.RecordedWorkflow) (string, error) {
	if wf.ID == "" {
		wf.ID = NewWorkflowID()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = s.now()
	}
	actions := wf.Actions
	if actions == nil {
		actions = []schemas.Action{}
	}
	payload, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("failed to encode actions: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sqlUpsertWorkflow,
		wf.ID, wf.Name, wf.Description, wf.CreatedAt.UTC(), wf.StartURL, wf.Duration, payload,
	); err != nil {
		return "", fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	s.log.Info("Workflow saved.", zap.String("id", wf.ID), zap.Int("actions", len(actions)))
	return wf.ID, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*schemas.RecordedWorkflow, error) {
	var wf schemas.RecordedWorkflow
	var payload []byte
	err := s.pool.QueryRow(ctx, sqlSelectWorkflow, id).Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.CreatedAt, &wf.StartURL, &wf.Duration, &payload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", schemas.ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	if err := json.Unmarshal(payload, &wf.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]schemas.WorkflowSummary, error) {
	rows, err := s.pool.Query(ctx, sqlListWorkflows)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []schemas.WorkflowSummary
	for rows.Next() {
		var sum schemas.WorkflowSummary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Description, &sum.CreatedAt, &sum.StartURL, &sum.Duration, &sum.ActionCount); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlDeleteWorkflow, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, id, name, description string) error {
	tag, err := s.pool.Exec(ctx, sqlUpdateMetadata, id, name, description)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", schemas.ErrWorkflowNotFound, id)
	}
	return nil
}

// Close releases the pool when the store owns one.
func (s *PostgresStore) Close() error {
	if c, ok := s.pool.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
