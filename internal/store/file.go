package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const untitled = "Untitled"

// NewWorkflowID returns a short random id of the form wf_1a2b3c4d.
func NewWorkflowID() string {
	return "wf_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// FileStore keeps one JSON document per workflow in a directory.
type FileStore struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

var _ schemas.WorkflowStore = (*FileStore)(nil)

// NewFileStore opens (and creates) dir. A leading ~ is expanded.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand workflow directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workflow directory %q: %w", expanded, err)
	}
	logger = logger.Named("store.file")
	logger.Info("Workflow storage ready.", zap.String("dir", expanded))
	return &FileStore{dir: expanded, logger: logger, now: time.Now}, nil
}

// Dir returns the resolved storage directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Save(_ context.Context, wf *schemas.RecordedWorkflow) (string, error) {
	if wf.ID == "" {
		wf.ID = NewWorkflowID()
	}
	path, err := s.path(wf.ID)
	if err != nil {
		return "", err
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(path, wf); err != nil {
		return "", err
	}
	s.logger.Info("Workflow saved.", zap.String("id", wf.ID), zap.Int("actions", len(wf.Actions)))
	return wf.ID, nil
}

func (s *FileStore) Load(_ context.Context, id string) (*schemas.RecordedWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// List returns summaries newest first. Unreadable files are logged and skipped.
func (s *FileStore) List(_ context.Context) ([]schemas.WorkflowSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	out := make([]schemas.WorkflowSummary, 0, len(paths))
	for _, p := range paths {
		wf, err := readWorkflow(p)
		if err != nil {
			s.logger.Error("Failed to load workflow.", zap.String("path", p), zap.Error(err))
			continue
		}
		if wf.ID == "" {
			wf.ID = strings.TrimSuffix(filepath.Base(p), ".json")
		}
		if wf.Name == "" {
			wf.Name = untitled
		}
		out = append(out, wf.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, id string) (bool, error) {
	path, err := s.path(id)
	if err != nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	s.logger.Info("Workflow deleted.", zap.String("id", id))
	return true, nil
}

func (s *FileStore) UpdateMetadata(_ context.Context, id, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, err := s.load(id)
	if err != nil {
		return err
	}
	if name != "" {
		wf.Name = name
	}
	if description != "" {
		wf.Description = description
	}
	path, _ := s.path(id)
	if err := s.write(path, wf); err != nil {
		return err
	}
	s.logger.Info("Workflow updated.", zap.String("id", id))
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load(id string) (*schemas.RecordedWorkflow, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	wf, err := readWorkflow(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", schemas.ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	wf.ID = id
	return wf, nil
}

// path maps an id to its file. Ids that would escape the directory are
// reported as not found.
func (s *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: invalid id %q", schemas.ErrWorkflowNotFound, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) write(path string, wf *schemas.RecordedWorkflow) error {
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", wf.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".wf-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write workflow %s: %w", wf.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", wf.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to persist workflow %s: %w", wf.ID, err)
	}
	return nil
}

func readWorkflow(path string) (*schemas.RecordedWorkflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf schemas.RecordedWorkflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return &wf, nil
}
