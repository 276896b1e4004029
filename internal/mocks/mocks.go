// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Player() config.PlayerConfig {
	args := m.Called()
	return args.Get(0).(config.PlayerConfig)
}

func (m *MockConfig) Recorder() config.RecorderConfig {
	args := m.Called()
	return args.Get(0).(config.RecorderConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Storage() config.StorageConfig {
	args := m.Called()
	return args.Get(0).(config.StorageConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

func (m *MockConfig) Vision() config.VisionConfig {
	args := m.Called()
	return args.Get(0).(config.VisionConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)      { m.Called(b) }
func (m *MockConfig) SetPlayerVisionFallback(b bool) { m.Called(b) }
func (m *MockConfig) SetStorageDir(dir string)       { m.Called(dir) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return m.Called().Error(0) }

// -- Planner Mock --

// MockPlanner mocks schemas.Planner.
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) CreatePlan(ctx context.Context, req schemas.PlanRequest) *schemas.ExecutionPlan {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*schemas.ExecutionPlan)
}

func (m *MockPlanner) ValidateProgress(ctx context.Context, task string, obs *schemas.RichObservation) schemas.ValidationResult {
	args := m.Called(ctx, task, obs)
	return args.Get(0).(schemas.ValidationResult)
}

// -- Grounder Mock --

// MockGrounder mocks schemas.Grounder.
type MockGrounder struct {
	mock.Mock
}

func (m *MockGrounder) Locate(ctx context.Context, screenshot []byte, description string) (schemas.Point, bool, error) {
	args := m.Called(ctx, screenshot, description)
	return args.Get(0).(schemas.Point), args.Bool(1), args.Error(2)
}

func (m *MockGrounder) Verify(ctx context.Context, screenshot []byte, expectation string) (bool, error) {
	args := m.Called(ctx, screenshot, expectation)
	return args.Bool(0), args.Error(1)
}

// -- Store Mocks --

// MockWorkflowStore mocks schemas.WorkflowStore.
type MockWorkflowStore struct {
	mock.Mock
}

func (m *MockWorkflowStore) Save(ctx context.Context, wf *schemas.RecordedWorkflow) (string, error) {
	args := m.Called(ctx, wf)
	return args.String(0), args.Error(1)
}

func (m *MockWorkflowStore) Load(ctx context.Context, id string) (*schemas.RecordedWorkflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.RecordedWorkflow), args.Error(1)
}

func (m *MockWorkflowStore) List(ctx context.Context) ([]schemas.WorkflowSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.WorkflowSummary), args.Error(1)
}

func (m *MockWorkflowStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockWorkflowStore) UpdateMetadata(ctx context.Context, id, name, description string) error {
	return m.Called(ctx, id, name, description).Error(0)
}

func (m *MockWorkflowStore) Close() error { return m.Called().Error(0) }

// MockCheckpointStore mocks schemas.CheckpointStore.
type MockCheckpointStore struct {
	mock.Mock
}

func (m *MockCheckpointStore) Put(ctx context.Context, cp *schemas.Checkpoint) error {
	return m.Called(ctx, cp).Error(0)
}

func (m *MockCheckpointStore) Take(ctx context.Context, taskID string) (*schemas.Checkpoint, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Checkpoint), args.Error(1)
}

// -- Observer Mock --

// MockObserver mocks schemas.Observer.
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) Notify(ctx context.Context, ev schemas.Event) error {
	return m.Called(ctx, ev).Error(0)
}

var (
	_ config.Interface        = (*MockConfig)(nil)
	_ schemas.LLMClient       = (*MockLLMClient)(nil)
	_ schemas.Planner         = (*MockPlanner)(nil)
	_ schemas.Grounder        = (*MockGrounder)(nil)
	_ schemas.WorkflowStore   = (*MockWorkflowStore)(nil)
	_ schemas.CheckpointStore = (*MockCheckpointStore)(nil)
	_ schemas.Observer        = (*MockObserver)(nil)
)
