package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/mocks"
	"github.com/KASPER94/browser-use-llm/internal/observability"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

// setupEnv points storage and logging at a temp dir through env vars and
// returns the workflow directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wfDir := filepath.Join(dir, "workflows")
	t.Setenv("BROWSERUSE_STORAGE_BACKEND", "file")
	t.Setenv("BROWSERUSE_STORAGE_DIR", wfDir)
	t.Setenv("BROWSERUSE_STORAGE_CHECKPOINT_BACKEND", "memory")
	t.Setenv("BROWSERUSE_LOGGER_LEVEL", "error")
	t.Setenv("BROWSERUSE_LOGGER_LOG_FILE", filepath.Join(dir, "test.log"))
	t.Setenv("BROWSERUSE_PLAYER_ACTION_DELAY", "0s")
	t.Setenv("BROWSERUSE_PLAYER_VISION_FALLBACK", "false")

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	return wfDir
}

// useFakeBrowser makes every command launch page instead of Chrome.
func useFakeBrowser(t *testing.T, page schemas.RecordingSurface) {
	t.Helper()
	orig := newFactory
	newFactory = func() service.ComponentFactory {
		return service.NewComponentFactory(service.WithBrowserLauncher(
			func(context.Context, config.Interface, *zap.Logger) (schemas.RecordingSurface, error) {
				return page, nil
			}))
	}
	t.Cleanup(func() { newFactory = orig })
}

// executeCommand runs a fresh command tree and returns its stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.PlayerCfg.ActionDelay = 0
	cfg.PlayerCfg.VisionFallback = false
	cfg.StorageCfg.Backend = config.StorageFile
	cfg.StorageCfg.Dir = t.TempDir()
	return cfg
}

// newTestController builds store, recorder and player around page.
func newTestController(t *testing.T, page schemas.RecordingSurface) (*service.Controller, *service.Components) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := service.NewComponentFactory(service.WithBrowserLauncher(
		func(context.Context, config.Interface, *zap.Logger) (schemas.RecordingSurface, error) {
			return page, nil
		}))
	c, err := f.Create(context.Background(), testConfig(t), service.NeedBrowser, logger)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return service.NewController(c, logger), c
}

func searchPage() *mocks.FakePage {
	return mocks.NewFakePage("about:blank",
		&mocks.FakeElement{Tag: "input", ID: "q", Attrs: map[string]string{"name": "q"}},
		&mocks.FakeElement{Tag: "button", ID: "go", Text: "Go"},
	)
}
