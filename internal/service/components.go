// File: internal/service/components.go
package service

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/agent"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
	"github.com/KASPER94/browser-use-llm/internal/player"
	"github.com/KASPER94/browser-use-llm/internal/recorder"
)

// Components holds everything a command needs for one browser session.
// Fields are nil when the command did not ask for them.
type Components struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	Workflows   schemas.WorkflowStore
	Checkpoints schemas.CheckpointStore

	// Browser is closed last among the runtime pieces; the recorder, player
	// and agent all drive it.
	Browser  schemas.RecordingSurface
	LLM      schemas.LLMClient
	Grounder schemas.Grounder

	Recorder *recorder.Recorder
	Player   *player.Player
	Agent    *agent.Agent

	logger *zap.Logger
}

// Shutdown releases resources in reverse order of creation: model clients
// first, then the browser, then persistence.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Model clients. In-flight calls are bound to contexts the callers own.
	if g, ok := c.Grounder.(io.Closer); ok && g != nil {
		if err := g.Close(); err != nil {
			logger.Warn("Error closing vision client.", zap.Error(err))
		}
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	// 2. The browser.
	if b, ok := c.Browser.(io.Closer); ok && b != nil {
		if err := b.Close(); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser session closed.")
		}
	}

	// 3. Persistence.
	if cs, ok := c.Checkpoints.(io.Closer); ok && cs != nil {
		if err := cs.Close(); err != nil {
			logger.Warn("Error closing checkpoint store.", zap.Error(err))
		}
	}
	if c.Workflows != nil {
		if err := c.Workflows.Close(); err != nil {
			logger.Warn("Error closing workflow store.", zap.Error(err))
		} else {
			logger.Debug("Workflow store closed.")
		}
	}

	logger.Info("All components shut down.")
}
