// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/observability"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

// withComponents builds the requested components, runs fn and shuts the
// components down however fn returns.
func withComponents(cmd *cobra.Command, needs service.Needs, fn func(ctx context.Context, cfg *config.Config, c *service.Components, logger *zap.Logger) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	components, err := newFactory().Create(ctx, cfg, needs, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	return fn(ctx, cfg, components, logger)
}
