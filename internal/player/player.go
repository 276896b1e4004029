// Package player replays recorded workflows against a live page, resolving
// each action through a cascade of increasingly fuzzy strategies.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
	"github.com/KASPER94/browser-use-llm/internal/observability"
)

// Player executes workflows on one driver. It is not safe for concurrent use;
// the driver's page is a single shared resource.
type Player struct {
	driver   schemas.Driver
	grounder schemas.Grounder
	cfg      config.PlayerConfig
	netCfg   config.NetworkConfig
	logger   *zap.Logger
	metrics  *metrics.Collector

	weights   LinkWeights
	threshold int
}

// New creates a player. grounder and m may be nil.
func New(driver schemas.Driver, grounder schemas.Grounder, cfg config.Interface, logger *zap.Logger, m *metrics.Collector) *Player {
	pc := cfg.Player()
	threshold := pc.SmartLinkThreshold
	if threshold <= 0 {
		threshold = DefaultLinkThreshold
	}
	return &Player{
		driver:    driver,
		grounder:  grounder,
		cfg:       pc,
		netCfg:    cfg.Network(),
		logger:    logger.Named("player"),
		metrics:   m,
		weights:   DefaultLinkWeights,
		threshold: threshold,
	}
}

// Play runs every action of wf in order, substituting vars. Action failures
// are collected in the report; the returned error is reserved for
// cancellation and a missing driver. After MaxFailures failed actions the run
// stops with Aborted set.
func (p *Player) Play(ctx context.Context, wf *schemas.RecordedWorkflow, vars map[string]string) (*schemas.RunReport, error) {
	if p.driver == nil {
		return nil, schemas.ErrNotInitialized
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: no workflow", schemas.ErrActionParse)
	}
	report := &schemas.RunReport{WorkflowID: wf.ID, Success: true, Errors: []schemas.ActionError{}}

	if missing := Unresolved(wf.Actions, vars); len(missing) > 0 {
		p.logger.Warn("Workflow references variables with no value, they will be used literally.", zap.Strings("variables", missing))
	}
	p.logger.Info("Playing workflow.", zap.String("workflow_id", wf.ID), zap.String("name", wf.Name), zap.Int("actions", len(wf.Actions)))

	maxFailures := p.cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	for i, action := range wf.Actions {
		// Measured from the end of the previous action.
		delay := p.cfg.ActionDelay
		if i == 0 {
			delay = 0
		}
		if err := pause(ctx, delay); err != nil {
			return p.cancelled(report, err), err
		}
		p.logger.Info(fmt.Sprintf("[%d/%d] %s", i+1, len(wf.Actions), action.Type))

		started := time.Now()
		strategy, err := p.execute(ctx, action, vars)
		step := schemas.StepOutcome{Index: i, Type: action.Type, Strategy: strategy, Success: err == nil, Duration: time.Since(started)}
		report.Steps = append(report.Steps, step)

		if err == nil {
			report.ActionsExecuted++
			continue
		}
		if ctx.Err() != nil {
			return p.cancelled(report, ctx.Err()), ctx.Err()
		}

		p.logger.Error("Action failed.", zap.Int("index", i), zap.String("action", redacted(action).Describe()), zap.Error(err))
		report.ActionsFailed++
		report.Errors = append(report.Errors, schemas.ActionError{Index: i, Action: redacted(action), Error: err.Error()})

		if report.ActionsFailed >= maxFailures {
			report.Success = false
			report.Aborted = true
			report.AbortReason = fmt.Sprintf("%s: %d of %d actions failed", schemas.ErrTooManyFailures, report.ActionsFailed, i+1)
			p.logger.Error("Too many failures, stopping workflow.", zap.Int("failures", report.ActionsFailed))
			break
		}
	}
	return p.finish(report), nil
}

// pause waits d or until ctx ends. A non-positive d only checks ctx.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Player) cancelled(report *schemas.RunReport, err error) *schemas.RunReport {
	report.Success = false
	report.Aborted = true
	report.AbortReason = err.Error()
	return p.finish(report)
}

func (p *Player) finish(report *schemas.RunReport) *schemas.RunReport {
	p.metrics.RecordRun(report.Success, report.Aborted)
	if report.Success {
		p.logger.Info("Workflow completed.", zap.Int("executed", report.ActionsExecuted), zap.Int("failed", report.ActionsFailed))
	} else {
		p.logger.Error("Workflow failed.", zap.Int("executed", report.ActionsExecuted), zap.Int("failed", report.ActionsFailed))
	}
	return report
}

// execute runs one action and returns the strategy that resolved it.
func (p *Player) execute(ctx context.Context, a schemas.Action, vars map[string]string) (strategy string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while executing action.", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic while executing %s: %v", a.Type, r)
		}
	}()

	if err := a.Validate(); err != nil {
		return "", err
	}
	p.settle(ctx)

	a.URL = Substitute(a.URL, vars)
	a.Value = Substitute(a.Value, vars)

	switch a.Type {
	case schemas.ActionNavigate:
		if err := p.driver.Navigate(ctx, a.URL, schemas.WaitNetworkIdle, p.netCfg.NavigationTimeout); err != nil {
			return "", fmt.Errorf("navigation to %s failed: %w", a.URL, err)
		}
		p.logger.Info("Navigated.", zap.String("url", a.URL))
		return "navigate", nil
	case schemas.ActionClick:
		return p.resolve(ctx, a, p.clickCascade())
	case schemas.ActionFill:
		return p.resolve(ctx, a, p.fillCascade())
	case schemas.ActionScroll:
		if err := p.driver.ScrollTo(ctx, a.X, a.Y); err != nil {
			return "", err
		}
		return "scroll", nil
	case schemas.ActionMessage, schemas.ActionDone:
		p.logger.Warn("Skipping non-browser action in workflow.", zap.String("type", string(a.Type)))
		return "", nil
	default:
		return "", fmt.Errorf("%w: cannot replay %s action %q", schemas.ErrActionParse, a.Type, a.Text)
	}
}

// settle waits for network quiescence. Running out of time is not an error.
func (p *Player) settle(ctx context.Context) {
	if err := p.driver.WaitForQuiescence(ctx, p.netCfg.QuiescenceTimeout); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("Page did not settle, proceeding.", zap.Error(err))
	}
}

// redacted hides fill values of sensitive fields for logging.
func redacted(a schemas.Action) schemas.Action {
	if a.Type == schemas.ActionFill {
		a.Value = observability.SafeValue(a.Selector, a.Value)
	}
	return a
}
