// Package session assembles runnable agent loops from configuration. The CLI and the
// daemon share it.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/deskpilot/deskpilot/internal/agent"
	"github.com/deskpilot/deskpilot/internal/config"
	"github.com/deskpilot/deskpilot/internal/desktop"
	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/llm/configbuilder"
	"github.com/deskpilot/deskpilot/internal/observability"
	"github.com/deskpilot/deskpilot/internal/ratelimit"
	"github.com/deskpilot/deskpilot/internal/steps"
	"github.com/deskpilot/deskpilot/internal/tools"
)

// Resources are the long-lived dependencies shared by every run of a process.
type Resources struct {
	Config   *config.Config
	Registry *llm.Registry
	Effector desktop.Effector
	Steps    steps.Navigator
	Logger   *zap.Logger
	Metrics  *observability.Metrics

	pacer   *ratelimit.Pacer
	closers []func()
}

// Option overrides a dependency Open would otherwise build from configuration.
type Option func(*Resources)

// WithRegistry uses reg instead of building providers from config.
func WithRegistry(reg *llm.Registry) Option {
	return func(r *Resources) { r.Registry = reg }
}

// WithEffector uses eff instead of xdotool.
func WithEffector(eff desktop.Effector) Option {
	return func(r *Resources) { r.Effector = eff }
}

// WithSteps uses nav instead of the configured backend.
func WithSteps(nav steps.Navigator) Option {
	return func(r *Resources) { r.Steps = nav }
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resources) { r.Metrics = m }
}

// Open builds the provider registry, the desktop effector and the step graph.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Resources, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resources{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	if r.Registry == nil {
		reg, err := configbuilder.BuildRegistryFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build registry: %w", err)
		}
		r.Registry = reg
	}

	if r.Effector == nil {
		r.Effector = NewEffector(cfg.Desktop)
	}

	if r.Steps == nil {
		nav, closeFn, err := OpenSteps(ctx, cfg.Steps, logger)
		if err != nil {
			return nil, err
		}
		r.Steps = nav
		if closeFn != nil {
			r.closers = append(r.closers, closeFn)
		}
	}

	r.pacer = ratelimit.NewPacer(cfg.RateLimit.RequestsPerMinute)
	return r, nil
}

// Close releases database connections.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// NewEffector builds the xdotool effector for cfg.
func NewEffector(cfg config.DesktopConfig) *desktop.XDoTool {
	runner := &desktop.CommandRunner{Display: cfg.Display, Timeout: cfg.CommandTimeout}
	x := desktop.NewXDoTool(runner, desktop.XDoToolConfig{
		Binary:     cfg.XDoTool,
		Screenshot: cfg.ScreenshotCommand,
		TypeDelay:  cfg.TypeDelay,
	})
	// Only the two configured helpers may run.
	runner.Allowed = x.Commands()
	return x
}

// OpenSteps returns the navigator selected by cfg.Backend, or nil for "none".
// The postgres backend imports cfg.File first when it is set.
func OpenSteps(ctx context.Context, cfg config.StepsConfig, logger *zap.Logger) (steps.Navigator, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil, nil
	case "memory":
		specs, err := steps.Load(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		return steps.NewMemoryGraph(specs), nil, nil
	case "postgres":
		graph, closeFn, err := OpenPostgres(ctx, cfg.DSN, cfg.DSNPasswordFile, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.File != "" {
			specs, err := steps.Load(cfg.File)
			if err == nil {
				err = graph.Import(ctx, specs)
			}
			if err != nil {
				closeFn()
				return nil, nil, err
			}
		}
		return graph, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown steps backend %q", cfg.Backend)
	}
}

// OpenPostgres connects to dsn, ensures the schema and returns the graph with its closer.
func OpenPostgres(ctx context.Context, dsn, passwordFile string, logger *zap.Logger) (*steps.PostgresGraph, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse steps dsn: %w", err)
	}
	if passwordFile != "" {
		pw, err := config.ReadSecret(passwordFile)
		if err != nil {
			return nil, nil, err
		}
		poolCfg.ConnConfig.Password = pw
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect steps database: %w", err)
	}
	graph, err := steps.NewPostgresGraph(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := graph.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return graph, pool.Close, nil
}

// Request describes one run.
type Request struct {
	Task string
	// ProcessText is appended to the task as a plain-text process description.
	ProcessText string
	// Model is a logical model name; empty selects agent.model or the default route.
	Model         string
	MaxIterations int
	MaxTokens     int
	ScreenshotDir string
}

// Hooks observe a run in progress.
type Hooks struct {
	Observer agent.Observer
	Throttle func(ratelimit.Throttle)
}

// Prepared is a loop ready to run together with its user prompt.
type Prepared struct {
	Loop   *agent.Loop
	Prompt string
	Model  string
}

// Run executes the prepared loop.
func (p *Prepared) Run(ctx context.Context) agent.Outcome {
	return p.Loop.Run(ctx, p.Prompt)
}

// Prepare resolves the model and builds a loop for req.
func (r *Resources) Prepare(req Request, hooks Hooks) (*Prepared, error) {
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, errors.New("task cannot be empty")
	}
	cfg := r.Config

	model := req.Model
	if model == "" {
		model = cfg.Agent.Model
	}
	provider, route, err := r.Registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	processText := req.ProcessText
	if processText == "" && cfg.Agent.ProcessTextFile != "" {
		data, err := os.ReadFile(cfg.Agent.ProcessTextFile)
		if err != nil {
			return nil, fmt.Errorf("read process text: %w", err)
		}
		processText = string(data)
	}

	withSteps := r.Steps != nil
	systemPrompt, err := r.systemPrompt(withSteps)
	if err != nil {
		return nil, err
	}

	maxTokens := firstPositive(req.MaxTokens, route.MaxTokens, cfg.Agent.MaxTokens)
	maxIterations := firstPositive(req.MaxIterations, cfg.Agent.MaxIterations)

	screenshotDir := req.ScreenshotDir
	if screenshotDir == "" {
		screenshotDir = cfg.Desktop.ScreenshotDir
	}

	dispatchOpts := []tools.Option{
		tools.WithSettleDelay(cfg.Desktop.SettleDelay),
		tools.WithScrollMultiplier(cfg.Desktop.ScrollMultiplier),
		tools.WithLogger(r.Logger),
		tools.WithMetrics(r.Metrics),
	}
	if screenshotDir != "" {
		dispatchOpts = append(dispatchOpts, tools.WithScreenshotStore(&tools.ScreenshotStore{Dir: screenshotDir}))
	}
	if withSteps {
		dispatchOpts = append(dispatchOpts, tools.WithSteps(r.Steps))
	}
	dispatcher := tools.NewDispatcher(r.Effector, dispatchOpts...)

	display := tools.Display{Width: cfg.Desktop.DisplayWidth, Height: cfg.Desktop.DisplayHeight}
	toolRegistry := tools.NewRegistry(display, withSteps)

	retrier := ratelimit.Wrap(provider,
		ratelimit.WithFudge(cfg.RateLimit.Fudge),
		ratelimit.WithPacer(r.pacer),
		ratelimit.WithLogger(r.Logger),
		ratelimit.WithMetrics(r.Metrics),
		ratelimit.WithThrottleHook(hooks.Throttle),
	)

	loop, err := agent.NewLoop(retrier, dispatcher, toolRegistry.ToolSchemas(), agent.Config{
		Model:              route.Model,
		SystemPrompt:       systemPrompt,
		MaxIterations:      maxIterations,
		MaxTokens:          maxTokens,
		HistoryWindow:      cfg.Agent.HistoryWindow,
		EmptyStreamRetries: cfg.Agent.EmptyStreamRetries,
	},
		agent.WithLogger(r.Logger),
		agent.WithMetrics(r.Metrics),
		agent.WithObserver(hooks.Observer),
	)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Loop:   loop,
		Prompt: agent.BuildUserPrompt(task, processText),
		Model:  route.Name,
	}, nil
}

func (r *Resources) systemPrompt(withSteps bool) (string, error) {
	if path := r.Config.Agent.SystemPromptFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read system prompt: %w", err)
		}
		return string(data), nil
	}
	stepsTool := ""
	if withSteps {
		stepsTool = tools.StepsTool
	}
	return agent.BuildSystemPrompt(stepsTool, time.Now()), nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
