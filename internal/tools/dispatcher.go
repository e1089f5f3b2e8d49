package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deskpilot/deskpilot/internal/desktop"
	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/observability"
	"github.com/deskpilot/deskpilot/internal/steps"
)

// ErrStepsUnavailable is returned for navigation actions when no documentation graph is configured.
var ErrStepsUnavailable = errors.New("process documentation is not configured")

// Result is the outcome of one dispatched tool invocation.
type Result struct {
	ToolUseID string
	Action    ActionKind
	Text      string
	Image     *llm.ImageBlock
	// Path is where a screenshot was stored.
	Path    string
	IsError bool
}

// Block renders the result as a tool-result content block.
func (r Result) Block() *llm.ToolResultBlock {
	b := &llm.ToolResultBlock{ToolUseID: r.ToolUseID, IsError: r.IsError}
	switch {
	case r.Image != nil:
		b.Content = []llm.Block{r.Image}
	case r.Text != "":
		b.Content = []llm.Block{&llm.TextBlock{Text: r.Text}}
	}
	return b
}

// Dispatcher applies model actions to the desktop and the documentation graph.
type Dispatcher struct {
	effector    desktop.Effector
	steps       steps.Navigator
	screenshots *ScreenshotStore
	settle      time.Duration
	scrollUnits int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSteps enables prev/next/curr against nav.
func WithSteps(nav steps.Navigator) Option {
	return func(d *Dispatcher) { d.steps = nav }
}

// WithScreenshotStore persists every capture.
func WithScreenshotStore(s *ScreenshotStore) Option {
	return func(d *Dispatcher) { d.screenshots = s }
}

// WithSettleDelay sets the pause after physical actions.
func WithSettleDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.settle = delay }
}

// WithScrollMultiplier sets the scroll units per requested step.
func WithScrollMultiplier(units int) Option {
	return func(d *Dispatcher) {
		if units > 0 {
			d.scrollUnits = units
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records action counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher builds a dispatcher for eff.
func NewDispatcher(eff desktop.Effector, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		effector:    eff,
		settle:      200 * time.Millisecond,
		scrollUnits: 100,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HasSteps reports whether navigation actions are available.
func (d *Dispatcher) HasSteps() bool {
	return d.steps != nil
}

// Dispatch validates and applies one invocation. Failures are reported in the result, never
// returned; state.Actions grows by one for each successful action.
func (d *Dispatcher) Dispatch(ctx context.Context, state *RunState, inv llm.ToolInvocation) Result {
	res := Result{ToolUseID: inv.ID}
	logger := d.logger.With(zap.String("tool", inv.Name), zap.String("tool_use_id", inv.ID))
	if inv.ParseErr != nil {
		logger.Warn("tool input was not valid JSON, using empty input", zap.String("raw", inv.Raw), zap.Error(inv.ParseErr))
	}

	act, err := ParseAction(inv.Input)
	if err == nil && !act.Kind.BelongsTo(inv.Name) {
		err = fmt.Errorf("tool %q has no action %q", inv.Name, act.Kind)
	}
	if err != nil {
		name, _ := inv.Input["action"].(string)
		res.Action = ActionKind(name)
		msg := fmt.Sprintf("unknown action or missing parameters: %v (input: %v)", err, inv.Input)
		logger.Error("invalid action", zap.Error(err))
		return d.fail(res, msg)
	}
	res.Action = act.Kind

	if err := d.apply(ctx, state, act, &res); err != nil {
		logger.Error("action failed", zap.String("action", string(act.Kind)), zap.Error(err))
		return d.fail(res, err.Error())
	}
	state.Actions++
	d.metrics.RecordAction(string(act.Kind), false)

	if act.Kind.Physical() && d.settle > 0 {
		if err := d.effector.Sleep(ctx, d.settle); err != nil {
			logger.Debug("settle delay interrupted", zap.Error(err))
		}
	}

	logger.Info("action applied",
		zap.String("action", string(act.Kind)),
		zap.Int("actions", state.Actions),
	)
	return res
}

func (d *Dispatcher) fail(res Result, msg string) Result {
	res.Text = msg
	res.IsError = true
	res.Image = nil
	d.metrics.RecordAction(string(res.Action), true)
	return res
}

func (d *Dispatcher) apply(ctx context.Context, state *RunState, act Action, res *Result) error {
	switch act.Kind {
	case ActionScreenshot:
		return d.screenshot(ctx, res)
	case ActionMouseMove:
		if act.Coordinate == nil {
			return nil
		}
		return d.effector.MoveTo(ctx, *act.Coordinate)
	case ActionLeftClick:
		return d.effector.Click(ctx, desktop.ClickLeft, act.Coordinate)
	case ActionRightClick:
		return d.effector.Click(ctx, desktop.ClickRight, act.Coordinate)
	case ActionDoubleClick:
		return d.effector.Click(ctx, desktop.ClickDouble, act.Coordinate)
	case ActionType:
		return d.effector.Write(ctx, act.Text)
	case ActionKey:
		return d.effector.Press(ctx, act.Text)
	case ActionScroll:
		return d.scroll(ctx, act.Direction, act.Amount*d.scrollUnits)
	case ActionWait:
		return d.effector.Sleep(ctx, act.Duration)
	case ActionPrev, ActionNext, ActionCurr:
		return d.navigate(ctx, state, act.Kind, res)
	default:
		return fmt.Errorf("unsupported action %q", act.Kind)
	}
}

func (d *Dispatcher) scroll(ctx context.Context, dir ScrollDirection, units int) error {
	switch dir {
	case ScrollUp:
		return d.effector.VScroll(ctx, units)
	case ScrollDown:
		return d.effector.VScroll(ctx, -units)
	case ScrollLeft:
		return d.effector.HScroll(ctx, -units)
	case ScrollRight:
		return d.effector.HScroll(ctx, units)
	default:
		return fmt.Errorf("unsupported scroll direction %q", dir)
	}
}

func (d *Dispatcher) screenshot(ctx context.Context, res *Result) error {
	data, err := d.effector.Capture(ctx)
	if err != nil {
		return err
	}
	if d.screenshots != nil {
		path, err := d.screenshots.Save(data)
		if err != nil {
			return err
		}
		res.Path = path
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/png"
	}
	res.Image = &llm.ImageBlock{
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}
	d.logger.Info("screenshot captured", zap.String("path", res.Path), zap.Int("bytes", len(data)))
	return nil
}

func (d *Dispatcher) navigate(ctx context.Context, state *RunState, kind ActionKind, res *Result) error {
	if d.steps == nil {
		return ErrStepsUnavailable
	}
	var (
		step steps.Step
		err  error
	)
	switch kind {
	case ActionPrev:
		step, err = d.steps.Previous(ctx, state.CursorStepID)
	case ActionNext:
		step, err = d.steps.Next(ctx, state.CursorStepID)
	default:
		step, err = d.steps.Current(ctx, state.CursorStepID)
	}
	if err != nil {
		return err
	}
	state.CursorStepID = step.ID
	res.Text = step.Description
	d.logger.Info("process step", zap.String("action", string(kind)), zap.Int("step", step.ID))
	return nil
}
