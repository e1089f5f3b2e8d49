package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deskpilot/deskpilot/internal/history"
	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/observability"
	"github.com/deskpilot/deskpilot/internal/tools"
)

// Loop drives the conversation: request, decode, dispatch, repeat.
type Loop struct {
	provider   llm.Provider
	dispatcher *tools.Dispatcher
	tools      []llm.ToolSchema
	cfg        Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	observer   Observer
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records iterations and run outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithObserver receives run events.
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observer = o }
}

// NewLoop validates cfg and builds a loop.
func NewLoop(provider llm.Provider, dispatcher *tools.Dispatcher, toolSchemas []llm.ToolSchema, cfg Config, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.MaxIterations <= 0 {
		return nil, errors.New("max iterations must be > 0")
	}
	if cfg.MaxTokens <= 0 {
		return nil, errors.New("max tokens must be > 0")
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = history.DefaultWindow
	}
	if cfg.HistoryWindow < 0 || cfg.HistoryWindow%2 != 0 {
		return nil, fmt.Errorf("history window must be a positive even number, got %d", cfg.HistoryWindow)
	}
	if cfg.EmptyStreamRetries < 0 {
		return nil, errors.New("empty stream retries must be >= 0")
	}
	l := &Loop{
		provider:   provider,
		dispatcher: dispatcher,
		tools:      toolSchemas,
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run executes the task until the model stops calling tools, the iteration budget is spent,
// ctx is cancelled, or an unrecoverable error occurs.
func (l *Loop) Run(ctx context.Context, prompt string) Outcome {
	start := time.Now()
	state := &tools.RunState{}
	if l.dispatcher.HasSteps() {
		state.CursorStepID = 1
	}

	hist, err := history.New(llm.UserText(prompt), l.cfg.HistoryWindow)
	if err != nil {
		return l.finish(start, state, 0, StateAborted, ReasonProviderError, err)
	}

	completed := 0
	for i := 1; i <= l.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return l.finish(start, state, completed, StateAborted, ReasonCancelled, err)
		}

		state.Iteration = i
		l.transition(StateRunning, state)
		l.logger.Info(fmt.Sprintf("=== Iteration %d/%d with %d actions ===", i, l.cfg.MaxIterations, state.Actions))
		l.emit(Event{Type: EventIteration, Iteration: i, Actions: state.Actions})
		l.metrics.RecordIteration()

		l.transition(StateAwaitingProvider, state)
		decoded, err := l.request(ctx, hist)
		if err != nil {
			reason := ReasonProviderError
			var decErr *llm.DecodeError
			switch {
			case ctx.Err() != nil:
				reason, err = ReasonCancelled, ctx.Err()
			case errors.As(err, &decErr):
				reason = ReasonDecodeError
			case errors.Is(err, llm.ErrEmptyStream):
				reason = ReasonEmptyResponse
			}
			return l.finish(start, state, completed, StateAborted, reason, err)
		}

		hist.Append(decoded.AssistantMessage())
		if text := decoded.Text(); text != "" {
			l.logger.Info("assistant message", zap.String("text", text))
			l.emit(Event{Type: EventMessage, Iteration: i, Actions: state.Actions, Text: text})
		}

		if len(decoded.Invocations) == 0 {
			l.logger.Info("task finished", zap.Int("iteration", i))
			return l.finish(start, state, i, StateDone, "", nil)
		}

		l.transition(StateDispatching, state)
		results := make([]llm.Block, 0, len(decoded.Invocations))
		imageTurn := false
		for _, inv := range decoded.Invocations {
			res := l.dispatcher.Dispatch(ctx, state, inv)
			if res.Image != nil {
				imageTurn = true
			}
			results = append(results, res.Block())
			l.emit(Event{
				Type:      EventAction,
				Iteration: i,
				Actions:   state.Actions,
				Action:    res.Action,
				ToolUseID: res.ToolUseID,
				Text:      res.Text,
				IsError:   res.IsError,
			})
		}

		if imageTurn {
			if n := hist.StripStaleImages(); n > 0 {
				l.logger.Debug("stale images stripped", zap.Int("count", n))
			}
		}
		hist.Append(llm.Message{Role: llm.RoleUser, Content: results})
		if dropped := hist.Truncate(imageTurn); dropped > 0 {
			l.logger.Debug("history truncated", zap.Int("dropped", dropped), zap.Int("kept", hist.Len()))
		}
		completed = i
	}

	l.logger.Warn("iteration budget exhausted", zap.Int("max_iterations", l.cfg.MaxIterations))
	return l.finish(start, state, completed, StateAborted, ReasonBudgetExhausted, nil)
}

// request sends the conversation and decodes the reply, re-issuing the identical request
// when the service answers with an empty stream.
func (l *Loop) request(ctx context.Context, hist *history.Log) (llm.Decoded, error) {
	req := llm.Request{
		Model:     l.cfg.Model,
		System:    l.cfg.SystemPrompt,
		Messages:  hist.Messages(),
		Tools:     l.tools,
		MaxTokens: l.cfg.MaxTokens,
	}
	for attempt := 0; ; attempt++ {
		stream, err := l.provider.Stream(ctx, req)
		if err != nil {
			return llm.Decoded{}, err
		}
		decoded, err := llm.Decode(stream)
		if cerr := stream.Close(); cerr != nil {
			l.logger.Debug("close stream", zap.Error(cerr))
		}
		if err != nil {
			return llm.Decoded{}, err
		}
		if !decoded.Empty() {
			return decoded, nil
		}
		if attempt >= l.cfg.EmptyStreamRetries {
			return llm.Decoded{}, llm.ErrEmptyStream
		}
		l.logger.Warn("empty response stream, re-issuing request", zap.Int("attempt", attempt+1))
	}
}

func (l *Loop) transition(s State, state *tools.RunState) {
	l.emit(Event{Type: EventState, State: s, Iteration: state.Iteration, Actions: state.Actions})
}

func (l *Loop) finish(start time.Time, state *tools.RunState, iterations int, s State, reason string, err error) Outcome {
	out := Outcome{
		State:        s,
		Reason:       reason,
		Iterations:   iterations,
		Actions:      state.Actions,
		CursorStepID: state.CursorStepID,
		Duration:     time.Since(start),
		Err:          err,
	}

	fields := []zap.Field{
		zap.String("state", string(s)),
		zap.Int("iterations", iterations),
		zap.Int("actions", state.Actions),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if s == StateDone {
		l.logger.Info("agent loop finished", fields...)
	} else {
		l.logger.Warn("agent loop aborted", fields...)
	}

	l.metrics.RecordRun(string(s), reason, out.Duration)
	l.emit(Event{Type: EventState, State: s, Iteration: state.Iteration, Actions: state.Actions})
	l.emit(Event{Type: EventDone, State: s, Iteration: iterations, Actions: state.Actions, Text: reason, Outcome: &out})
	return out
}

func (l *Loop) emit(ev Event) {
	if l.observer != nil {
		l.observer(ev)
	}
}
