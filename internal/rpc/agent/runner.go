package agent

import (
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deskpilot/deskpilot/internal/agent"
	"github.com/deskpilot/deskpilot/internal/ratelimit"
	"github.com/deskpilot/deskpilot/internal/rpc"
	"github.com/deskpilot/deskpilot/internal/runstore"
	"github.com/deskpilot/deskpilot/internal/session"
)

// ErrBusy is returned while another task owns the desktop.
var ErrBusy = errors.New("another task is running on this desktop")

// Runner executes a task and yields streamed events. Callers must drain the channel until
// it is closed; cancelling the request context ends the run early.
type Runner interface {
	Run(r *http.Request, req rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error)
}

// AgentRunner bridges the agent loop to RPC events. There is one desktop, so runs are
// serialized: a second request while one is active fails with ErrBusy.
type AgentRunner struct {
	Resources *session.Resources
	// RunsDir receives one artifact directory per run; empty disables artifacts.
	RunsDir string
	Logger  *zap.Logger

	mu   sync.Mutex
	busy bool
}

// Run starts the task in the background and streams its events until the outcome.
func (r *AgentRunner) Run(reqCtx *http.Request, req rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error) {
	if r.Resources == nil {
		return nil, errors.New("agent unavailable")
	}
	if !r.acquire() {
		return nil, ErrBusy
	}

	ctx := reqCtx.Context()
	runID := runstore.NewRunID()
	base := rpc.RunTaskEvent{SessionID: req.SessionID, CorrelationID: req.CorrelationID, RunID: runID}
	out := make(chan rpc.RunTaskEvent, 32)

	send := func(ev rpc.RunTaskEvent) {
		ev.SessionID, ev.CorrelationID, ev.RunID = base.SessionID, base.CorrelationID, base.RunID
		out <- ev
	}

	prepared, err := r.Resources.Prepare(session.Request{
		Task:          req.Prompt,
		ProcessText:   req.ProcessText,
		Model:         req.Model,
		MaxIterations: req.MaxIterations,
		MaxTokens:     req.MaxTokens,
		ScreenshotDir: r.runDir(runID, "screenshots"),
	}, session.Hooks{
		Observer: func(ev agent.Event) {
			if converted, ok := convertEvent(ev); ok {
				send(converted)
			}
		},
		Throttle: func(th ratelimit.Throttle) {
			send(rpc.RunTaskEvent{Type: rpc.EventThrottle, Attempt: th.Attempt, WaitMillis: th.Wait.Milliseconds()})
		},
	})
	if err != nil {
		r.release()
		return nil, err
	}

	logger := r.logger().With(zap.String("run_id", runID), zap.String("session_id", req.SessionID))
	go func() {
		defer close(out)
		defer r.release()

		started := time.Now()
		logger.Info("run started", zap.String("model", prepared.Model))
		outcome := prepared.Run(ctx)
		r.writeArtifacts(logger, runID, req, prepared.Model, started, outcome)

		done := rpc.RunTaskEvent{
			Type:         rpc.EventDone,
			Done:         true,
			State:        string(outcome.State),
			FinishReason: finishReason(outcome),
			Iteration:    outcome.Iterations,
			Actions:      outcome.Actions,
			CursorStepID: outcome.CursorStepID,
		}
		if outcome.Err != nil {
			done.Error = outcome.Err.Error()
		}
		send(done)
	}()
	return out, nil
}

func (r *AgentRunner) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return false
	}
	r.busy = true
	return true
}

func (r *AgentRunner) release() {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

func (r *AgentRunner) runDir(runID string, elem ...string) string {
	if r.RunsDir == "" {
		return ""
	}
	return filepath.Join(append([]string{r.RunsDir, runID}, elem...)...)
}

func (r *AgentRunner) writeArtifacts(logger *zap.Logger, runID string, req rpc.RunTaskRequest, model string, started time.Time, outcome agent.Outcome) {
	dir := r.runDir(runID)
	if dir == "" {
		return
	}
	if err := runstore.WriteActionCount(dir, outcome.Actions); err != nil {
		logger.Error("write action count", zap.Error(err))
	}
	meta := runstore.Meta{
		RunID:        runID,
		Task:         req.Prompt,
		Model:        model,
		State:        string(outcome.State),
		Reason:       outcome.Reason,
		Iterations:   outcome.Iterations,
		Actions:      outcome.Actions,
		CursorStepID: outcome.CursorStepID,
		StartedAt:    started.UTC(),
		Duration:     outcome.Duration,
	}
	if outcome.Err != nil {
		meta.Error = outcome.Err.Error()
	}
	if err := runstore.WriteMeta(dir, meta); err != nil {
		logger.Error("write run meta", zap.Error(err))
	}
}

func (r *AgentRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// convertEvent maps loop events onto the wire. The terminal event is sent by the runner
// once artifacts are written.
func convertEvent(ev agent.Event) (rpc.RunTaskEvent, bool) {
	switch ev.Type {
	case agent.EventState:
		return rpc.RunTaskEvent{Type: rpc.EventState, State: string(ev.State), Iteration: ev.Iteration, Actions: ev.Actions}, true
	case agent.EventIteration:
		return rpc.RunTaskEvent{Type: rpc.EventIteration, Iteration: ev.Iteration, Actions: ev.Actions}, true
	case agent.EventMessage:
		return rpc.RunTaskEvent{Type: rpc.EventMessage, Iteration: ev.Iteration, Message: ev.Text}, true
	case agent.EventAction:
		return rpc.RunTaskEvent{
			Type:      rpc.EventAction,
			Iteration: ev.Iteration,
			Actions:   ev.Actions,
			Action:    string(ev.Action),
			ToolUseID: ev.ToolUseID,
			Message:   ev.Text,
			IsError:   ev.IsError,
		}, true
	}
	return rpc.RunTaskEvent{}, false
}

func finishReason(o agent.Outcome) string {
	if o.Done() {
		return "completed"
	}
	return o.Reason
}

var _ Runner = (*AgentRunner)(nil)
