package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	desktopmock "github.com/deskpilot/deskpilot/internal/desktop/mock"
	"github.com/deskpilot/deskpilot/internal/llm"
	llmmock "github.com/deskpilot/deskpilot/internal/llm/mock"
	"github.com/deskpilot/deskpilot/internal/steps"
	"github.com/deskpilot/deskpilot/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLoop(t *testing.T, provider llm.Provider, cfg Config, opts ...tools.Option) (*Loop, *desktopmock.Effector, *[]Event) {
	t.Helper()
	eff := &desktopmock.Effector{}
	disp := tools.NewDispatcher(eff, append([]tools.Option{tools.WithSettleDelay(0)}, opts...)...)
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 10
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	cfg.Model = "test-model"
	var events []Event
	loop, err := NewLoop(provider, disp, tools.NewRegistry(tools.Display{Width: 1280, Height: 800}, disp.HasSteps()).ToolSchemas(), cfg,
		WithObserver(func(ev Event) { events = append(events, ev) }))
	require.NoError(t, err)
	return loop, eff, &events
}

func screenshotCall(id string) llmmock.ToolCall {
	return llmmock.ToolCall{ID: id, Name: tools.ComputerTool, Input: `{"action":"screenshot"}`}
}

func TestRunFinishesWhenModelStopsCallingTools(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{llmmock.TextResponse("All done.")}}
	loop, _, events := newTestLoop(t, provider, Config{})

	out := loop.Run(context.Background(), "open the browser")
	require.Equal(t, StateDone, out.State)
	require.True(t, out.Done())
	require.Equal(t, 1, out.Iterations)
	require.Zero(t, out.Actions)
	require.NoError(t, out.Err)

	last := (*events)[len(*events)-1]
	require.Equal(t, EventDone, last.Type)
	require.Equal(t, out.Iterations, last.Outcome.Iterations)

	req := provider.Requests()[0]
	require.Equal(t, "test-model", req.Model)
	require.Equal(t, 1024, req.MaxTokens)
	require.Len(t, req.Tools, 1)
	require.Len(t, req.Messages, 1)
}

func TestRunBudgetExhausted(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("", screenshotCall("t1")),
	}}
	loop, _, _ := newTestLoop(t, provider, Config{MaxIterations: 1})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateAborted, out.State)
	require.Equal(t, ReasonBudgetExhausted, out.Reason)
	require.Equal(t, 1, out.Iterations)
	require.Equal(t, 1, out.Actions)
	require.Equal(t, 1, provider.Calls())
}

func TestRunDispatchesInDecodeOrderAndFeedsResultsBack(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("Clicking.",
			llmmock.ToolCall{ID: "a", Name: tools.ComputerTool, Input: `{"action":"left_click","coordinate":[1,2]}`},
			llmmock.ToolCall{ID: "b", Name: tools.ComputerTool, Input: `{"action":"type","text":"hi"}`},
			llmmock.ToolCall{ID: "c", Name: tools.ComputerTool, Input: `{"action":"fly"}`},
		),
		llmmock.TextResponse("done"),
	}}
	loop, eff, _ := newTestLoop(t, provider, Config{})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateDone, out.State)
	require.Equal(t, 2, out.Iterations)
	require.Equal(t, 2, out.Actions)
	require.Equal(t, []string{"Click", "Write"}, eff.Methods())

	second := provider.Requests()[1]
	require.Len(t, second.Messages, 3)
	require.Equal(t, llm.RoleAssistant, second.Messages[1].Role)
	require.Len(t, second.Messages[1].Content, 4)

	results := second.Messages[2]
	require.Equal(t, llm.RoleUser, results.Role)
	require.Len(t, results.Content, 3)
	ids := make([]string, 0, 3)
	for _, b := range results.Content {
		tr := b.(*llm.ToolResultBlock)
		ids = append(ids, tr.ToolUseID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
	require.True(t, results.Content[2].(*llm.ToolResultBlock).IsError)
}

func TestRunStripsStaleImages(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("", screenshotCall("s1")),
		llmmock.ToolResponse("", screenshotCall("s2")),
		llmmock.TextResponse("done"),
	}}
	loop, _, _ := newTestLoop(t, provider, Config{})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateDone, out.State)
	require.Equal(t, 2, out.Actions)

	msgs := provider.Requests()[2].Messages
	require.Len(t, msgs, 5)
	first := msgs[2].Content[0].(*llm.ToolResultBlock).Content[0].(*llm.ImageBlock)
	latest := msgs[4].Content[0].(*llm.ToolResultBlock).Content[0].(*llm.ImageBlock)
	require.Empty(t, first.Data)
	require.NotEmpty(t, latest.Data)
}

func TestRunTruncatesHistoryAfterImageTurns(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("", screenshotCall("s")),
	}}
	loop, _, _ := newTestLoop(t, provider, Config{MaxIterations: 4, HistoryWindow: 2})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, ReasonBudgetExhausted, out.Reason)

	reqs := provider.Requests()
	require.Len(t, reqs, 4)
	for _, req := range reqs[1:] {
		require.Len(t, req.Messages, 3)
		require.Equal(t, "task", req.Messages[0].Content[0].(*llm.TextBlock).Text)
		require.Equal(t, llm.RoleAssistant, req.Messages[1].Role)
	}
}

func TestRunDecodeErrorAborts(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{{Events: []llm.StreamEvent{
		llm.BlockDelta{Index: 2, Kind: llm.DeltaText, Payload: "x"},
	}}}}
	loop, _, _ := newTestLoop(t, provider, Config{})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateAborted, out.State)
	require.Equal(t, ReasonDecodeError, out.Reason)
	var decErr *llm.DecodeError
	require.ErrorAs(t, out.Err, &decErr)
	require.Zero(t, out.Iterations)
}

func TestRunTruncatedToolUseAborts(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{{Events: []llm.StreamEvent{
		llm.BlockStart{Index: 0, Block: &llm.ToolUseBlock{ID: "t1", Name: tools.ComputerTool}},
		llm.BlockDelta{Index: 0, Kind: llm.DeltaInputJSON, Payload: `{"action":"scre`},
	}}}}
	loop, eff, _ := newTestLoop(t, provider, Config{})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateAborted, out.State)
	require.Equal(t, ReasonDecodeError, out.Reason)
	var decErr *llm.DecodeError
	require.ErrorAs(t, out.Err, &decErr)
	require.Zero(t, out.Actions)
	require.Empty(t, eff.Calls())
}

func TestRunProviderErrorAborts(t *testing.T) {
	boom := errors.New("invalid request")
	provider := &llmmock.Provider{Responses: []llmmock.Response{{Err: boom}}}
	loop, _, _ := newTestLoop(t, provider, Config{})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, ReasonProviderError, out.Reason)
	require.ErrorIs(t, out.Err, boom)
}

func TestRunEmptyStreamIsRetriedThenAborts(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{{}}}
	loop, _, _ := newTestLoop(t, provider, Config{EmptyStreamRetries: 2})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, ReasonEmptyResponse, out.Reason)
	require.ErrorIs(t, out.Err, llm.ErrEmptyStream)
	require.Equal(t, 3, provider.Calls())
}

func TestRunEmptyStreamRecovers(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{{}, llmmock.TextResponse("ok")}}
	loop, _, _ := newTestLoop(t, provider, Config{EmptyStreamRetries: 1})

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateDone, out.State)
	require.Equal(t, 2, provider.Calls())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{llmmock.TextResponse("never")}}
	loop, _, _ := newTestLoop(t, provider, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := loop.Run(ctx, "task")
	require.Equal(t, StateAborted, out.State)
	require.Equal(t, ReasonCancelled, out.Reason)
	require.Zero(t, provider.Calls())
}

func TestRunCancelledAtIterationBoundary(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("", llmmock.ToolCall{ID: "w", Name: tools.ComputerTool, Input: `{"action":"wait","duration":1}`}),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eff := &desktopmock.Effector{}
	disp := tools.NewDispatcher(eff)
	loop, err := NewLoop(provider, disp, nil, Config{MaxIterations: 5, MaxTokens: 10}, WithObserver(func(ev Event) {
		if ev.Type == EventAction {
			cancel()
		}
	}))
	require.NoError(t, err)

	out := loop.Run(ctx, "task")
	require.Equal(t, ReasonCancelled, out.Reason)
	require.Equal(t, 1, out.Iterations)
	require.Equal(t, 1, out.Actions)
	require.Equal(t, 1, provider.Calls())
}

func TestRunNavigatesProcessSteps(t *testing.T) {
	next := 2
	graph := steps.NewMemoryGraph([]steps.Spec{
		{ID: 1, Description: "Open the portal", Next: &next},
		{ID: 2, Description: "Sign in"},
	})
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("", llmmock.ToolCall{ID: "n", Name: tools.StepsTool, Input: `{"action":"next"}`}),
		llmmock.TextResponse("done"),
	}}
	loop, _, _ := newTestLoop(t, provider, Config{}, tools.WithSteps(graph))

	out := loop.Run(context.Background(), "task")
	require.Equal(t, StateDone, out.State)
	require.Equal(t, 2, out.CursorStepID)
	require.Len(t, provider.Requests()[0].Tools, 2)

	result := provider.Requests()[1].Messages[2].Content[0].(*llm.ToolResultBlock)
	require.Equal(t, "Sign in", result.Content[0].(*llm.TextBlock).Text)
}

func TestRunEmitsStateTransitions(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llmmock.Response{
		llmmock.ToolResponse("", screenshotCall("s")),
		llmmock.TextResponse("done"),
	}}
	loop, _, events := newTestLoop(t, provider, Config{})
	loop.Run(context.Background(), "task")

	var states []State
	for _, ev := range *events {
		if ev.Type == EventState {
			states = append(states, ev.State)
		}
	}
	require.Equal(t, []State{
		StateRunning, StateAwaitingProvider, StateDispatching,
		StateRunning, StateAwaitingProvider, StateDone,
	}, states)
}

func TestNewLoopValidatesConfig(t *testing.T) {
	disp := tools.NewDispatcher(&desktopmock.Effector{})
	p := &llmmock.Provider{}
	_, err := NewLoop(p, disp, nil, Config{MaxIterations: 0, MaxTokens: 1})
	require.Error(t, err)
	_, err = NewLoop(p, disp, nil, Config{MaxIterations: 1, MaxTokens: 0})
	require.Error(t, err)
	_, err = NewLoop(p, disp, nil, Config{MaxIterations: 1, MaxTokens: 1, HistoryWindow: 3})
	require.Error(t, err)
	_, err = NewLoop(nil, disp, nil, Config{MaxIterations: 1, MaxTokens: 1})
	require.Error(t, err)
}

func TestPrompts(t *testing.T) {
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	plain := BuildSystemPrompt("", now)
	require.Contains(t, plain, "Monday, June 2, 2025")
	require.NotContains(t, plain, "TOOL_POLICY")

	withSteps := BuildSystemPrompt(tools.StepsTool, now)
	require.True(t, len(withSteps) > len(plain))
	require.Contains(t, withSteps, "<TOOL_POLICY>")
	require.Contains(t, withSteps, tools.StepsTool)

	require.Equal(t, "task", BuildUserPrompt(" task ", ""))
	require.Equal(t, "task\n\nstep 1: login", BuildUserPrompt("task", "step 1: login\n"))
}
