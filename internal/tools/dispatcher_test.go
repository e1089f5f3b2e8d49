package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskpilot/deskpilot/internal/desktop"
	desktopmock "github.com/deskpilot/deskpilot/internal/desktop/mock"
	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/steps"
)

func invocation(input map[string]any) llm.ToolInvocation {
	return llm.ToolInvocation{ID: "t1", Name: ComputerTool, Input: input}
}

func stepsInvocation(input map[string]any) llm.ToolInvocation {
	return llm.ToolInvocation{ID: "s1", Name: StepsTool, Input: input}
}

func TestDispatchScrollDown(t *testing.T) {
	eff := &desktopmock.Effector{}
	d := NewDispatcher(eff)
	state := &RunState{}

	res := d.Dispatch(context.Background(), state, invocation(map[string]any{
		"action": "scroll", "direction": "down", "amount": 3.0,
	}))

	require.False(t, res.IsError)
	require.Nil(t, res.Image)
	require.Equal(t, 1, state.Actions)
	calls := eff.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, desktopmock.Call{Method: "VScroll", Delta: -300}, calls[0])
	require.Equal(t, []time.Duration{200 * time.Millisecond}, eff.Slept())
}

func TestDispatchScrollChannels(t *testing.T) {
	cases := map[string]desktopmock.Call{
		"up":    {Method: "VScroll", Delta: 200},
		"down":  {Method: "VScroll", Delta: -200},
		"left":  {Method: "HScroll", Delta: -200},
		"right": {Method: "HScroll", Delta: 200},
	}
	for dir, want := range cases {
		t.Run(dir, func(t *testing.T) {
			eff := &desktopmock.Effector{}
			res := NewDispatcher(eff, WithSettleDelay(0)).Dispatch(context.Background(), &RunState{},
				invocation(map[string]any{"action": "scroll", "scroll_direction": dir, "scroll_amount": 2.0}))
			require.False(t, res.IsError)
			require.Equal(t, []desktopmock.Call{want}, eff.Calls())
		})
	}
}

func TestDispatchScreenshotPersistsAndEncodes(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	eff := &desktopmock.Effector{Image: png}
	dir := t.TempDir()
	store := &ScreenshotStore{Dir: dir, Now: func() time.Time { return time.UnixMilli(1700000000123) }}
	d := NewDispatcher(eff, WithScreenshotStore(store))
	state := &RunState{}

	res := d.Dispatch(context.Background(), state, invocation(map[string]any{"action": "screenshot"}))

	require.False(t, res.IsError)
	require.NotNil(t, res.Image)
	require.Equal(t, "image/png", res.Image.MediaType)
	require.Equal(t, base64.StdEncoding.EncodeToString(png), res.Image.Data)
	require.Equal(t, filepath.Join(dir, "screenshot_1700000000123.png"), res.Path)
	saved, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, png, saved)
	require.Equal(t, 1, state.Actions)
	require.Empty(t, eff.Slept())

	block := res.Block()
	require.Equal(t, "t1", block.ToolUseID)
	require.Len(t, block.Content, 1)
	require.Same(t, res.Image, block.Content[0])
}

func TestDispatchPointerAndKeyboard(t *testing.T) {
	eff := &desktopmock.Effector{}
	d := NewDispatcher(eff, WithSettleDelay(0))
	state := &RunState{}
	ctx := context.Background()

	inputs := []map[string]any{
		{"action": "mouse_move", "coordinate": []any{5.0, 6.0}},
		{"action": "left_click", "coordinate": []any{1.0, 2.0}},
		{"action": "right_click"},
		{"action": "double_click"},
		{"action": "type", "text": "abc"},
		{"action": "key", "text": "ctrl+l"},
		{"action": "wait", "duration": 2.0},
	}
	for _, in := range inputs {
		res := d.Dispatch(ctx, state, invocation(in))
		require.False(t, res.IsError, res.Text)
	}

	require.Equal(t, len(inputs), state.Actions)
	require.Equal(t, []desktopmock.Call{
		{Method: "MoveTo", Point: &desktop.Point{X: 5, Y: 6}},
		{Method: "Click", Kind: desktop.ClickLeft, Point: &desktop.Point{X: 1, Y: 2}},
		{Method: "Click", Kind: desktop.ClickRight},
		{Method: "Click", Kind: desktop.ClickDouble},
		{Method: "Write", Text: "abc"},
		{Method: "Press", Text: "ctrl+l"},
		{Method: "Sleep", Sleep: 2 * time.Second},
	}, eff.Calls())
}

func TestDispatchInvalidActionDoesNotCount(t *testing.T) {
	eff := &desktopmock.Effector{}
	d := NewDispatcher(eff)
	state := &RunState{Actions: 4}

	res := d.Dispatch(context.Background(), state, invocation(map[string]any{"action": "teleport"}))
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "unknown action")
	require.Equal(t, ActionKind("teleport"), res.Action)

	res = d.Dispatch(context.Background(), state, llm.ToolInvocation{
		ID: "t2", Input: map[string]any{}, Raw: "{bad", ParseErr: errors.New("bad json"),
	})
	require.True(t, res.IsError)
	require.Equal(t, "t2", res.ToolUseID)

	require.Equal(t, 4, state.Actions)
	require.Empty(t, eff.Calls())
}

func TestDispatchEffectorFailureBecomesErrorResult(t *testing.T) {
	eff := &desktopmock.Effector{Errs: map[string]error{"Click": errors.New("display unavailable")}}
	d := NewDispatcher(eff)
	state := &RunState{}

	res := d.Dispatch(context.Background(), state, invocation(map[string]any{"action": "left_click"}))
	require.True(t, res.IsError)
	require.Equal(t, "display unavailable", res.Text)
	require.Equal(t, 0, state.Actions)
	require.Empty(t, eff.Slept())

	block := res.Block()
	require.True(t, block.IsError)
	require.Equal(t, "display unavailable", block.Content[0].(*llm.TextBlock).Text)
}

func TestDispatchNavigation(t *testing.T) {
	next := 2
	graph := steps.NewMemoryGraph([]steps.Spec{
		{ID: 1, Description: "Open the browser", Next: &next},
		{ID: 2, Description: "Log in"},
	})
	eff := &desktopmock.Effector{}
	d := NewDispatcher(eff, WithSteps(graph))
	require.True(t, d.HasSteps())
	state := &RunState{CursorStepID: 1}
	ctx := context.Background()

	res := d.Dispatch(ctx, state, stepsInvocation(map[string]any{"action": "next"}))
	require.False(t, res.IsError)
	require.Equal(t, "Log in", res.Text)
	require.Equal(t, 2, state.CursorStepID)

	res = d.Dispatch(ctx, state, stepsInvocation(map[string]any{"action": "curr"}))
	require.Equal(t, "Log in", res.Text)

	state.CursorStepID = 1
	res = d.Dispatch(ctx, state, stepsInvocation(map[string]any{"action": "prev"}))
	require.False(t, res.IsError)
	require.Equal(t, 0, state.CursorStepID)
	require.Contains(t, res.Text, "no previous step")

	require.Equal(t, 3, state.Actions)
	require.Empty(t, eff.Calls())
}

func TestDispatchNavigationWithoutGraph(t *testing.T) {
	d := NewDispatcher(&desktopmock.Effector{})
	require.False(t, d.HasSteps())
	state := &RunState{}

	res := d.Dispatch(context.Background(), state, stepsInvocation(map[string]any{"action": "next"}))
	require.True(t, res.IsError)
	require.Equal(t, ErrStepsUnavailable.Error(), res.Text)
	require.Equal(t, 0, state.Actions)
}

func TestDispatchWaitTooLong(t *testing.T) {
	eff := &desktopmock.Effector{}
	state := &RunState{}
	res := NewDispatcher(eff).Dispatch(context.Background(), state, invocation(map[string]any{
		"action": "wait", "duration": 1e10,
	}))
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "at most")
	require.Zero(t, state.Actions)
	require.Empty(t, eff.Slept())
}

func TestDispatchRejectsActionUnderWrongTool(t *testing.T) {
	next := 2
	graph := steps.NewMemoryGraph([]steps.Spec{{ID: 1, Description: "a", Next: &next}, {ID: 2, Description: "b"}})
	cases := map[string]llm.ToolInvocation{
		"screenshot via steps tool": stepsInvocation(map[string]any{"action": "screenshot"}),
		"next via computer tool":    invocation(map[string]any{"action": "next"}),
		"unknown tool":              {ID: "x", Name: "browser", Input: map[string]any{"action": "left_click"}},
	}
	for name, inv := range cases {
		t.Run(name, func(t *testing.T) {
			eff := &desktopmock.Effector{}
			state := &RunState{CursorStepID: 1}
			res := NewDispatcher(eff, WithSteps(graph)).Dispatch(context.Background(), state, inv)
			require.True(t, res.IsError)
			require.Contains(t, res.Text, "unknown action or missing parameters")
			require.Zero(t, state.Actions)
			require.Equal(t, 1, state.CursorStepID)
			require.Empty(t, eff.Calls())
		})
	}
}
