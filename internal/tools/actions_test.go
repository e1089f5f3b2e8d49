package tools

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskpilot/deskpilot/internal/desktop"
)

func TestParseActionVariants(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  Action
	}{
		{"screenshot", map[string]any{"action": "screenshot"}, Action{Kind: ActionScreenshot}},
		{"click at", map[string]any{"action": "left_click", "coordinate": []any{10.0, 20.0}},
			Action{Kind: ActionLeftClick, Coordinate: &desktop.Point{X: 10, Y: 20}}},
		{"click here", map[string]any{"action": "double_click"}, Action{Kind: ActionDoubleClick}},
		{"type", map[string]any{"action": "type", "text": "hello"}, Action{Kind: ActionType, Text: "hello"}},
		{"key", map[string]any{"action": "key", "text": "Return"}, Action{Kind: ActionKey, Text: "Return"}},
		{"scroll", map[string]any{"action": "scroll", "scroll_direction": "down", "scroll_amount": 3.0},
			Action{Kind: ActionScroll, Direction: ScrollDown, Amount: 3}},
		{"scroll alias", map[string]any{"action": "scroll", "direction": "left", "amount": 2},
			Action{Kind: ActionScroll, Direction: ScrollLeft, Amount: 2}},
		{"scroll default amount", map[string]any{"action": "scroll", "scroll_direction": "up"},
			Action{Kind: ActionScroll, Direction: ScrollUp}},
		{"wait", map[string]any{"action": "wait", "duration": 1.5}, Action{Kind: ActionWait, Duration: 1500 * time.Millisecond}},
		{"next", map[string]any{"action": "next"}, Action{Kind: ActionNext}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAction(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseActionRejectsInvalidInput(t *testing.T) {
	cases := map[string]map[string]any{
		"empty":            {},
		"non-string":       {"action": 5.0},
		"unknown":          {"action": "teleport"},
		"type without":     {"action": "type"},
		"key empty":        {"action": "key", "text": ""},
		"scroll no dir":    {"action": "scroll", "scroll_amount": 1.0},
		"scroll bad dir":   {"action": "scroll", "scroll_direction": "diagonal"},
		"scroll negative":  {"action": "scroll", "scroll_direction": "up", "scroll_amount": -1.0},
		"scroll fraction":  {"action": "scroll", "scroll_direction": "up", "scroll_amount": 1.5},
		"wait missing":     {"action": "wait"},
		"wait negative":    {"action": "wait", "duration": -2.0},
		"wait overflow":    {"action": "wait", "duration": 1e10},
		"wait infinite":    {"action": "wait", "duration": math.Inf(1)},
		"wait nan":         {"action": "wait", "duration": math.NaN()},
		"coordinate short": {"action": "left_click", "coordinate": []any{1.0}},
		"coordinate text":  {"action": "mouse_move", "coordinate": []any{"a", "b"}},
		"coordinate neg":   {"action": "mouse_move", "coordinate": []any{-1.0, 3.0}},
		"text not string":  {"action": "type", "text": 12.0},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAction(input)
			require.Error(t, err)
		})
	}
}

func TestParseActionLongestWait(t *testing.T) {
	act, err := ParseAction(map[string]any{"action": "wait", "duration": maxWaitSeconds})
	require.NoError(t, err)
	require.Positive(t, act.Duration)
	require.Greater(t, act.Duration, 290*365*24*time.Hour)
}

func TestActionKindBelongsTo(t *testing.T) {
	require.True(t, ActionScreenshot.BelongsTo(ComputerTool))
	require.True(t, ActionWait.BelongsTo(ComputerTool))
	require.False(t, ActionNext.BelongsTo(ComputerTool))
	require.True(t, ActionPrev.BelongsTo(StepsTool))
	require.False(t, ActionLeftClick.BelongsTo(StepsTool))
	require.False(t, ActionScreenshot.BelongsTo("browser"))
}

func TestActionKindClassification(t *testing.T) {
	require.True(t, ActionScroll.Physical())
	require.False(t, ActionScreenshot.Physical())
	require.False(t, ActionWait.Physical())
	require.True(t, ActionCurr.Navigation())
	require.False(t, ActionKind("bogus").Valid())
}
