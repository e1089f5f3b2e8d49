package tools

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/deskpilot/deskpilot/internal/desktop"
)

// ActionKind is the closed set of actions the model may request.
type ActionKind string

const (
	ActionScreenshot  ActionKind = "screenshot"
	ActionMouseMove   ActionKind = "mouse_move"
	ActionLeftClick   ActionKind = "left_click"
	ActionRightClick  ActionKind = "right_click"
	ActionDoubleClick ActionKind = "double_click"
	ActionType        ActionKind = "type"
	ActionKey         ActionKind = "key"
	ActionScroll      ActionKind = "scroll"
	ActionWait        ActionKind = "wait"
	ActionPrev        ActionKind = "prev"
	ActionNext        ActionKind = "next"
	ActionCurr        ActionKind = "curr"
)

var (
	computerKinds = []ActionKind{
		ActionScreenshot, ActionMouseMove, ActionLeftClick, ActionRightClick, ActionDoubleClick,
		ActionType, ActionKey, ActionScroll, ActionWait,
	}
	stepKinds = []ActionKind{ActionNext, ActionPrev, ActionCurr}
)

// Valid reports whether k is a known action.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionScreenshot, ActionMouseMove, ActionLeftClick, ActionRightClick, ActionDoubleClick,
		ActionType, ActionKey, ActionScroll, ActionWait, ActionPrev, ActionNext, ActionCurr:
		return true
	}
	return false
}

// Physical reports whether the action changes the desktop and needs a settle delay.
func (k ActionKind) Physical() bool {
	switch k {
	case ActionMouseMove, ActionLeftClick, ActionRightClick, ActionDoubleClick,
		ActionType, ActionKey, ActionScroll:
		return true
	}
	return false
}

// Navigation reports whether the action queries the step graph.
func (k ActionKind) Navigation() bool {
	return k == ActionPrev || k == ActionNext || k == ActionCurr
}

// BelongsTo reports whether the named tool offers k.
func (k ActionKind) BelongsTo(tool string) bool {
	var kinds []ActionKind
	switch tool {
	case ComputerTool:
		kinds = computerKinds
	case StepsTool:
		kinds = stepKinds
	}
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// ScrollDirection is the direction of a scroll action.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Action is a validated, typed tool request.
type Action struct {
	Kind       ActionKind
	Coordinate *desktop.Point
	Text       string
	Direction  ScrollDirection
	Amount     int
	Duration   time.Duration
}

// maxWaitSeconds is the longest wait that still fits in a time.Duration.
const maxWaitSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseAction validates raw tool input and converts it to an Action.
func ParseAction(input map[string]any) (Action, error) {
	name, ok := input["action"].(string)
	if !ok || name == "" {
		return Action{}, errors.New("action is required and must be string")
	}
	kind := ActionKind(name)
	if !kind.Valid() {
		return Action{}, fmt.Errorf("unknown action %q", name)
	}
	if err := validateAgainstSchema(argumentFields, input); err != nil {
		return Action{}, fmt.Errorf("%s: %w", kind, err)
	}

	act := Action{Kind: kind}
	switch kind {
	case ActionMouseMove, ActionLeftClick, ActionRightClick, ActionDoubleClick:
		p, err := parseCoordinate(input["coordinate"])
		if err != nil {
			return Action{}, fmt.Errorf("%s: %w", kind, err)
		}
		act.Coordinate = p
	case ActionType:
		text, ok := input["text"].(string)
		if !ok {
			return Action{}, errors.New("type: text is required")
		}
		act.Text = text
	case ActionKey:
		text, _ := input["text"].(string)
		if text == "" {
			return Action{}, errors.New("key: text is required")
		}
		act.Text = text
	case ActionScroll:
		dir := firstString(input, "scroll_direction", "direction")
		if dir == "" {
			return Action{}, errors.New("scroll: scroll_direction is required")
		}
		act.Direction = ScrollDirection(dir)
		if v, ok := firstValue(input, "scroll_amount", "amount"); ok {
			amount, _ := asInt(v)
			if amount < 0 {
				return Action{}, errors.New("scroll: scroll_amount must be >= 0")
			}
			act.Amount = amount
		}
	case ActionWait:
		v, ok := input["duration"]
		if !ok || v == nil {
			return Action{}, errors.New("wait: duration is required")
		}
		secs, _ := asFloat(v)
		if secs < 0 {
			return Action{}, errors.New("wait: duration must be >= 0")
		}
		if !(secs <= maxWaitSeconds) {
			return Action{}, fmt.Errorf("wait: duration must be at most %.0f seconds", maxWaitSeconds)
		}
		act.Duration = time.Duration(secs * float64(time.Second))
	case ActionScreenshot, ActionPrev, ActionNext, ActionCurr:
	}
	return act, nil
}

func parseCoordinate(v any) (*desktop.Point, error) {
	if v == nil {
		return nil, nil
	}
	items, _ := v.([]any)
	if len(items) != 2 {
		return nil, errors.New("coordinate must be [x, y]")
	}
	x, _ := asInt(items[0])
	y, _ := asInt(items[1])
	if x < 0 || y < 0 {
		return nil, errors.New("coordinate must not be negative")
	}
	return &desktop.Point{X: x, Y: y}, nil
}

func firstString(input map[string]any, keys ...string) string {
	v, _ := firstValue(input, keys...)
	s, _ := v.(string)
	return s
}

func firstValue(input map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := input[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
