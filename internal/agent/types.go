package agent

import (
	"time"

	"github.com/deskpilot/deskpilot/internal/tools"
)

// State is a phase of the run state machine.
type State string

const (
	StateRunning          State = "running"
	StateAwaitingProvider State = "awaiting_provider"
	StateDispatching      State = "dispatching"
	StateDone             State = "done"
	StateAborted          State = "aborted"
)

// Abort reasons.
const (
	ReasonBudgetExhausted = "budget exhausted"
	ReasonCancelled       = "cancelled"
	ReasonDecodeError     = "decode error"
	ReasonProviderError   = "provider error"
	ReasonEmptyResponse   = "empty response"
)

// Outcome is the terminal result of a run. Counters are reported for every terminal state.
type Outcome struct {
	State  State
	Reason string
	// Iterations counts completed model round trips.
	Iterations   int
	Actions      int
	CursorStepID int
	Duration     time.Duration
	Err          error
}

// Done reports whether the model finished the task.
func (o Outcome) Done() bool { return o.State == StateDone }

// EventType classifies run events.
type EventType string

const (
	EventState     EventType = "state"
	EventIteration EventType = "iteration"
	EventMessage   EventType = "message"
	EventAction    EventType = "action"
	EventDone      EventType = "done"
)

// Event is emitted synchronously to the Observer while a run progresses.
type Event struct {
	Type      EventType
	State     State
	Iteration int
	Actions   int
	Action    tools.ActionKind
	ToolUseID string
	Text      string
	IsError   bool
	Outcome   *Outcome
}

// Observer receives run events. It must not block for long.
type Observer func(Event)

// Config holds loop parameters.
type Config struct {
	Model              string
	SystemPrompt       string
	MaxIterations      int
	MaxTokens          int
	HistoryWindow      int
	EmptyStreamRetries int
}
