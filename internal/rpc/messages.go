package rpc

// Event types streamed by the daemon.
const (
	EventState     = "state"
	EventIteration = "iteration"
	EventMessage   = "message"
	EventAction    = "action"
	EventThrottle  = "throttle"
	EventDone      = "done"
	EventError     = "error"
)

// RunTaskRequest is the top-level request for starting a desktop task.
type RunTaskRequest struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Model         string `json:"model,omitempty"`
	Prompt        string `json:"prompt"`
	// ProcessText is an optional plain-text process description appended to the prompt.
	ProcessText   string `json:"process_text,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty"`
}

// RunTaskEvent streams back progress from the daemon.
type RunTaskEvent struct {
	Type          string `json:"type"` // state|iteration|message|action|throttle|done|error
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	State         string `json:"state,omitempty"`
	Iteration     int    `json:"iteration,omitempty"`
	Actions       int    `json:"actions,omitempty"`
	Action        string `json:"action,omitempty"`
	ToolUseID     string `json:"tool_use_id,omitempty"`
	IsError       bool   `json:"is_error,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	Done          bool   `json:"done,omitempty"`
	FinishReason  string `json:"finish_reason,omitempty"`
	CursorStepID  int    `json:"cursor_step_id,omitempty"`
	WaitMillis    int64  `json:"wait_ms,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
}

// RunTaskStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the Run task; subsequent messages can carry control signals.
type RunTaskStreamRequest struct {
	Run           *RunTaskRequest `json:"run,omitempty"`
	Cancel        bool            `json:"cancel,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}
