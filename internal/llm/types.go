package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Role is the message role used in exchanges with the model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one piece of message content. The set of variants is closed.
type Block interface {
	blockType() string
}

// TextBlock carries plain text.
type TextBlock struct {
	Text string
}

// ImageBlock carries a base64 encoded image. Data is blanked once the image is stale.
type ImageBlock struct {
	MediaType string
	Data      string
}

// ToolUseBlock is a model request to run a tool.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock answers a ToolUseBlock. Content holds TextBlock or ImageBlock values.
type ToolResultBlock struct {
	ToolUseID string
	Content   []Block
	IsError   bool
}

// OpaqueBlock stands in for provider block kinds the agent does not interpret
// (thinking, server tools). It is kept in the decode output but never replayed.
type OpaqueBlock struct {
	Type string
}

func (*TextBlock) blockType() string       { return "text" }
func (*ImageBlock) blockType() string      { return "image" }
func (*ToolUseBlock) blockType() string    { return "tool_use" }
func (*ToolResultBlock) blockType() string { return "tool_result" }
func (b *OpaqueBlock) blockType() string   { return b.Type }

// BlockType returns the wire name of a block variant.
func BlockType(b Block) string {
	if b == nil {
		return ""
	}
	return b.blockType()
}

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content []Block
}

// UserText builds a user message holding a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{&TextBlock{Text: text}}}
}

// ToolInvocation is a tool-use block with its input resolved.
type ToolInvocation struct {
	ID    string
	Name  string
	Input map[string]any
	// Raw is the accumulated argument text as streamed.
	Raw string
	// ParseErr is set when Raw was not a JSON object and Input fell back to empty.
	ParseErr error
}

// ToolSchema declares a tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Required    []string       `json:"required,omitempty"`
}

// Request is the input for a streaming provider call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// DeltaKind distinguishes incremental payloads.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text_delta"
	DeltaInputJSON DeltaKind = "input_json_delta"
	DeltaOther     DeltaKind = "other"
)

// StreamEvent is one event of a streamed model response.
type StreamEvent interface {
	streamEvent()
}

// BlockStart opens a content block at Index.
type BlockStart struct {
	Index int
	Block Block
}

// BlockDelta extends the open block at Index.
type BlockDelta struct {
	Index   int
	Kind    DeltaKind
	Payload string
}

// BlockStop closes the block at Index.
type BlockStop struct {
	Index int
}

// MessageStop ends the response.
type MessageStop struct{}

func (BlockStart) streamEvent()  {}
func (BlockDelta) streamEvent()  {}
func (BlockStop) streamEvent()   {}
func (MessageStop) streamEvent() {}

// EventStream is a pull iterator over stream events.
type EventStream interface {
	Next() bool
	Event() StreamEvent
	Err() error
	Close() error
}

// Provider defines the contract for model providers.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (EventStream, error)
}

// ErrEmptyStream reports a response that carried no events.
var ErrEmptyStream = errors.New("llm: empty response stream")

// RateLimitError is returned by providers when the service throttles a request.
type RateLimitError struct {
	Header http.Header
	Err    error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return "llm: rate limited"
	}
	return fmt.Sprintf("llm: rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// SliceStream replays a fixed list of events.
type SliceStream struct {
	events []StreamEvent
	pos    int
	err    error
}

// NewSliceStream returns a stream over events that ends with err (may be nil).
func NewSliceStream(events []StreamEvent, err error) *SliceStream {
	return &SliceStream{events: events, pos: -1, err: err}
}

func (s *SliceStream) Next() bool {
	if s.pos+1 >= len(s.events) {
		s.pos = len(s.events)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Event() StreamEvent {
	if s.pos < 0 || s.pos >= len(s.events) {
		return nil
	}
	return s.events[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.events) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error { return nil }
