package mock

import (
	"context"
	"sync"

	"github.com/deskpilot/deskpilot/internal/llm"
)

// Response is one scripted provider answer.
type Response struct {
	Events []llm.StreamEvent
	// Err is returned from Stream instead of opening a stream.
	Err error
	// StreamErr terminates the stream after Events.
	StreamErr error
}

// Provider is a test double implementing llm.Provider. Responses are served in order;
// once exhausted the last one repeats.
type Provider struct {
	NameValue string
	StreamFn  func(ctx context.Context, req llm.Request) (llm.EventStream, error)
	Responses []Response

	mu       sync.Mutex
	calls    int
	requests []llm.Request
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Stream(ctx context.Context, req llm.Request) (llm.EventStream, error) {
	p.mu.Lock()
	snapshot := req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, snapshot)
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if p.StreamFn != nil {
		return p.StreamFn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.Responses) == 0 {
		return llm.NewSliceStream(nil, nil), nil
	}
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	resp := p.Responses[idx]
	if resp.Err != nil {
		return nil, resp.Err
	}
	return llm.NewSliceStream(cloneEvents(resp.Events), resp.StreamErr), nil
}

// cloneEvents copies started blocks so a repeated response never shares decoder state.
func cloneEvents(events []llm.StreamEvent) []llm.StreamEvent {
	out := make([]llm.StreamEvent, len(events))
	for i, ev := range events {
		start, ok := ev.(llm.BlockStart)
		if !ok {
			out[i] = ev
			continue
		}
		switch b := start.Block.(type) {
		case *llm.TextBlock:
			c := *b
			start.Block = &c
		case *llm.ToolUseBlock:
			c := *b
			c.Input = nil
			start.Block = &c
		case *llm.OpaqueBlock:
			c := *b
			start.Block = &c
		}
		out[i] = start
	}
	return out
}

// Calls returns the number of Stream invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns the recorded requests; each holds the message list as it was at call time.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// TextResponse scripts a reply consisting of a single text block.
func TextResponse(text string) Response {
	return Response{Events: []llm.StreamEvent{
		llm.BlockStart{Index: 0, Block: &llm.TextBlock{}},
		llm.BlockDelta{Index: 0, Kind: llm.DeltaText, Payload: text},
		llm.BlockStop{Index: 0},
		llm.MessageStop{},
	}}
}

// ToolCall is one scripted tool use.
type ToolCall struct {
	ID    string
	Name  string
	Input string
}

// ToolResponse scripts a reply with an optional text block followed by tool uses.
func ToolResponse(text string, calls ...ToolCall) Response {
	var events []llm.StreamEvent
	idx := 0
	if text != "" {
		events = append(events,
			llm.BlockStart{Index: idx, Block: &llm.TextBlock{}},
			llm.BlockDelta{Index: idx, Kind: llm.DeltaText, Payload: text},
			llm.BlockStop{Index: idx},
		)
		idx++
	}
	for _, c := range calls {
		events = append(events,
			llm.BlockStart{Index: idx, Block: &llm.ToolUseBlock{ID: c.ID, Name: c.Name}},
			llm.BlockDelta{Index: idx, Kind: llm.DeltaInputJSON, Payload: c.Input},
			llm.BlockStop{Index: idx},
		)
		idx++
	}
	events = append(events, llm.MessageStop{})
	return Response{Events: events}
}
