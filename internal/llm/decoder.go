package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DecodeError reports a stream that violates block ordering. It is fatal for the run.
type DecodeError struct {
	Index  int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: block %d: %s", e.Index, e.Reason)
}

// Decoded is the reconstruction of one streamed response.
type Decoded struct {
	// Blocks holds every started block in stream order, by reference.
	Blocks []Block
	// Invocations holds finished tool uses in completion order.
	Invocations []ToolInvocation
	// Events counts consumed events.
	Events int
}

// Empty reports whether the stream delivered no events at all.
func (d Decoded) Empty() bool { return d.Events == 0 }

// Text concatenates all text blocks.
func (d Decoded) Text() string {
	var b strings.Builder
	for _, blk := range d.Blocks {
		if t, ok := blk.(*TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// AssistantMessage returns the decoded blocks as an assistant turn, without opaque blocks.
func (d Decoded) AssistantMessage() Message {
	content := make([]Block, 0, len(d.Blocks))
	for _, blk := range d.Blocks {
		if _, ok := blk.(*OpaqueBlock); ok {
			continue
		}
		content = append(content, blk)
	}
	return Message{Role: RoleAssistant, Content: content}
}

type openBlock struct {
	block  Block
	args   strings.Builder
	closed bool
}

// Decode consumes stream until MessageStop or exhaustion and rebuilds content blocks
// and tool invocations. Tool inputs that are not valid JSON objects become empty maps.
// Every started block must be stopped before the response ends; a truncated response
// is a DecodeError.
func Decode(stream EventStream) (Decoded, error) {
	var out Decoded
	open := make(map[int]*openBlock)

	for stream.Next() {
		out.Events++
		switch ev := stream.Event().(type) {
		case BlockStart:
			if _, ok := open[ev.Index]; ok {
				return out, &DecodeError{Index: ev.Index, Reason: "started twice"}
			}
			if ev.Block == nil {
				return out, &DecodeError{Index: ev.Index, Reason: "start without block"}
			}
			if tu, ok := ev.Block.(*ToolUseBlock); ok && tu.Input == nil {
				tu.Input = map[string]any{}
			}
			open[ev.Index] = &openBlock{block: ev.Block}
			out.Blocks = append(out.Blocks, ev.Block)
		case BlockDelta:
			ob, ok := open[ev.Index]
			if !ok {
				return out, &DecodeError{Index: ev.Index, Reason: "delta before start"}
			}
			if ob.closed {
				return out, &DecodeError{Index: ev.Index, Reason: "delta after stop"}
			}
			switch ev.Kind {
			case DeltaText:
				if t, ok := ob.block.(*TextBlock); ok {
					t.Text += ev.Payload
				}
			case DeltaInputJSON:
				ob.args.WriteString(ev.Payload)
			}
		case BlockStop:
			ob, ok := open[ev.Index]
			if !ok {
				return out, &DecodeError{Index: ev.Index, Reason: "stop before start"}
			}
			if ob.closed {
				return out, &DecodeError{Index: ev.Index, Reason: "stopped twice"}
			}
			ob.closed = true
			if tu, ok := ob.block.(*ToolUseBlock); ok {
				out.Invocations = append(out.Invocations, resolveToolUse(tu, ob.args.String()))
			}
		case MessageStop:
			return out, unterminated(open)
		case nil:
			return out, errors.New("decode: nil event")
		}
	}

	if err := stream.Err(); err != nil {
		return out, fmt.Errorf("read stream: %w", err)
	}
	return out, unterminated(open)
}

// unterminated reports the lowest index that was started but never stopped.
func unterminated(open map[int]*openBlock) error {
	var pending []int
	for idx, ob := range open {
		if !ob.closed {
			pending = append(pending, idx)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Ints(pending)
	return &DecodeError{Index: pending[0], Reason: "block not stopped"}
}

// DecodeEvents decodes an in-memory event list.
func DecodeEvents(events []StreamEvent) (Decoded, error) {
	return Decode(NewSliceStream(events, nil))
}

func resolveToolUse(tu *ToolUseBlock, raw string) ToolInvocation {
	inv := ToolInvocation{ID: tu.ID, Name: tu.Name, Raw: raw}
	input, err := parseToolInput(raw)
	if err != nil {
		inv.ParseErr = err
		input = map[string]any{}
	}
	if len(input) > 0 || len(tu.Input) == 0 {
		tu.Input = input
	}
	inv.Input = tu.Input
	return inv
}

func parseToolInput(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, errors.New("tool input is not an object")
	}
	return input, nil
}
