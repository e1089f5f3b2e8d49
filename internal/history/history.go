// Package history keeps the conversation sent to the model bounded.
package history

import (
	"fmt"

	"github.com/deskpilot/deskpilot/internal/llm"
)

// DefaultWindow is the number of recent messages kept after the first one.
const DefaultWindow = 60

// Log is the ordered conversation of a run. Message 0 is the original instruction and is
// never dropped.
type Log struct {
	messages []llm.Message
	window   int
}

// New starts a log with the initial instruction. window must be even and positive so that a
// truncated tail begins with an assistant turn.
func New(first llm.Message, window int) (*Log, error) {
	if window <= 0 || window%2 != 0 {
		return nil, fmt.Errorf("history window must be a positive even number, got %d", window)
	}
	return &Log{messages: []llm.Message{first}, window: window}, nil
}

// Append adds a turn.
func (l *Log) Append(m llm.Message) {
	l.messages = append(l.messages, m)
}

// Messages returns the current conversation. The slice aliases the log.
func (l *Log) Messages() []llm.Message {
	return l.messages
}

// Len returns the number of messages.
func (l *Log) Len() int {
	return len(l.messages)
}

// StripStaleImages blanks the payload of every image block in the log, newest first,
// including images nested in tool results. It returns how many images were blanked.
func (l *Log) StripStaleImages() int {
	return StripImages(l.messages)
}

// Truncate keeps message 0 plus the newest window messages when imageTurn is set;
// otherwise the log is untouched. It returns the number of dropped messages.
func (l *Log) Truncate(imageTurn bool) int {
	if !imageTurn {
		return 0
	}
	var dropped int
	l.messages, dropped = Window(l.messages, l.window)
	return dropped
}

// StripImages blanks every non-empty image payload in msgs.
func StripImages(msgs []llm.Message) int {
	var n int
	for i := len(msgs) - 1; i >= 0; i-- {
		content := msgs[i].Content
		for j := len(content) - 1; j >= 0; j-- {
			n += stripBlock(content[j])
		}
	}
	return n
}

func stripBlock(b llm.Block) int {
	switch v := b.(type) {
	case *llm.ImageBlock:
		if v.Data == "" {
			return 0
		}
		v.Data = ""
		return 1
	case *llm.ToolResultBlock:
		var n int
		for k := len(v.Content) - 1; k >= 0; k-- {
			n += stripBlock(v.Content[k])
		}
		return n
	}
	return 0
}

// Window returns msgs[0] followed by the last window messages, and how many were dropped.
func Window(msgs []llm.Message, window int) ([]llm.Message, int) {
	if len(msgs) <= window+1 {
		return msgs, 0
	}
	dropped := len(msgs) - window - 1
	out := make([]llm.Message, 0, window+1)
	out = append(out, msgs[0])
	out = append(out, msgs[len(msgs)-window:]...)
	return out, dropped
}
