package agent

import (
	"net/http"

	agentcore "github.com/deskpilot/deskpilot/internal/agent"
	"github.com/deskpilot/deskpilot/internal/rpc"
)

// scriptedRunner replays events for a request, stamping its ids.
type scriptedRunner struct {
	events []rpc.RunTaskEvent
	err    error
}

func (s scriptedRunner) Run(_ *http.Request, req rpc.RunTaskRequest) (<-chan rpc.RunTaskEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan rpc.RunTaskEvent, len(s.events))
	for _, ev := range s.events {
		ev.SessionID, ev.CorrelationID = req.SessionID, req.CorrelationID
		out <- ev
	}
	close(out)
	return out, nil
}

var sampleEvents = []rpc.RunTaskEvent{
	{Type: rpc.EventIteration, Iteration: 1},
	{Type: rpc.EventMessage, Message: "taking a screenshot"},
	{Type: rpc.EventAction, Action: "screenshot", Actions: 1},
	{Type: rpc.EventDone, Done: true, FinishReason: "completed", Actions: 1},
}

func agentEventDone() agentcore.Event {
	return agentcore.Event{Type: agentcore.EventDone}
}
