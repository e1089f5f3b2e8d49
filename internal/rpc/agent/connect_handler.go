package agent

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/deskpilot/deskpilot/internal/observability"
	"github.com/deskpilot/deskpilot/internal/rpc"
	"github.com/deskpilot/deskpilot/internal/rpc/connectjson"
)

const ConnectRunTaskProcedure = "/connect.agent.v1.AgentService/RunTask"

// NewConnectHandler builds a Connect bidi stream handler for RunTask.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectRunHandler{runner: runner, metrics: metrics}
	return ConnectRunTaskProcedure, connect.NewBidiStreamHandler(ConnectRunTaskProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectRunHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

func (h *connectRunHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.RunTaskStreamRequest, rpc.RunTaskEvent]) error {
	h.metrics.IncActiveSessions("connect")
	defer h.metrics.DecActiveSessions("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Run == nil {
		h.metrics.RecordTransportError("connect", "missing_run")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include run payload"))
	}

	req := *first.Run
	fillSessionIDs(&req)

	// Listen for cancellation messages from the client. A half-closed request side
	// leaves the run going.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				if !errors.Is(recvErr, context.Canceled) && !isEOF(recvErr) {
					h.metrics.RecordTransportError("connect", "receive_stream")
					cancel()
				}
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, ConnectRunTaskProcedure, http.NoBody)

	events, runErr := h.runner.Run(httpReq, req)
	if runErr != nil {
		h.metrics.RecordTransportError("connect", "runner_error")
		code := connect.CodeInternal
		if errors.Is(runErr, ErrBusy) {
			code = connect.CodeResourceExhausted
		}
		return connect.NewError(code, runErr)
	}

	var sendErr error
	for ev := range events {
		if sendErr != nil {
			continue
		}
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			sendErr = err
			cancel()
		}
	}
	return sendErr
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
