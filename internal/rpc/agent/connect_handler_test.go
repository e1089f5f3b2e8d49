package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bufbuild/connect-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/deskpilot/deskpilot/internal/rpc"
	"github.com/deskpilot/deskpilot/internal/rpc/connectjson"
)

func newConnectClient(t *testing.T, runner Runner) *connect.Client[rpc.RunTaskStreamRequest, rpc.RunTaskEvent] {
	t.Helper()
	path, handler := NewConnectHandler(runner, nil)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}

	server := httptest.NewUnstartedServer(h2c.NewHandler(mux, &http2.Server{}))
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	return connect.NewClient[rpc.RunTaskStreamRequest, rpc.RunTaskEvent](
		&http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
		server.URL+path,
		connect.WithCodec(connectjson.Codec{}),
	)
}

func TestConnectHandlerStreamsEvents(t *testing.T) {
	client := newConnectClient(t, scriptedRunner{events: sampleEvents})

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.RunTaskStreamRequest{
		Run: &rpc.RunTaskRequest{SessionID: "conn-1", Prompt: "open the browser"},
	}))
	require.NoError(t, stream.CloseRequest())

	var types []string
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "conn-1", evt.SessionID)
		types = append(types, evt.Type)
	}
	require.NoError(t, stream.CloseResponse())
	require.Equal(t, []string{rpc.EventIteration, rpc.EventMessage, rpc.EventAction, rpc.EventDone}, types)
}

func TestConnectHandlerRequiresRun(t *testing.T) {
	client := newConnectClient(t, scriptedRunner{events: sampleEvents})

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.RunTaskStreamRequest{Cancel: true}))
	require.NoError(t, stream.CloseRequest())

	_, err := stream.Receive()
	require.Error(t, err)
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_ = stream.CloseResponse()
}

func TestConnectHandlerBusy(t *testing.T) {
	client := newConnectClient(t, scriptedRunner{err: ErrBusy})

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.RunTaskStreamRequest{Run: &rpc.RunTaskRequest{Prompt: "x"}}))
	require.NoError(t, stream.CloseRequest())

	_, err := stream.Receive()
	require.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
	_ = stream.CloseResponse()
}
