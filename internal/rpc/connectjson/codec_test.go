package connectjson

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deskpilot/deskpilot/internal/rpc"
)

func TestCodecRoundTrip(t *testing.T) {
	var c Codec
	data, err := c.Marshal(&rpc.RunTaskStreamRequest{Run: &rpc.RunTaskRequest{Prompt: "open mail", MaxIterations: 3}})
	require.NoError(t, err)

	var got rpc.RunTaskStreamRequest
	require.NoError(t, c.Unmarshal(data, &got))
	require.Equal(t, "open mail", got.Run.Prompt)
	require.Equal(t, 3, got.Run.MaxIterations)
}

func TestCodecRejectsUnknownFields(t *testing.T) {
	var got rpc.RunTaskStreamRequest
	err := Codec{}.Unmarshal([]byte(`{"run":{"prompt":"x","context_paths":["a"]}}`), &got)
	require.Error(t, err)
}
