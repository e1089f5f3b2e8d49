package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/deskpilot/deskpilot/internal/rpc"
	agentrpc "github.com/deskpilot/deskpilot/internal/rpc/agent"
	"github.com/deskpilot/deskpilot/internal/rpc/connectjson"
)

// NewSubmitCmd sends a task to the daemon and streams its events.
func NewSubmitCmd(opts *Options) *cobra.Command {
	var modelOverride string
	var textFile string
	var maxIterations int
	var tokenBudget int

	cmd := &cobra.Command{
		Use:   "submit \"<prompt>\"",
		Short: "Send a task to the daemon and stream its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			prompt := args[0]
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("prompt cannot be empty")
			}

			processText, err := readOptionalFile(textFile)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sessionID := "cli-" + uuid.NewString()
			reqBody := rpc.RunTaskRequest{
				SessionID:     sessionID,
				CorrelationID: sessionID + "-corr",
				Model:         modelOverride,
				Prompt:        prompt,
				ProcessText:   processText,
				MaxIterations: maxIterations,
				MaxTokens:     tokenBudget,
			}

			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return runNDJSON(ctx, cmd, baseURL+"/agent/run", reqBody)
			default:
				return runConnect(ctx, cmd, baseURL+agentrpc.ConnectRunTaskProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVar(&modelOverride, "model", "", "Logical model id for this run")
	cmd.Flags().StringVar(&textFile, "text-file", "", "Plain-text process description appended to the prompt")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Max tokens per model response (default from config)")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.RunTaskRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var evt rpc.RunTaskEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(cmd, evt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runConnect(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.RunTaskRequest) error {
	client := connect.NewClient[rpc.RunTaskStreamRequest, rpc.RunTaskEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.RunTaskStreamRequest{Run: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.RunTaskStreamRequest{Cancel: true, SessionID: reqBody.SessionID, CorrelationID: reqBody.CorrelationID})
		_ = stream.CloseRequest()
	}()

	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := renderEvent(cmd, *evt); err != nil {
			return err
		}
	}
	_ = stream.CloseRequest()
	return stream.CloseResponse()
}

func renderEvent(cmd *cobra.Command, evt rpc.RunTaskEvent) error {
	out := cmd.OutOrStdout()
	switch evt.Type {
	case rpc.EventIteration:
		fmt.Fprintf(out, "=== Iteration %d (%d actions) ===\n", evt.Iteration, evt.Actions)
	case rpc.EventMessage:
		fmt.Fprintln(out, evt.Message)
	case rpc.EventAction:
		status := "ok"
		if evt.IsError {
			status = "error"
		}
		fmt.Fprintf(out, "[%s %s] %s\n", evt.Action, status, evt.Message)
	case rpc.EventThrottle:
		fmt.Fprintf(out, "[throttled] retrying in %dms (attempt %d)\n", evt.WaitMillis, evt.Attempt)
	case rpc.EventDone:
		fmt.Fprintf(out, "[%s] %s after %d iterations, %d actions\n", evt.State, evt.FinishReason, evt.Iteration, evt.Actions)
		if evt.Error != "" {
			return fmt.Errorf("run %s: %s", evt.FinishReason, evt.Error)
		}
	case rpc.EventError:
		return fmt.Errorf("daemon error: %s", evt.Error)
	}
	return nil
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
