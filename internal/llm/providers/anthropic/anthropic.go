// Package anthropic adapts the Anthropic Messages streaming API to llm.Provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/version"
)

// OmittedImage replaces image payloads that were stripped from the history.
const OmittedImage = "[screenshot omitted]"

// Provider streams model responses from the Anthropic API. The SDK's own retries are
// disabled; throttling surfaces as *llm.RateLimitError.
type Provider struct {
	name   string
	client sdk.Client
}

// NewProvider constructs a Provider. timeout bounds the wait for response headers, not the stream.
func NewProvider(name, baseURL, apiKey string, timeout time.Duration) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		opts = append(opts, option.WithHTTPClient(&http.Client{Transport: transport}))
	}
	return &Provider{name: name, client: sdk.NewClient(opts...)}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Stream opens a streaming request. The first event is read eagerly so HTTP failures,
// including throttling, are returned here rather than from the stream.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (llm.EventStream, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	src := p.client.Messages.NewStreaming(ctx, buildParams(req))
	s := &eventStream{src: src}
	s.primed, s.primedOK = true, src.Next()
	if !s.primedOK {
		if err := src.Err(); err != nil {
			_ = src.Close()
			return nil, classify(err)
		}
	}
	return s, nil
}

type sdkStream interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
	Close() error
}

type eventStream struct {
	src      sdkStream
	primed   bool
	primedOK bool
	cur      llm.StreamEvent
}

func (s *eventStream) Next() bool {
	for {
		var ok bool
		if s.primed {
			ok, s.primed = s.primedOK, false
		} else {
			ok = s.src.Next()
		}
		if !ok {
			s.cur = nil
			return false
		}
		if ev, keep := convertEvent(s.src.Current()); keep {
			s.cur = ev
			return true
		}
	}
}

func (s *eventStream) Event() llm.StreamEvent { return s.cur }

func (s *eventStream) Err() error {
	if err := s.src.Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *eventStream) Close() error { return s.src.Close() }

// convertEvent maps SDK events onto stream events; message_start and message_delta are dropped.
func convertEvent(ev sdk.MessageStreamEventUnion) (llm.StreamEvent, bool) {
	switch v := ev.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		idx := int(v.Index)
		switch v.ContentBlock.Type {
		case "text":
			return llm.BlockStart{Index: idx, Block: &llm.TextBlock{Text: v.ContentBlock.Text}}, true
		case "tool_use":
			return llm.BlockStart{Index: idx, Block: &llm.ToolUseBlock{ID: v.ContentBlock.ID, Name: v.ContentBlock.Name}}, true
		default:
			return llm.BlockStart{Index: idx, Block: &llm.OpaqueBlock{Type: string(v.ContentBlock.Type)}}, true
		}
	case sdk.ContentBlockDeltaEvent:
		idx := int(v.Index)
		switch d := v.Delta.AsAny().(type) {
		case sdk.TextDelta:
			return llm.BlockDelta{Index: idx, Kind: llm.DeltaText, Payload: d.Text}, true
		case sdk.InputJSONDelta:
			return llm.BlockDelta{Index: idx, Kind: llm.DeltaInputJSON, Payload: d.PartialJSON}, true
		default:
			return llm.BlockDelta{Index: idx, Kind: llm.DeltaOther}, true
		}
	case sdk.ContentBlockStopEvent:
		return llm.BlockStop{Index: int(v.Index)}, true
	case sdk.MessageStopEvent:
		return llm.MessageStop{}, true
	}
	return nil, false
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		var h http.Header
		if apiErr.Response != nil {
			h = apiErr.Response.Header.Clone()
		}
		return &llm.RateLimitError{Header: h, Err: err}
	}
	return err
}
