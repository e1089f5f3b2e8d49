package history

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/deskpilot/deskpilot/internal/llm"
)

func imageResult(id, data string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: []llm.Block{
		&llm.ToolResultBlock{ToolUseID: id, Content: []llm.Block{&llm.ImageBlock{MediaType: "image/png", Data: data}}},
	}}
}

func TestNewRejectsOddWindow(t *testing.T) {
	_, err := New(llm.UserText("task"), 59)
	require.Error(t, err)
	_, err = New(llm.UserText("task"), 0)
	require.Error(t, err)
}

func TestStripStaleImagesBlanksAllPayloads(t *testing.T) {
	log, err := New(llm.UserText("task"), DefaultWindow)
	require.NoError(t, err)
	log.Append(llm.Message{Role: llm.RoleAssistant, Content: []llm.Block{&llm.ToolUseBlock{ID: "a"}}})
	log.Append(imageResult("a", "AAAA"))
	log.Append(llm.Message{Role: llm.RoleUser, Content: []llm.Block{&llm.ImageBlock{MediaType: "image/png", Data: "BBBB"}}})

	require.Equal(t, 2, log.StripStaleImages())

	for _, m := range log.Messages() {
		for _, b := range m.Content {
			switch v := b.(type) {
			case *llm.ImageBlock:
				require.Empty(t, v.Data)
				require.Equal(t, "image/png", v.MediaType)
			case *llm.ToolResultBlock:
				for _, c := range v.Content {
					require.Empty(t, c.(*llm.ImageBlock).Data)
				}
			}
		}
	}
}

func TestStripStaleImagesIsIdempotent(t *testing.T) {
	msgs := []llm.Message{llm.UserText("task"), imageResult("a", "AAAA"), imageResult("b", "BBBB")}
	require.Equal(t, 2, StripImages(msgs))

	once := fmt.Sprintf("%+v", dump(msgs))
	require.Zero(t, StripImages(msgs))
	if diff := cmp.Diff(once, fmt.Sprintf("%+v", dump(msgs))); diff != "" {
		t.Fatalf("second strip changed history (-first +second):\n%s", diff)
	}
}

func TestTruncateKeepsFirstAndWindow(t *testing.T) {
	log, err := New(llm.UserText("task"), 4)
	require.NoError(t, err)
	for i := 1; i <= 9; i++ {
		log.Append(llm.UserText(fmt.Sprintf("m%d", i)))
	}

	require.Zero(t, log.Truncate(false))
	require.Equal(t, 10, log.Len())

	require.Equal(t, 5, log.Truncate(true))
	got := dump(log.Messages())
	want := []string{"task", "m6", "m7", "m8", "m9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
}

func TestTruncateShortHistoryUntouched(t *testing.T) {
	log, err := New(llm.UserText("task"), DefaultWindow)
	require.NoError(t, err)
	for i := 0; i < DefaultWindow; i++ {
		log.Append(llm.UserText("x"))
	}
	require.Zero(t, log.Truncate(true))
	require.Equal(t, DefaultWindow+1, log.Len())

	log.Append(llm.UserText("y"))
	require.Equal(t, 1, log.Truncate(true))
	require.Equal(t, DefaultWindow+1, log.Len())
	require.Equal(t, "task", dump(log.Messages())[0])
}

func dump(msgs []llm.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var s string
		for _, b := range m.Content {
			switch v := b.(type) {
			case *llm.TextBlock:
				s += v.Text
			case *llm.ImageBlock:
				s += "img:" + v.Data
			case *llm.ToolResultBlock:
				s += "result:" + v.ToolUseID
				for _, c := range v.Content {
					if img, ok := c.(*llm.ImageBlock); ok {
						s += ":img:" + img.Data
					}
				}
			}
		}
		out = append(out, s)
	}
	return out
}
