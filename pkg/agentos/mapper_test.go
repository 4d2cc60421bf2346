package agentos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestMapEvent(t *testing.T) {
	log := testLogger(t)

	tests := []struct {
		name    string
		remote  RemoteEvent
		want    events.Event
		dropped bool
	}{
		{
			name: "agent message",
			remote: RemoteEvent{
				Type: "message",
				ID:   "01HZZ",
				Data: []byte(`{"actor":{"role":"AGENT","displayName":"Helper"},"content":[{"content":"ok"}]}`),
			},
			want: events.Event{
				Type: events.TypeMessage, Timestamp: "01HZZ",
				Role: events.RoleAssistant, Name: "Helper",
				Content: []events.ContentBlock{{Type: events.ContentText, Content: "ok"}},
			},
		},
		{
			name: "user message without display name",
			remote: RemoteEvent{
				Type: "message",
				ID:   "01AAA",
				Data: []byte(`{"actor":{"role":"USER"},"content":[{"content":"hi"}]}`),
			},
			want: events.Event{
				Type: events.TypeMessage, Timestamp: "01AAA",
				Role: events.RoleUser, Name: "user",
				Content: []events.ContentBlock{{Type: events.ContentText, Content: "hi"}},
			},
		},
		{
			name: "unknown actor role defaults to assistant",
			remote: RemoteEvent{
				Type: "message",
				ID:   "01BBB",
				Data: []byte(`{"actor":{"role":"SYSTEM"},"content":[{"content":"x"}]}`),
			},
			want: events.Event{
				Type: events.TypeMessage, Timestamp: "01BBB",
				Role: events.RoleAssistant, Name: "assistant",
				Content: []events.ContentBlock{{Type: events.ContentText, Content: "x"}},
			},
		},
		{
			name:   "thinking",
			remote: RemoteEvent{Type: "thinking", ID: "01CCC", Data: []byte(`{}`)},
			want:   events.Event{Type: events.TypeThinking, Timestamp: "01CCC"},
		},
		{
			name: "tool request stringifies args",
			remote: RemoteEvent{
				Type: "tool_request",
				ID:   "01DDD",
				Data: []byte(`{"toolRequestId":"tr-1","toolName":"search","args":{"q":"go"}}`),
			},
			want: events.Event{
				Type: events.TypeToolRequest, Timestamp: "01DDD",
				ToolRequestID: "tr-1", Name: "search", Args: `{"q":"go"}`,
			},
		},
		{
			name: "tool request falls back to event id",
			remote: RemoteEvent{
				Type: "tool_request",
				ID:   "01EEE",
				Data: []byte(`{"toolName":"search"}`),
			},
			want: events.Event{
				Type: events.TypeToolRequest, Timestamp: "01EEE",
				ToolRequestID: "01EEE", Name: "search",
			},
		},
		{
			name: "tool response with string output",
			remote: RemoteEvent{
				Type: "tool_response",
				ID:   "01FFF",
				Data: []byte(`{"toolRequestId":"tr-1","output":"done"}`),
			},
			want: events.Event{
				Type: events.TypeToolResponse, Timestamp: "01FFF",
				ToolRequestID: "tr-1", Output: "done",
			},
		},
		{
			name: "tool response stringifies object output",
			remote: RemoteEvent{
				Type: "tool_response",
				ID:   "01GGG",
				Data: []byte(`{"toolRequestId":"tr-2","output":{"rows":3}}`),
			},
			want: events.Event{
				Type: events.TypeToolResponse, Timestamp: "01GGG",
				ToolRequestID: "tr-2", Output: `{"rows":3}`,
			},
		},
		{
			name:   "text chunk",
			remote: RemoteEvent{Type: "text_chunk", ID: "01HHH", Data: []byte(`{"chunk":"par"}`)},
			want:   events.Event{Type: events.TypeTextChunk, Timestamp: "01HHH", Chunk: "par"},
		},
		{
			name:   "warning uses message field",
			remote: RemoteEvent{Type: "warning", ID: "01III", Data: []byte(`{"message":"careful"}`)},
			want:   events.Event{Type: events.TypeWarn, Timestamp: "01III", Warning: "careful"},
		},
		{
			name:   "warning falls back to raw data",
			remote: RemoteEvent{Type: "warning", ID: "01JJJ", Data: []byte(`raw text`)},
			want:   events.Event{Type: events.TypeWarn, Timestamp: "01JJJ", Warning: "raw text"},
		},
		{
			name:   "error uses message field",
			remote: RemoteEvent{Type: "error", ID: "01KKK", Data: []byte(`{"message":"boom"}`)},
			want:   events.Event{Type: events.TypeError, Timestamp: "01KKK", Error: "boom"},
		},
		{
			name:    "agent_selected dropped",
			remote:  RemoteEvent{Type: "agent_selected", ID: "x", Data: []byte(`{}`)},
			dropped: true,
		},
		{
			name:    "agent_running dropped",
			remote:  RemoteEvent{Type: "agent_running", ID: "x", Data: []byte(`{}`)},
			dropped: true,
		},
		{
			name:    "agent_finished dropped",
			remote:  RemoteEvent{Type: "agent_finished", ID: "x", Data: []byte(`{}`)},
			dropped: true,
		},
		{
			name:    "status dropped",
			remote:  RemoteEvent{Type: "status", ID: "x", Data: []byte(`{}`)},
			dropped: true,
		},
		{
			name:    "unknown dropped",
			remote:  RemoteEvent{Type: "telemetry", ID: "x", Data: []byte(`{}`)},
			dropped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MapEvent(tt.remote, log)
			if tt.dropped {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
