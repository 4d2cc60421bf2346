package agentos

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
)

// MapEvent translates one remote record into the local event taxonomy.
// The remote event-id becomes the local timestamp. Agent lifecycle and
// status records carry no information the browser needs, so they are
// dropped; unknown types are dropped with a debug trace.
func MapEvent(ev RemoteEvent, log *logger.Logger) (events.Event, bool) {
	switch ev.Type {
	case "message":
		return mapMessage(ev), true

	case "thinking":
		return events.Event{Type: events.TypeThinking, Timestamp: ev.ID}, true

	case "tool_request":
		var data remoteToolData
		_ = json.Unmarshal(ev.Data, &data)
		return events.Event{
			Type:          events.TypeToolRequest,
			Timestamp:     ev.ID,
			ToolRequestID: orDefault(data.ToolRequestID, ev.ID),
			Name:          data.ToolName,
			Args:          rawToString(data.Args),
		}, true

	case "tool_response":
		var data remoteToolData
		_ = json.Unmarshal(ev.Data, &data)
		return events.Event{
			Type:          events.TypeToolResponse,
			Timestamp:     ev.ID,
			ToolRequestID: orDefault(data.ToolRequestID, ev.ID),
			Output:        rawToString(data.Output),
		}, true

	case "text_chunk":
		var data remoteChunkData
		_ = json.Unmarshal(ev.Data, &data)
		return events.Event{Type: events.TypeTextChunk, Timestamp: ev.ID, Chunk: data.Chunk}, true

	case "warning":
		return events.Event{Type: events.TypeWarn, Timestamp: ev.ID, Warning: diagnosticText(ev.Data)}, true

	case "error":
		return events.Event{Type: events.TypeError, Timestamp: ev.ID, Error: diagnosticText(ev.Data)}, true

	case "agent_selected", "agent_running", "agent_finished", "status":
		return events.Event{}, false

	default:
		log.Debug("dropping unknown remote event", zap.String("remote_type", ev.Type))
		return events.Event{}, false
	}
}

func mapMessage(ev RemoteEvent) events.Event {
	var data remoteMessageData
	_ = json.Unmarshal(ev.Data, &data)

	role := events.RoleAssistant
	if strings.EqualFold(data.Actor.Role, "USER") {
		role = events.RoleUser
	}

	name := data.Actor.DisplayName
	if name == "" {
		name = role
	}

	content := make([]events.ContentBlock, 0, len(data.Content))
	for _, block := range data.Content {
		content = append(content, events.ContentBlock{Type: events.ContentText, Content: block.Content})
	}

	return events.Event{
		Type:      events.TypeMessage,
		Timestamp: ev.ID,
		Role:      role,
		Name:      name,
		Content:   content,
	}
}

// rawToString renders a raw JSON value: strings unquoted, everything else as
// its JSON text.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func diagnosticText(data []byte) string {
	var d remoteDiagnosticData
	if err := json.Unmarshal(data, &d); err == nil && d.Message != "" {
		return d.Message
	}
	return string(data)
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
