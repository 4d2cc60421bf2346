// Package events defines the event taxonomy streamed to browsers over SSE.
package events

import (
	"encoding/json"
	"time"
)

// Event types understood end-to-end. Unknown types are forwarded unchanged
// by the local backend so that runtime extensions reach the browser.
const (
	TypeMessage      = "message"
	TypeThinking     = "thinking"
	TypeToolRequest  = "tool_request"
	TypeToolResponse = "tool_response"
	TypeTextChunk    = "text_chunk"
	TypeWarn         = "warn"
	TypeError        = "error"
	TypeInvite       = "invite"
	TypeHeartbeat    = "heartbeat"
	TypeAnswer       = "answer"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	ContentText  = "text"
	ContentImage = "image"
)

// ContentBlock is one unit of message content: plain text or a base64 image.
type ContentBlock struct {
	Type     string `json:"type" yaml:"type"`
	Content  string `json:"content" yaml:"content"`
	MimeType string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
}

// Event is the tagged record written to SSE subscribers. Only Type is
// mandatory; the remaining fields are populated per type.
type Event struct {
	Type          string         `json:"type"`
	Timestamp     string         `json:"timestamp,omitempty"`
	Role          string         `json:"role,omitempty"`
	Name          string         `json:"name,omitempty"`
	Content       []ContentBlock `json:"content,omitempty"`
	ToolRequestID string         `json:"toolRequestId,omitempty"`
	Args          string         `json:"args,omitempty"`
	Output        string         `json:"output,omitempty"`
	Chunk         string         `json:"chunk,omitempty"`
	Warning       string         `json:"warning,omitempty"`
	Error         string         `json:"error,omitempty"`
	Invite        string         `json:"invite,omitempty"`
	Answer        string         `json:"answer,omitempty"`
}

// NewTimestamp returns the event-id timestamp string used for local events.
func NewTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewMessage builds a message event with text content.
func NewMessage(role, name, text string) Event {
	return Event{
		Type:      TypeMessage,
		Timestamp: NewTimestamp(),
		Role:      role,
		Name:      name,
		Content:   []ContentBlock{{Type: ContentText, Content: text}},
	}
}

// NewThinking builds a thinking keep-busy event.
func NewThinking() Event {
	return Event{Type: TypeThinking, Timestamp: NewTimestamp()}
}

// NewTextChunk builds a streamed text chunk event.
func NewTextChunk(chunk string) Event {
	return Event{Type: TypeTextChunk, Timestamp: NewTimestamp(), Chunk: chunk}
}

// NewWarn builds a warning event.
func NewWarn(warning string) Event {
	return Event{Type: TypeWarn, Timestamp: NewTimestamp(), Warning: warning}
}

// NewError builds an error event.
func NewError(message string) Event {
	return Event{Type: TypeError, Timestamp: NewTimestamp(), Error: message}
}

// NewInvite builds the invite event that unblocks the browser prompt.
func NewInvite(invite string) Event {
	return Event{Type: TypeInvite, Timestamp: NewTimestamp(), Invite: invite}
}

// NewHeartbeat builds the periodic keep-alive event.
func NewHeartbeat() Event {
	return Event{Type: TypeHeartbeat, Timestamp: NewTimestamp()}
}

// Encode serializes the event to single-line JSON. encoding/json escapes
// embedded newlines, which the SSE framing relies on.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
