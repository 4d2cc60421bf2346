// Package agentos is the HTTP/SSE client for the AgentOS remote execution
// service. A local thread maps to one remote "case": the case is created,
// its event stream consumed, and user input forwarded as case messages.
package agentos

import "encoding/json"

// CreateCaseRequest is the body of POST /api/cases.
type CreateCaseRequest struct {
	ProjectID string `json:"projectId"`
}

// CreateCaseResponse is the reply to a case creation.
type CreateCaseResponse struct {
	ID string `json:"id"`
}

// SendMessageRequest is the body of POST /api/cases/{id}/messages.
type SendMessageRequest struct {
	Content         string `json:"content"`
	UserID          string `json:"userId"`
	AnswerToEventID string `json:"answerToEventId,omitempty"`
}

// RemoteEvent is one parsed record from the case event stream.
type RemoteEvent struct {
	Type string
	ID   string
	Data []byte
}

// EventHandler receives each parsed record in stream order.
type EventHandler func(ev RemoteEvent)

// remoteMessageData is the data shape of a remote `message` record.
type remoteMessageData struct {
	Actor struct {
		Role        string `json:"role"`
		DisplayName string `json:"displayName"`
	} `json:"actor"`
	Content []struct {
		Content string `json:"content"`
	} `json:"content"`
}

// remoteToolData covers both tool_request and tool_response records.
type remoteToolData struct {
	ToolRequestID string          `json:"toolRequestId"`
	ToolName      string          `json:"toolName"`
	Args          json.RawMessage `json:"args"`
	Output        json.RawMessage `json:"output"`
}

// remoteChunkData is the data shape of a remote `text_chunk` record.
type remoteChunkData struct {
	Chunk string `json:"chunk"`
}

// remoteDiagnosticData is the data shape of warning and error records.
type remoteDiagnosticData struct {
	Message string `json:"message"`
}
