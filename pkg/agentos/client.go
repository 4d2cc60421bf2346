package agentos

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coday/coday/internal/common/logger"
)

// uuidPattern gates the answerToEventId forwarded to the remote. Local
// event-ids are timestamps, not UUIDs, so most of them are filtered out
// here; the remote treats a missing field as "answer to the latest invite".
var uuidPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Client manages HTTP communication with one AgentOS server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates an AgentOS client for the given base URL.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log,
	}
}

// CreateCase creates a remote case for the project and returns its id.
func (c *Client) CreateCase(ctx context.Context, projectID string) (string, error) {
	body, err := json.Marshal(CreateCaseRequest{ProjectID: projectID})
	if err != nil {
		return "", fmt.Errorf("marshal case request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/cases", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create case request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create case: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create case failed: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var created CreateCaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("parse case response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create case returned empty id")
	}
	return created.ID, nil
}

// StreamEvents opens the case event stream and invokes handler per record,
// blocking until the stream ends or the context is cancelled. The caller
// runs it in its own goroutine. A clean server-side close returns nil; the
// client never reconnects on its own.
func (c *Client) StreamEvents(ctx context.Context, caseID string, handler EventHandler) error {
	url := fmt.Sprintf("%s/api/cases/%s/events", c.baseURL, caseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create event stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// SSE connections stay open indefinitely, so bypass the default timeout.
	sseClient := &http.Client{}
	resp, err := sseClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("event stream failed: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	c.logger.Debug("agentos event stream connected", zap.String("case_id", caseID))
	return c.consume(ctx, resp.Body, handler)
}

// consume parses `event:`/`id:`/`data:` records off the stream. Partial
// chunks accumulate until the blank-line terminator; records without data
// are skipped.
func (c *Client) consume(ctx context.Context, body io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var eventType, eventID string
	var data strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			eventID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "":
			if data.Len() > 0 {
				handler(RemoteEvent{Type: eventType, ID: eventID, Data: []byte(data.String())})
			}
			eventType, eventID = "", ""
			data.Reset()
		}
	}

	if err := scanner.Err(); err != nil {
		// Cancellation surfaces as a read error on the response body.
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("event stream read: %w", err)
	}
	return nil
}

// SendMessage forwards user input to the case. answerToEventID is attached
// only when it matches the remote's UUID id space; anything else (notably
// local timestamp ids) is dropped.
func (c *Client) SendMessage(ctx context.Context, caseID, content, userID, answerToEventID string) error {
	msg := SendMessageRequest{Content: content, UserID: userID}
	if uuidPattern.MatchString(answerToEventID) {
		msg.AnswerToEventID = answerToEventID
	} else if answerToEventID != "" {
		c.logger.Debug("dropping non-uuid answerToEventId", zap.String("answer_to_event_id", answerToEventID))
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/api/cases/%s/messages", c.baseURL, caseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send message failed: HTTP %d: %s", resp.StatusCode, string(raw))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StopCase halts the case's current turn. Fire-and-forget: errors are swallowed.
func (c *Client) StopCase(ctx context.Context, caseID string) {
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/cases/%s/stop", c.baseURL, caseID)
	req, err := http.NewRequestWithContext(stopCtx, http.MethodPost, url, nil)
	if err != nil {
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("stop case failed", zap.String("case_id", caseID), zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
}

// DeleteCase destroys the remote case.
func (c *Client) DeleteCase(ctx context.Context, caseID string) error {
	url := fmt.Sprintf("%s/api/cases/%s", c.baseURL, caseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete case failed: HTTP %d: %s", resp.StatusCode, string(raw))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
