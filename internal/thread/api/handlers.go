package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
	"github.com/coday/coday/internal/images"
	"github.com/coday/coday/internal/manager"
	"github.com/coday/coday/internal/runtime"
	"github.com/coday/coday/internal/thread/store"
)

// Handler serves the thread endpoints on top of the instance registry.
type Handler struct {
	registry *manager.Registry
	images   *images.Processor
	logger   *logger.Logger
}

// NewHandler creates the thread API handler.
func NewHandler(registry *manager.Registry, processor *images.Processor, log *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		images:   processor,
		logger:   log,
	}
}

// RegisterRoutes mounts the thread endpoints under the given group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	threads := api.Group("/projects/:project/threads/:threadId")
	threads.GET("/event-stream", h.EventStream)
	threads.POST("/messages", h.PostMessage)
	threads.GET("/messages", h.ListMessages)
	threads.GET("/messages/:messageId", h.GetMessage)
	threads.DELETE("/messages/:messageId", h.DeleteMessage)
	threads.POST("/stop", h.StopThread)
	threads.POST("/upload", h.UploadImage)
}

// EventStream is the SSE endpoint: it attaches the response as a subscriber
// of the thread's instance, creating and starting it on first contact, and
// blocks until either side closes the connection.
func (h *Handler) EventStream(c *gin.Context) {
	project := c.Param("project")
	threadID := c.Param("threadId")
	if project == "" || threadID == "" {
		_ = c.Error(apperrors.BadRequest("project and threadId are required"))
		return
	}
	username := c.GetString(identityKey)

	// Reject cross-user access before the stream headers are committed;
	// once a subscriber is attached, replay may write immediately.
	if existing, ok := h.registry.Get(threadID); ok && existing.Username() != username {
		_ = c.Error(apperrors.Forbidden("thread belongs to another user"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sub := newSSESubscriber(c.Writer)
	inst, err := h.registry.GetOrCreate(c.Request.Context(), threadID, project, username, sub)
	if err != nil {
		_ = sub.Close()
		h.logger.WithError(err).Warn("event-stream registration failed")
		return
	}

	// "already running" is not an error here.
	_ = inst.Start(c.Request.Context())

	select {
	case <-c.Request.Context().Done():
	case <-sub.Done():
	}

	_ = sub.Close()
	h.registry.RemoveConnection(threadID, sub)
}

// PostMessage routes an inbound payload: oauth callbacks to the integration
// path, everything else as a user answer.
func (h *Handler) PostMessage(c *gin.Context) {
	inst, ok := h.resolveOwned(c)
	if !ok {
		return
	}

	var payload MessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		_ = c.Error(apperrors.BadRequest("invalid message payload"))
		return
	}

	var err error
	if payload.Type == "oauth_callback" {
		err = inst.SendOAuthCallback(c.Request.Context(), runtime.OAuthCallback{
			Integration: payload.Integration,
			Code:        payload.Code,
			State:       payload.State,
		})
	} else {
		err = inst.SendAnswer(c.Request.Context(), payload.Answer, payload.AnswerToEventID, nil)
	}
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.String(http.StatusOK, "message received")
}

// ListMessages returns the persisted conversation of a local thread.
func (h *Handler) ListMessages(c *gin.Context) {
	inst, ok := h.resolveOwned(c)
	if !ok {
		return
	}

	msgs, err := inst.Messages(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// GetMessage returns one persisted message by id.
func (h *Handler) GetMessage(c *gin.Context) {
	inst, ok := h.resolveOwned(c)
	if !ok {
		return
	}

	messageID := c.Param("messageId")
	msgs, err := inst.Messages(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	for _, msg := range msgs {
		if msg.ID == messageID {
			c.JSON(http.StatusOK, msg)
			return
		}
	}
	_ = c.Error(apperrors.NotFound("message", messageID))
}

// DeleteMessage truncates the conversation at a user message. Other live
// subscribers are not notified; their view goes stale until reload.
func (h *Handler) DeleteMessage(c *gin.Context) {
	inst, ok := h.resolveOwned(c)
	if !ok {
		return
	}

	messageID := c.Param("messageId")
	err := inst.TruncateAt(c.Request.Context(), messageID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case stderrors.Is(err, store.ErrMessageNotFound),
		stderrors.Is(err, store.ErrNotUserMessage),
		stderrors.Is(err, store.ErrFirstMessage):
		_ = c.Error(apperrors.BadRequest(err.Error()))
	default:
		_ = c.Error(err)
	}
}

// StopThread cancels the thread's current turn.
func (h *Handler) StopThread(c *gin.Context) {
	inst, ok := h.resolveOwned(c)
	if !ok {
		return
	}

	if err := inst.Stop(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UploadImage validates a base64 image and injects it into the thread's
// inbound queue.
func (h *Handler) UploadImage(c *gin.Context) {
	inst, ok := h.resolveOwned(c)
	if !ok {
		return
	}

	var payload UploadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		_ = c.Error(apperrors.BadRequest("content and mimeType are required"))
		return
	}

	processed, err := h.images.Process(payload.Content, payload.MimeType, payload.Filename)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := inst.SendAnswer(c.Request.Context(), "", "", []events.ContentBlock{processed.Block()}); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, processed)
}

// resolveOwned resolves the thread instance and enforces ownership: 404 for
// unknown threads, 403 when the caller is not the owner.
func (h *Handler) resolveOwned(c *gin.Context) (manager.Instance, bool) {
	threadID := c.Param("threadId")
	inst, ok := h.registry.Get(threadID)
	if !ok {
		_ = c.Error(apperrors.NotFound("thread", threadID))
		return nil, false
	}

	if inst.Username() != c.GetString(identityKey) {
		_ = c.Error(apperrors.Forbidden("thread belongs to another user"))
		return nil, false
	}
	return inst, true
}
