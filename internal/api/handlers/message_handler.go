package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/response"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// MessageHandler handles message-related HTTP requests
type MessageHandler struct {
	messageRepo repository.MessageRepository
	mailboxRepo repository.MailboxRepository
	coordinator ingest.Coordinator
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(messageRepo repository.MessageRepository, mailboxRepo repository.MailboxRepository, coordinator ingest.Coordinator) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		mailboxRepo: mailboxRepo,
		coordinator: coordinator,
	}
}

// List handles GET /api/mailboxes/:mailbox_id/messages
func (h *MessageHandler) List(c echo.Context) error {
	mailboxID, err := strconv.ParseUint(c.Param("mailbox_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	// Verify mailbox exists
	_, err = h.mailboxRepo.GetByID(c.Request().Context(), uint(mailboxID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "mailbox not found")
		}
		return response.InternalError(c, "failed to get mailbox")
	}

	limit := 20
	offset := 0

	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	messages, total, err := h.messageRepo.ListByMailbox(c.Request().Context(), uint(mailboxID), limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list messages")
	}

	return response.Paginated(c, messages, total, limit, offset)
}

// Get handles GET /api/messages/:id. The extracted record, its product
// line items and the attachments come preloaded.
func (h *MessageHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	message, err := h.messageRepo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	return response.Success(c, message)
}

// Reprocess handles POST /api/messages/:id/process. Failed messages can
// be pushed through the pipeline again once the underlying problem is
// fixed.
func (h *MessageHandler) Reprocess(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	message, err := h.messageRepo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	if message.Status != models.MessageStatusFailed {
		return response.BadRequest(c, "only failed messages can be reprocessed")
	}

	if err := h.coordinator.Process(c.Request().Context(), uint(id)); err != nil {
		return response.Error(c, err)
	}

	updated, err := h.messageRepo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		return response.InternalError(c, "failed to reload message")
	}

	return response.SuccessWithMessage(c, updated, "message reprocessed")
}

// Delete handles DELETE /api/messages/:id
func (h *MessageHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	if err := h.messageRepo.Delete(c.Request().Context(), uint(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to delete message")
	}

	return response.NoContent(c)
}
