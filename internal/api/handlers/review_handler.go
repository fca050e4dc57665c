package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/response"
	apperrors "github.com/aiplanet-ds/wci-emailagent-sub000/internal/errors"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// ReviewHandler handles the human review queue for messages whose
// sender did not match the vendor directory
type ReviewHandler struct {
	messageRepo repository.MessageRepository
	coordinator ingest.Coordinator
}

// NewReviewHandler creates a new ReviewHandler
func NewReviewHandler(messageRepo repository.MessageRepository, coordinator ingest.Coordinator) *ReviewHandler {
	return &ReviewHandler{
		messageRepo: messageRepo,
		coordinator: coordinator,
	}
}

// ReviewRequest carries the reviewer identity for approve and reject
// decisions
type ReviewRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
}

// ListPending handles GET /api/reviews/pending
func (h *ReviewHandler) ListPending(c echo.Context) error {
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

	messages, total, err := h.messageRepo.ListPendingReview(c.Request().Context(), limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list pending messages")
	}

	return response.Paginated(c, messages, total, limit, offset)
}

// Approve handles POST /api/reviews/:message_id/approve. The message
// re-enters the pipeline at classification, so an approved sender still
// has to pass the price change gate before anything is extracted.
func (h *ReviewHandler) Approve(c echo.Context) error {
	messageID, err := strconv.ParseUint(c.Param("message_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	reviewer, err := bindReviewer(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	if err := h.coordinator.ProcessApproved(c.Request().Context(), uint(messageID), reviewer); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.Error(c, err)
	}

	message, err := h.messageRepo.GetByID(c.Request().Context(), uint(messageID))
	if err != nil {
		return response.InternalError(c, "failed to reload message")
	}

	return response.SuccessWithMessage(c, message, "message approved and processed")
}

// Reject handles POST /api/reviews/:message_id/reject. Rejected
// messages keep their stored content but are excluded from any further
// processing.
func (h *ReviewHandler) Reject(c echo.Context) error {
	messageID, err := strconv.ParseUint(c.Param("message_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	reviewer, err := bindReviewer(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	message, err := h.messageRepo.GetByID(c.Request().Context(), uint(messageID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	if !message.AwaitingReview() {
		reviewErr := apperrors.NewInvalidMessageStatusError(uint(messageID), message.Status,
			models.MessageStatusPendingReview, "reject it")
		return response.ReviewIssue(c, reviewErr)
	}

	if err := h.messageRepo.RecordReview(c.Request().Context(), uint(messageID), reviewer, models.MessageStatusRejected); err != nil {
		return response.InternalError(c, "failed to record review")
	}

	return response.SuccessWithMessage(c, nil, "message rejected")
}

func bindReviewer(c echo.Context) (string, error) {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return "", errors.New("invalid request body")
	}
	reviewer := strings.TrimSpace(req.Reviewer)
	if reviewer == "" {
		return "", errors.New("reviewer is required")
	}
	return reviewer, nil
}
