package handlers

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/response"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/thread"
)

// ThreadHandler serves the merged view of a supplier conversation
type ThreadHandler struct {
	threads thread.Service
}

// NewThreadHandler creates a new ThreadHandler
func NewThreadHandler(threads thread.Service) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

// Get handles GET /api/threads/:conversation_id. The view folds every
// extracted record of the conversation into current values with
// per-field provenance.
func (h *ThreadHandler) Get(c echo.Context) error {
	conversationID := strings.TrimSpace(c.Param("conversation_id"))
	if conversationID == "" {
		return response.BadRequest(c, "conversation ID is required")
	}

	view, err := h.threads.Summary(c.Request().Context(), conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "conversation not found")
		}
		return response.InternalError(c, "failed to build conversation view")
	}

	return response.Success(c, view)
}
