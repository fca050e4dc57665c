package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/response"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// MailboxHandler handles mailbox-related HTTP requests
type MailboxHandler struct {
	mailboxRepo repository.MailboxRepository
	coordinator ingest.Coordinator
}

// NewMailboxHandler creates a new MailboxHandler
func NewMailboxHandler(mailboxRepo repository.MailboxRepository, coordinator ingest.Coordinator) *MailboxHandler {
	return &MailboxHandler{
		mailboxRepo: mailboxRepo,
		coordinator: coordinator,
	}
}

// CreateMailboxRequest represents the request body for registering a
// monitored mailbox
type CreateMailboxRequest struct {
	Address     string `json:"address" validate:"required,email"`
	DisplayName string `json:"display_name"`
}

// UpdateMailboxRequest toggles whether the scheduler polls the mailbox
type UpdateMailboxRequest struct {
	Enabled *bool `json:"enabled"`
}

// Create handles POST /api/mailboxes
func (h *MailboxHandler) Create(c echo.Context) error {
	var req CreateMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	address := strings.ToLower(strings.TrimSpace(req.Address))
	if address == "" || !strings.Contains(address, "@") {
		return response.BadRequest(c, "a valid address is required")
	}

	mailbox := &models.Mailbox{
		Address:     address,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Enabled:     true,
	}

	if err := h.mailboxRepo.Create(c.Request().Context(), mailbox); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return response.Conflict(c, "mailbox already registered")
		}
		return response.InternalError(c, "failed to create mailbox")
	}

	return response.Created(c, mailbox)
}

// List handles GET /api/mailboxes. Each entry carries the number of
// messages awaiting human review.
func (h *MailboxHandler) List(c echo.Context) error {
	enabledOnly := c.QueryParam("enabled") == "true"

	mailboxes, err := h.mailboxRepo.List(c.Request().Context(), enabledOnly)
	if err != nil {
		return response.InternalError(c, "failed to list mailboxes")
	}

	return response.Success(c, mailboxes)
}

// Get handles GET /api/mailboxes/:id
func (h *MailboxHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	mailbox, err := h.mailboxRepo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "mailbox not found")
		}
		return response.InternalError(c, "failed to get mailbox")
	}

	return response.Success(c, mailbox)
}

// Update handles PATCH /api/mailboxes/:id
func (h *MailboxHandler) Update(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	var req UpdateMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.Enabled == nil {
		return response.BadRequest(c, "enabled is required")
	}

	if err := h.mailboxRepo.SetEnabled(c.Request().Context(), uint(id), *req.Enabled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "mailbox not found")
		}
		return response.InternalError(c, "failed to update mailbox")
	}

	return response.SuccessWithMessage(c, nil, "mailbox updated")
}

// Sync handles POST /api/mailboxes/:id/sync. The poll runs inline and
// returns its counters; a poll already running for the mailbox yields
// a conflict.
func (h *MailboxHandler) Sync(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	stats, err := h.coordinator.Poll(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "mailbox not found")
		}
		return response.Error(c, err)
	}

	return response.SuccessWithMessage(c, stats, "mailbox synced")
}

// Delete handles DELETE /api/mailboxes/:id
func (h *MailboxHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	if err := h.mailboxRepo.Delete(c.Request().Context(), uint(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "mailbox not found")
		}
		return response.InternalError(c, "failed to delete mailbox")
	}

	return response.NoContent(c)
}
