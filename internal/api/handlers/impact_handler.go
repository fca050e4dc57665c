package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/response"
	apperrors "github.com/aiplanet-ds/wci-emailagent-sub000/internal/errors"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// ImpactHandler handles impact analysis HTTP requests
type ImpactHandler struct {
	impactRepo  repository.ImpactRepository
	messageRepo repository.MessageRepository
	analyzer    impact.Service
}

// NewImpactHandler creates a new ImpactHandler
func NewImpactHandler(impactRepo repository.ImpactRepository, messageRepo repository.MessageRepository, analyzer impact.Service) *ImpactHandler {
	return &ImpactHandler{
		impactRepo:  impactRepo,
		messageRepo: messageRepo,
		analyzer:    analyzer,
	}
}

// AnalyzeRequest optionally supplies demand for parts the ERP has no
// forecast for
type AnalyzeRequest struct {
	WeeklyDemand *float64 `json:"weekly_demand"`
}

// ApproveRequest carries the approver identity
type ApproveRequest struct {
	Approver string `json:"approver" validate:"required"`
}

// ListByMessage handles GET /api/messages/:id/impacts
func (h *ImpactHandler) ListByMessage(c echo.Context) error {
	messageID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	// Verify message exists
	if _, err := h.messageRepo.GetByID(c.Request().Context(), uint(messageID)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	results, err := h.impactRepo.ListByMessage(c.Request().Context(), uint(messageID))
	if err != nil {
		return response.InternalError(c, "failed to list impact results")
	}

	return response.Success(c, results)
}

// Analyze handles POST /api/messages/:id/analyze. Re-running replaces
// the message's prior results; an optional weekly_demand fills in for
// missing forecasts.
func (h *ImpactHandler) Analyze(c echo.Context) error {
	messageID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	var override *impact.DemandOverride
	if req.WeeklyDemand != nil {
		if *req.WeeklyDemand <= 0 {
			return response.BadRequest(c, "weekly_demand must be positive")
		}
		override = &impact.DemandOverride{WeeklyDemand: *req.WeeklyDemand}
	}

	message, err := h.messageRepo.GetByID(c.Request().Context(), uint(messageID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	results, err := h.analyzer.Analyze(c.Request().Context(), uint(messageID), message.Record, override)
	if err != nil {
		// An unknown supplier is a recorded verdict, not a pipeline
		// failure: the message still counts as analyzed.
		if apperrors.IsReviewError(err) {
			if recErr := h.messageRepo.RecordProcessingError(c.Request().Context(), uint(messageID),
				models.MessageStatusAnalyzed, err.Error()); recErr != nil {
				return response.InternalError(c, "failed to record analysis verdict")
			}
		}
		return response.Error(c, err)
	}

	if err := h.messageRepo.UpdateStatus(c.Request().Context(), uint(messageID), models.MessageStatusAnalyzed); err != nil {
		return response.InternalError(c, "failed to update message status")
	}

	return response.Success(c, results)
}

// Get handles GET /api/impacts/:id
func (h *ImpactHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid impact result ID")
	}

	result, err := h.impactRepo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "impact result not found")
		}
		return response.InternalError(c, "failed to get impact result")
	}

	return response.Success(c, result)
}

// Approve handles POST /api/impacts/:id/approve
func (h *ImpactHandler) Approve(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid impact result ID")
	}

	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	approver := strings.TrimSpace(req.Approver)
	if approver == "" {
		return response.BadRequest(c, "approver is required")
	}

	result, err := h.impactRepo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "impact result not found")
		}
		return response.InternalError(c, "failed to get impact result")
	}

	if result.Failed() {
		return response.BadRequest(c, "blocked or errored results cannot be approved")
	}

	if err := h.impactRepo.Approve(c.Request().Context(), uint(id), approver); err != nil {
		return response.InternalError(c, "failed to approve impact result")
	}

	return response.SuccessWithMessage(c, nil, "impact result approved")
}
