package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5"

	"github.com/clipscope/clipscope-go/internal/middleware"
	"github.com/clipscope/clipscope-go/internal/model"
	"github.com/clipscope/clipscope-go/internal/pipeline"
	"github.com/clipscope/clipscope-go/internal/service"
)

// Config field defaults applied when a create payload omits them.
const (
	defaultMinViews        = 500000
	defaultDateRangeDays   = 7
	defaultScanIntervalHrs = 24
	defaultMaxVisionVideos = 5
	defaultScoreThreshold  = 70
)

var validate = validator.New()

// configPayload is the create/update request body. Pointer fields
// distinguish "omitted" from explicit zero values.
type configPayload struct {
	ProjectID          int64    `json:"project_id" validate:"omitempty,gt=0"`
	MinViews           *int     `json:"min_views" validate:"omitempty,gte=0"`
	DateRangeDays      *int     `json:"date_range_days" validate:"omitempty,gte=1,lte=90"`
	ScanIntervalHours  *int     `json:"scan_interval_hours" validate:"omitempty,gte=8,lte=168"`
	MaxVisionVideos    *int     `json:"max_vision_videos" validate:"omitempty,gte=0,lte=10"`
	CustomKeywords     []string `json:"custom_keywords" validate:"omitempty,max=20,dive,min=1,max=100"`
	TextScoreThreshold *int     `json:"text_score_threshold" validate:"omitempty,gte=0,lte=100"`
}

type SuperVisionHandler struct {
	svc *service.SuperVisionService
}

func NewSuperVisionHandler(svc *service.SuperVisionService) *SuperVisionHandler {
	return &SuperVisionHandler{svc: svc}
}

// GetConfig handles GET /api/super-vision/config/:projectId
func (h *SuperVisionHandler) GetConfig(c fiber.Ctx) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	cfg, err := h.svc.GetConfig(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "No scan config for this project")
		}
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load config")
	}

	return c.JSON(cfg)
}

// CreateConfig handles POST /api/super-vision/config
func (h *SuperVisionHandler) CreateConfig(c fiber.Ctx) error {
	var req configPayload
	if err := c.Bind().JSON(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}
	if req.ProjectID <= 0 {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "project_id is required")
	}
	if err := validate.Struct(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", err.Error())
	}

	cfg := &model.SuperVisionConfig{
		ProjectID:          req.ProjectID,
		MinViews:           defaultMinViews,
		DateRangeDays:      defaultDateRangeDays,
		ScanIntervalHours:  defaultScanIntervalHrs,
		MaxVisionVideos:    defaultMaxVisionVideos,
		TextScoreThreshold: defaultScoreThreshold,
		CustomKeywords:     []string{},
	}
	applyPayload(cfg, &req)

	created, err := h.svc.CreateConfig(c.Context(), cfg)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConfigExists):
			return middleware.ErrorResponse(c, fiber.StatusConflict, "ALREADY_EXISTS", "A scan config already exists for this project")
		case errors.Is(err, pgx.ErrNoRows):
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "PROJECT_NOT_FOUND", "Project does not exist")
		default:
			return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create config")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateConfig handles PUT /api/super-vision/config/:projectId
func (h *SuperVisionHandler) UpdateConfig(c fiber.Ctx) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	var req configPayload
	if err := c.Bind().JSON(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", err.Error())
	}

	// Partial update: omitted fields keep their stored values.
	cfg, err := h.svc.GetConfig(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "No scan config for this project")
		}
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load config")
	}
	applyPayload(cfg, &req)

	updated, err := h.svc.UpdateConfig(c.Context(), cfg)
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update config")
	}

	return c.JSON(updated)
}

// Activate handles POST /api/super-vision/config/:projectId/activate
func (h *SuperVisionHandler) Activate(c fiber.Ctx) error {
	return h.transition(c, h.svc.Activate)
}

// Pause handles POST /api/super-vision/config/:projectId/pause
func (h *SuperVisionHandler) Pause(c fiber.Ctx) error {
	return h.transition(c, h.svc.Pause)
}

func (h *SuperVisionHandler) transition(c fiber.Ctx, fn func(context.Context, int64) (*model.SuperVisionConfig, error)) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	cfg, err := fn(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "No scan config for this project")
		}
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to change config status")
	}

	return c.JSON(cfg)
}

// Trigger handles POST /api/super-vision/config/:projectId/trigger
func (h *SuperVisionHandler) Trigger(c fiber.Ctx) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	err := h.svc.Trigger(c.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "No scan config for this project")
		case errors.Is(err, pipeline.ErrRunInProgress):
			return middleware.ErrorResponse(c, fiber.StatusConflict, "SCAN_IN_PROGRESS", "A scan is already running for this project")
		default:
			return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to trigger scan")
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "triggered"})
}

// Delete handles DELETE /api/super-vision/config/:projectId
func (h *SuperVisionHandler) Delete(c fiber.Ctx) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	if err := h.svc.Delete(c.Context(), projectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "No scan config for this project")
		}
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete config")
	}

	return c.JSON(fiber.Map{"success": true})
}

// Status handles GET /api/super-vision/status
func (h *SuperVisionHandler) Status(c fiber.Ctx) error {
	overviews, err := h.svc.Overview(c.Context())
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load overview")
	}
	return c.JSON(fiber.Map{"configs": overviews})
}

// ListResults handles GET /api/super-vision/results/:projectId
func (h *SuperVisionHandler) ListResults(c fiber.Ctx) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	page, perPage := middleware.ParsePagination(
		fiber.Query[int](c, "page", 1),
		fiber.Query[int](c, "per_page", middleware.DefaultPerPage),
	)
	sortBy := middleware.ValidateSortBy(fiber.Query[string](c, "sort_by"))
	includeDismissed := fiber.Query[bool](c, "include_dismissed", false)

	body, err := h.svc.ListResults(c.Context(), projectID, page, perPage, sortBy, includeDismissed)
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list results")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// Dismiss handles POST /api/super-vision/results/:id/dismiss
func (h *SuperVisionHandler) Dismiss(c fiber.Ctx) error {
	return h.flagResult(c, h.svc.Dismiss)
}

// Save handles POST /api/super-vision/results/:id/save
func (h *SuperVisionHandler) Save(c fiber.Ctx) error {
	return h.flagResult(c, h.svc.Save)
}

func (h *SuperVisionHandler) flagResult(c fiber.Ctx, fn func(context.Context, int64) error) error {
	resultID, errMsg := middleware.ParseResultID(c.Params("id"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	if err := fn(c.Context(), resultID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Result not found")
		}
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update result")
	}

	return c.JSON(fiber.Map{"success": true})
}

// ClearResults handles DELETE /api/super-vision/results/:projectId/clear
func (h *SuperVisionHandler) ClearResults(c fiber.Ctx) error {
	projectID, errMsg := middleware.ParseProjectID(c.Params("projectId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	deleted, err := h.svc.ClearResults(c.Context(), projectID)
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to clear results")
	}

	return c.JSON(fiber.Map{"success": true, "deleted": deleted})
}

func applyPayload(cfg *model.SuperVisionConfig, req *configPayload) {
	if req.MinViews != nil {
		cfg.MinViews = *req.MinViews
	}
	if req.DateRangeDays != nil {
		cfg.DateRangeDays = *req.DateRangeDays
	}
	if req.ScanIntervalHours != nil {
		cfg.ScanIntervalHours = *req.ScanIntervalHours
	}
	if req.MaxVisionVideos != nil {
		cfg.MaxVisionVideos = *req.MaxVisionVideos
	}
	if req.CustomKeywords != nil {
		cfg.CustomKeywords = req.CustomKeywords
	}
	if req.TextScoreThreshold != nil {
		cfg.TextScoreThreshold = *req.TextScoreThreshold
	}
}
