package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/auditforge/api/internal/model"
	"github.com/auditforge/api/internal/service"
	"github.com/auditforge/api/internal/store"
	"github.com/auditforge/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.AuditRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if req.Source.Type == model.SourceInline && req.Source.InlineCode == "" {
		return response.ValidationError(c, "inlineCode is required for inline sources", nil)
	}
	if (req.Source.Type == model.SourceURL || req.Source.Type == model.SourceGithub) && req.Source.URL == "" {
		return response.ValidationError(c, "url is required for remote sources", nil)
	}

	result, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// Status handles GET /jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Report handles GET /jobs/:jobId/report
func (h *JobHandler) Report(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	report, err := h.service.GetReport(c.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrReportNotReady):
			return response.Conflict(c, response.CodeReportNotReady, "Report is not ready yet")
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	return c.SendString(report)
}

// Cancel handles POST /jobs/:jobId/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrAlreadyTerminal):
			return response.ValidationError(c, "Job is already in a terminal state", nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
