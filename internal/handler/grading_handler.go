package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

const queueRetryAfter = 5 * time.Second

// GradingHandler exposes the asynchronous submit and poll endpoints.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register wires the handler endpoints into the router group. Guards run in front of the submit route only.
func (h *GradingHandler) Register(router fiber.Router, submitGuards ...fiber.Handler) {
	handlers := make([]fiber.Handler, 0, len(submitGuards)+1)
	handlers = append(handlers, submitGuards...)
	handlers = append(handlers, h.submit)
	router.Post("/submissions", handlers...)
	router.Get("/jobs/:id", h.status)
	router.Get("/languages", h.languages)
}

func (h *GradingHandler) submit(c *fiber.Ctx) error {
	var payload dto.GradingRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	userID := middleware.UserID(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	response, err := h.service.Submit(c.UserContext(), userID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderLocation, "/api/v2/grading/jobs/"+response.JobID)
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued", response)
}

func (h *GradingHandler) status(c *fiber.Ctx) error {
	jobID := strings.TrimSpace(c.Params("id"))
	if jobID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "job id required")
	}

	status, err := h.service.Status(c.UserContext(), middleware.UserID(c), jobID)
	if err != nil {
		return h.handleError(c, err)
	}

	message := "job pending"
	if status.Ready {
		message = "job finished"
	}
	return utils.SendSuccess(c, message, status)
}

func (h *GradingHandler) languages(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "languages retrieved", fiber.Map{"languages": h.service.Languages()})
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrUnsupportedLanguage):
		return utils.SendError(c, fiber.StatusBadRequest, "language not supported")
	case errors.Is(err, service.ErrEmptySource):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSourceTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrQuestionNotFound), errors.Is(err, service.ErrAssessmentNotFound), errors.Is(err, service.ErrJobNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrDispatcherClosed):
		return utils.SendRetryableError(c, fiber.StatusServiceUnavailable, queueRetryAfter, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("grading operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
