package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
)

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logContext := base.With()
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		logContext = logContext.Str("correlation_id", correlation)
	}
	if userID := middleware.UserID(c); userID != 0 {
		logContext = logContext.Uint("user_id", userID)
	}
	logger := logContext.Logger()
	return &logger
}
