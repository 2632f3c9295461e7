package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

type ErrorLoggerMiddleware struct {
	logger logrus.FieldLogger
}

func NewErrorLoggerMiddleware(logger logrus.FieldLogger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger: logger,
	}
}

// Handle logs 4xx and 5xx responses with detailed context
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()

		err := c.Next()

		statusCode := c.Response().StatusCode()
		if err != nil {
			// The app's ErrorHandler has not rendered it yet
			statusCode = statusFor(err)
		}

		if statusCode >= 400 {
			duration := time.Since(startTime)

			logFields := logrus.Fields{
				"status_code":   statusCode,
				"method":        c.Method(),
				"path":          c.Path(),
				"ip":            ClientIP(c),
				"user_agent":    c.Get("User-Agent"),
				"request_id":    RequestID(c),
				"duration_ms":   duration.Milliseconds(),
				"response_size": len(c.Response().Body()),
			}

			if sessionID := c.Params("id"); sessionID != "" {
				logFields["session_id"] = sessionID
			}

			if len(c.Request().URI().QueryString()) > 0 {
				logFields["query"] = string(c.Request().URI().QueryString())
			}

			// Request bodies carry phone numbers and OTPs, so only the response is logged
			responseBody := string(c.Response().Body())
			if len(responseBody) > 500 {
				responseBody = responseBody[:500] + "...(truncated)"
			}
			if len(responseBody) > 0 {
				logFields["response_body"] = responseBody
			}

			logEntry := e.logger.WithFields(logFields)

			if statusCode >= 500 {
				if err != nil {
					logEntry = logEntry.WithError(err)
				}
				logEntry.Error("Server error response")
			} else {
				logEntry.Warn("Client error response")
			}
		}

		return err
	}
}

func statusFor(err error) int {
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	var fiberErr *fiber.Error
	if apperrors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

// RequestID returns the id assigned by the requestid middleware, falling
// back to the caller's header.
func RequestID(c *fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// WriteError renders an AppError in the standard envelope.
func WriteError(c *fiber.Ctx, appErr *apperrors.AppError) error {
	return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(RequestID(c)))
}

// ErrorHandler is the fiber ErrorHandler: AppErrors and fiber errors keep
// their status, anything else becomes INTERNAL_ERROR.
func ErrorHandler(logger logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *apperrors.AppError
		if apperrors.As(err, &appErr) {
			return WriteError(c, appErr)
		}

		var fiberErr *fiber.Error
		if apperrors.As(err, &fiberErr) {
			code := apperrors.CodeInternalError
			switch fiberErr.Code {
			case fiber.StatusNotFound:
				code = apperrors.CodeNotFound
			case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed, fiber.StatusRequestEntityTooLarge:
				code = apperrors.CodeBadRequest
			case fiber.StatusTooManyRequests:
				code = apperrors.CodeRateLimited
			}
			resp := apperrors.NewAppError(code, fiberErr.Message, nil).ToErrorResponse(RequestID(c))
			return c.Status(fiberErr.Code).JSON(resp)
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("Request error")

		return WriteError(c, apperrors.NewAppError(apperrors.CodeInternalError, "Internal server error", err))
	}
}
