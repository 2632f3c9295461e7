package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/contact"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
	"github.com/thiran-symposium/gateway-api/internal/models"
	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

type ContactHandler struct {
	service *contact.Service
	logger  logrus.FieldLogger
}

func NewContactHandler(service *contact.Service, logger logrus.FieldLogger) *ContactHandler {
	return &ContactHandler{service: service, logger: logger}
}

// Submit stores a contact form message
func (h *ContactHandler) Submit(c *fiber.Ctx) error {
	var req models.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		metrics.RecordContactMessage("invalid")
		return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid request body", err)
	}

	msg, err := h.service.Submit(c.UserContext(), req)
	if errors.Is(err, contact.ErrInvalidMessage) {
		metrics.RecordContactMessage("invalid")
		return apperrors.NewAppError(apperrors.CodeBadRequest, err.Error(), err)
	}
	if err != nil {
		metrics.RecordContactMessage("error")
		h.logger.WithError(err).Error("Failed to store contact message")
		return apperrors.NewAppError(apperrors.CodeInternalError, "Failed to store message", err)
	}

	metrics.RecordContactMessage("stored")
	return c.Status(fiber.StatusCreated).JSON(models.ContactResponse{
		MessageID: msg.MessageID,
		CreatedAt: msg.CreatedAt,
	})
}
