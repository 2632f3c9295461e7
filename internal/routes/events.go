package routes

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/thiran-symposium/gateway-api/internal/catalog"
	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

type EventsHandler struct {
	catalog *catalog.Catalog
}

func NewEventsHandler(c *catalog.Catalog) *EventsHandler {
	return &EventsHandler{catalog: c}
}

// List returns every event, or one category with ?category=
func (h *EventsHandler) List(c *fiber.Ctx) error {
	category := c.Query("category")
	if category == "" {
		return c.JSON(fiber.Map{"events": h.catalog.All()})
	}

	events, err := h.catalog.ByCategory(category)
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, err.Error(), err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *EventsHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "event id must be a number", err)
	}

	event, err := h.catalog.ByID(id)
	if errors.Is(err, catalog.ErrEventNotFound) {
		return apperrors.NewAppError(apperrors.CodeNotFound, err.Error(), err)
	}
	if err != nil {
		return err
	}
	return c.JSON(event)
}
