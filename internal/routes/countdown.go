package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/thiran-symposium/gateway-api/internal/countdown"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
)

type CountdownHandler struct {
	engine    *countdown.Engine
	streamCtx context.Context
	logger    logrus.FieldLogger
}

type CountdownResponse struct {
	Target    time.Time               `json:"target"`
	Remaining countdown.TimeRemaining `json:"remaining"`
	Expired   bool                    `json:"expired"`
}

func NewCountdownHandler(engine *countdown.Engine, streamCtx context.Context, logger logrus.FieldLogger) *CountdownHandler {
	return &CountdownHandler{
		engine:    engine,
		streamCtx: streamCtx,
		logger:    logger,
	}
}

func (h *CountdownHandler) snapshot(r countdown.TimeRemaining) CountdownResponse {
	return CountdownResponse{
		Target:    h.engine.Target(),
		Remaining: r,
		Expired:   r.IsZero(),
	}
}

// Get returns the current breakdown
func (h *CountdownHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.snapshot(h.engine.Remaining()))
}

// Stream sends one server-sent event per tick until the client goes away
func (h *CountdownHandler) Stream(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(h.streamCtx)
		defer cancel()

		metrics.CountdownStreamOpened()
		defer metrics.CountdownStreamClosed()

		for remaining := range h.engine.Watch(ctx) {
			payload, err := json.Marshal(h.snapshot(remaining))
			if err != nil {
				h.logger.WithError(err).Error("Failed to encode countdown event")
				return
			}
			fmt.Fprintf(w, "event: countdown\ndata: %s\n\n", payload)

			// Flush fails once the client has disconnected
			if err := w.Flush(); err != nil {
				h.logger.WithError(err).Debug("Countdown stream closed by client")
				return
			}
		}
	}))

	return nil
}
