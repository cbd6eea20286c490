package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/research"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

// StreamHandler follows a session's event log over SSE or a websocket.
// Streams end when the session reaches a terminal state, the client goes
// away, or the server context is cancelled.
type StreamHandler struct {
	svc *research.Service
	ctx context.Context
}

func NewStreamHandler(ctx context.Context, svc *research.Service) *StreamHandler {
	return &StreamHandler{svc: svc, ctx: ctx}
}

// cursor reads the resume position from ?after= or the SSE Last-Event-ID
// header.
func cursor(c *fiber.Ctx) (int64, error) {
	raw := c.Query("after")
	if raw == "" {
		raw = c.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", raw)
	}
	return n, nil
}

func (h *StreamHandler) SSE(c *fiber.Ctx) error {
	id := c.Params("id")
	after, err := cursor(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if _, err := h.svc.Get(id); err != nil {
		return respondError(c, err, "get research session")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(h.ctx)
		defer cancel()

		err := h.svc.Stream(ctx, id, after, func(e models.Event) error {
			if err := writeSSE(w, e); err != nil {
				return err
			}
			return w.Flush()
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("Event stream stopped", zap.String("session_id", id), zap.Error(err))
			}
			return
		}

		fmt.Fprint(w, "event: end\ndata: {}\n\n")
		w.Flush()
	})
	return nil
}

func writeSSE(w *bufio.Writer, e models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return err
}

// Upgrade validates the session and cursor before switching protocols.
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error": "websocket upgrade required",
		})
	}
	after, err := cursor(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if _, err := h.svc.Get(c.Params("id")); err != nil {
		return respondError(c, err, "get research session")
	}
	c.Locals("after", after)
	return c.Next()
}

func (h *StreamHandler) WebSocket(conn *websocket.Conn) {
	id := conn.Params("id")
	after, _ := conn.Locals("after").(int64)

	logger.Info("WebSocket stream opened", zap.String("session_id", id), zap.Int64("after", after))
	defer logger.Info("WebSocket stream closed", zap.String("session_id", id))

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	// Clients never send anything meaningful; reading only detects a close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err := h.svc.Stream(ctx, id, after, func(e models.Event) error {
		return conn.WriteJSON(e)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Debug("WebSocket stream stopped", zap.String("session_id", id), zap.Error(err))
		}
		return
	}

	conn.WriteJSON(fiber.Map{"type": "end"})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
