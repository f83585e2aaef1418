package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/nexwire/chatgate/internal/model"
	"github.com/nexwire/chatgate/internal/queue"
	"github.com/nexwire/chatgate/internal/registry"
	"github.com/nexwire/chatgate/internal/util"
)

type enqueueReq struct {
	To             string `json:"to"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key"`
}

func enqueueHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enqueueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.To = strings.TrimSpace(req.To)
		if req.To == "" || req.Body == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		tenantID := c.Param("id")
		msg := &model.OutboundMessage{
			ID:             util.NewID(),
			TenantID:       tenantID,
			To:             req.To,
			Body:           []byte(req.Body),
			IdempotencyKey: req.IdempotencyKey,
			EnqueuedAt:     time.Now(),
		}

		if err := reg.Enqueue(tenantID, msg); err != nil {
			switch {
			case errors.Is(err, registry.ErrTenantNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
			case errors.Is(err, queue.ErrFull):
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":       "queue_full",
					"description": "outbound queue at capacity, retry later",
				})
			case errors.Is(err, queue.ErrClosed):
				return c.JSON(http.StatusConflict, map[string]string{
					"error":       "session_closed",
					"description": "session is closed, reset the tenant to resume sending",
				})
			default:
				log.Errorf("enqueue failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
			}
		}

		return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "id": msg.ID})
	}
}
