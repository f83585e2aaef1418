package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/nexwire/chatgate/internal/model"
	"github.com/nexwire/chatgate/internal/registry"
	"github.com/nexwire/chatgate/internal/session"
)

type provisionReq struct {
	ID    string             `json:"id"`
	Sinks []model.SinkTarget `json:"sinks"`
}

func provisionHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req provisionReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.ID = strings.TrimSpace(req.ID)
		if req.ID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		}

		err := reg.Provision(model.Tenant{ID: req.ID, Sinks: req.Sinks})
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateTenant) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate_tenant"})
			}
			log.Errorf("provision failed: %v", err)
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusCreated, map[string]any{"provisioned": true, "id": req.ID})
	}
}

func deprovisionHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := reg.Deprovision(c.Request().Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, registry.ErrTenantNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
			}
			log.Errorf("deprovision failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func statusHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := reg.Status(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
		}
		return c.JSON(http.StatusOK, st)
	}
}

func statusAllHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"tenants": reg.StatusAll()})
	}
}

func resetHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := reg.Reset(c.Param("id"))
		if err != nil {
			if errors.Is(err, registry.ErrTenantNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
			}
			if errors.Is(err, registry.ErrNotClosed) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "session_not_closed"})
			}
			log.Errorf("reset failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// pairingHandler serves the polling surface for a caller waiting on a
// scannable pairing code.
func pairingHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sup, err := reg.Get(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"state":   sup.State().String(),
			"pairing": sup.State() == session.AwaitingPairing,
			"code":    sup.PairingCode(),
		})
	}
}
