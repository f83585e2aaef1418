package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nexwire/chatgate/internal/config"
	"github.com/nexwire/chatgate/internal/http/middleware"
	"github.com/nexwire/chatgate/internal/metrics"
	"github.com/nexwire/chatgate/internal/registry"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, reg *registry.Registry, rds *redis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1")
	v1.POST("/tenants", provisionHandler(reg))
	v1.GET("/tenants", statusAllHandler(reg))
	v1.DELETE("/tenants/:id", deprovisionHandler(reg))
	v1.GET("/tenants/:id/status", statusHandler(reg))
	v1.GET("/tenants/:id/pairing", pairingHandler(reg))
	v1.POST("/tenants/:id/reset", resetHandler(reg))
	v1.POST("/tenants/:id/messages", enqueueHandler(reg), rlMW)

	return &Server{e: e}
}

func (s *Server) Start(addr string) error            { return s.e.Start(addr) }
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
