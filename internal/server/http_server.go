package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srus/yith-library-server/config"
	"github.com/srus/yith-library-server/internal/metrics"
	"github.com/srus/yith-library-server/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouteRegistrar registers its routes on the echo instance.
type RouteRegistrar interface {
	RegisterRoutes(e *echo.Echo)
}

// NewEcho builds the router: recovery, request logging and the API routes.
// /metrics is served from gatherer when it is not nil.
func NewEcho(appLogger log.Logger, api RouteRegistrar, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(requestLogger(appLogger))

	api.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(gatherer)))
	}

	return e
}

func requestLogger(appLogger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := log.Fields{
				"method":     req.Method,
				"path":       req.URL.Path,
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
				"ip":         c.RealIP(),
				"user_agent": req.UserAgent(),
			}
			if err != nil {
				appLogger.Error(req.Context(), "HTTP Request", err, fields)
			} else {
				appLogger.Info(req.Context(), "HTTP Request", fields)
			}
			return nil
		}
	}
}

// NewHTTPServer wraps handler with OpenTelemetry instrumentation.
func NewHTTPServer(cfg *config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(handler, cfg.OtelServiceName),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
