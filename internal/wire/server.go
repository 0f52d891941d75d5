// Package wire is the gateway: one websocket control channel carrying
// the event-oriented protocol, one request/reply media upload endpoint,
// and a Prometheus scrape route. Each client gets a reader and a writer
// goroutine; slow consumers are disconnected rather than allowed to back
// up the fanout.
package wire

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/metrics"
	"github.com/thestuu/engine/internal/session"
)

// Gateway hosts the control channel and upload endpoint.
type Gateway struct {
	echo    *echo.Echo
	session *session.Session
	logger  *slog.Logger
	m       *metrics.WireMetrics

	listen         string
	maxUploadBytes int64
}

// Config wires the gateway.
type Config struct {
	Session        *session.Session
	Metrics        *metrics.WireMetrics
	Listen         string
	MaxUploadMB    int
	PromRegistry   prometheus.Gatherer
}

// New builds the gateway and its routes.
func New(cfg Config) *Gateway {
	g := &Gateway{
		session:        cfg.Session,
		logger:         logging.ForService("wire"),
		m:              cfg.Metrics,
		listen:         cfg.Listen,
		maxUploadBytes: int64(cfg.MaxUploadMB) * 1024 * 1024,
	}
	if g.maxUploadBytes <= 0 {
		g.maxUploadBytes = 256 * 1024 * 1024
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/ws", g.handleControl)
	e.POST("/media/upload", g.handleUpload)
	if cfg.PromRegistry != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(cfg.PromRegistry, promhttp.HandlerOpts{})))
	}
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	})

	g.echo = e
	return g
}

// Handler exposes the gateway's routes for embedding in another server or
// an httptest fixture.
func (g *Gateway) Handler() http.Handler { return g.echo }

// Start serves until ctx is cancelled, then drains with a short grace
// period.
func (g *Gateway) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := g.echo.Start(g.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	g.logger.Info("gateway listening", "addr", g.listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.echo.Shutdown(shutdownCtx)
	}
}
