package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"api-gateway/internal/client"
	"api-gateway/internal/config"
	"api-gateway/internal/handler"
	"api-gateway/internal/metrics"
	"api-gateway/internal/middleware"
	"api-gateway/internal/route"
	"api-gateway/internal/service"
	"api-gateway/internal/tracing"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("api-gateway"),
		kong.Description("Edge gateway that forwards a path prefix to a single backend."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newRouteTable,
			newTracing,
			newEcho,
			client.NewUpstreamClient,
			func(c *client.UpstreamClient) handler.BreakerReporter { return c },
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startTracing, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newRouteTable builds the immutable route table from validated config.
func newRouteTable(cfg *config.Config) (*route.Table, error) {
	target, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	return route.NewTable(cfg.Routes.HealthPath, route.Rule{
		Prefix: cfg.Routes.ProxyPrefix,
		Strip:  true,
		Target: target,
	})
}

func newTracing(cfg *config.Config, logger *slog.Logger) *tracing.Provider {
	return tracing.NewProvider(tracing.Options{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    handler.ServiceName,
		ServiceVersion: version,
	}, logger)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, table *route.Table, tp *tracing.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	// WriteTimeout stays 0 so long upstream responses are not cut off.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Tracing(tp.TracerProvider(), table))
	e.Use(middleware.RequestLogger(logger, table))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, table))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORS.AllowOrigins}))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startTracing(lc fx.Lifecycle, p *tracing.Provider) {
	lc.Append(fx.Hook{
		OnStart: p.Start,
		OnStop:  p.Shutdown,
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, table *route.Table, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			logger.Info("proxying to backend",
				"backend_url", cfg.Upstream.BaseURL,
				"prefix", table.Proxy().Prefix,
				"health_path", table.HealthPath(),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownGraceSeconds)*time.Second)
			defer cancel()
			return e.Shutdown(ctx)
		},
	})
}
