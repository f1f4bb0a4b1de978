package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/directory"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floorcontrol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/floormanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/health"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/middleware"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/router"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/tracing"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/transport"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid environment configuration", "error", err)
		os.Exit(1)
	}

	development := cfg.GoEnv != "production"
	if err := logging.Initialize(development); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	var redisService *bus.Service
	if cfg.RedisEnabled {
		redisService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisService.Close()
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisService.Client())
	if err != nil {
		slog.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	tracingEnabled := false
	if otelAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); otelAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "floor-manager", otelAddr)
		if err != nil {
			logging.Warn(context.Background(), "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			tracingEnabled = true
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	hub := subscription.NewHub(
		subscription.WithBufferSize(cfg.SubscriptionBufferSize),
		subscription.WithHeartbeatInterval(cfg.SubscriptionHeartbeatPeriod),
	)
	control := floorcontrol.New(hub,
		floorcontrol.WithMaxHoldTime(cfg.FloorMaxHoldTime),
		floorcontrol.WithQueueCap(cfg.FloorQueueCap),
	)
	envelopeRouter := router.New(
		router.WithPerDeliveryTimeout(cfg.RouterPerDeliveryTimeout),
		router.WithDispatchQueueCap(cfg.RouterQueueSize),
	)
	dir := directory.New()

	var managerOpts []floormanager.Option
	if cfg.ConvenerAuthEnabled {
		validator, err := auth.NewValidator(context.Background(), cfg.JWKSURL, cfg.JWTAudience)
		if err != nil {
			slog.Error("failed to initialize convener auth validator", "error", err)
			os.Exit(1)
		}
		managerOpts = append(managerOpts, floormanager.WithConvenerAuthorizer(
			auth.NewConvenerValidator(validator, control)))
	}
	manager := floormanager.New(control, envelopeRouter, managerOpts...)

	allowedOrigins := strings.Split(cfg.AllowedOrigins, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	transportServer := transport.NewServer(manager, control, hub, dir, rateLimiter, allowedOrigins...)
	healthHandler := health.NewHandler(redisService)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationID())
	if tracingEnabled {
		engine.Use(otelgin.Middleware("floor-manager"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	engine.Use(cors.New(corsConfig))

	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	transportServer.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	go func() {
		slog.Info("floor manager starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server exiting")
}
