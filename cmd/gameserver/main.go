package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/bus"
	"github.com/trackmania-bingo/bingoserver/internal/v1/channelfabric"
	"github.com/trackmania-bingo/bingoserver/internal/v1/config"
	"github.com/trackmania-bingo/bingoserver/internal/v1/dispatch"
	"github.com/trackmania-bingo/bingoserver/internal/v1/handshake"
	"github.com/trackmania-bingo/bingoserver/internal/v1/health"
	"github.com/trackmania-bingo/bingoserver/internal/v1/identity"
	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/mapcatalog"
	"github.com/trackmania-bingo/bingoserver/internal/v1/mapqueue"
	"github.com/trackmania-bingo/bingoserver/internal/v1/middleware"
	"github.com/trackmania-bingo/bingoserver/internal/v1/ratelimit"
	"github.com/trackmania-bingo/bingoserver/internal/v1/reconnect"
	"github.com/trackmania-bingo/bingoserver/internal/v1/room"
	"github.com/trackmania-bingo/bingoserver/internal/v1/tracing"
	"github.com/trackmania-bingo/bingoserver/internal/v1/transport"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "bingoserver", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	var busService types.BusService
	var busSvc *bus.Service
	if cfg.RedisEnabled {
		busSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect cross-instance bus", zap.Error(err))
		}
		busService = busSvc
		defer busSvc.Close()
	}

	identityClient := identity.NewClient(cfg.IdentityAddr, cfg.IdentityServerSecret, 10*time.Second)
	mapClient := mapcatalog.NewClient(cfg.MapCatalogueAddr, cfg.MapCatalogueUserAgent, 10*time.Second)

	prefetcher := mapqueue.NewPrefetcher(mapqueue.Config{
		TargetSize:    cfg.MapQueueTargetSize,
		Capacity:      cfg.MapQueueCapacity,
		PollInterval:  100 * time.Millisecond,
		FetchDeadline: time.Duration(cfg.MapFetchTimeoutSeconds) * time.Second,
	}, mapClient)
	defer prefetcher.Close()

	fabric := channelfabric.NewFabric()
	roomRegistry := room.NewRegistry(fabric, prefetcher, busService)

	reconnectRegistry := reconnect.NewRegistry(
		time.Duration(cfg.ReconnectLingerSeconds)*time.Second,
		time.Duration(cfg.ReconnectSweepIntervalSeconds)*time.Second,
		func(roomID types.RoomIDType, playerID types.PlayerIDType, slotIndex int) {
			r, ok := roomRegistry.Lookup(roomID)
			if !ok {
				return
			}
			if err := r.LeaveRoom(playerID); err != nil {
				logging.Info(ctx, "reconnect linger expired for a slot already gone",
					zap.String("room_id", string(roomID)), zap.String("player_id", string(playerID)))
			}
		},
	)
	defer reconnectRegistry.Close()

	var redisClient = busSvc.Client()
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	gate, err := handshake.NewGate(
		identityClient,
		reconnectRegistry,
		rateLimiter,
		cfg.MinClientVersion,
		cfg.IdentityServerSecret == "",
		time.Duration(cfg.HandshakeDeadlineSeconds)*time.Second,
		cfg.MaxFrameBytes,
	)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize handshake gate", zap.Error(err))
	}

	dispatcher := dispatch.NewDispatcher(roomRegistry, reconnectRegistry, rateLimiter)

	gameListener := transport.NewListener(
		cfg.TCPListenAddr,
		cfg.ListenBacklog,
		cfg.MaxFrameBytes,
		gate,
		rateLimiter,
		dispatcher,
	)

	go func() {
		if err := gameListener.Serve(ctx); err != nil {
			logging.Error(ctx, "game listener stopped", zap.Error(err))
		}
	}()

	healthHandler := health.NewHandler(busSvc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelCollectorAddr != "" {
		router.Use(otelgin.Middleware("bingoserver"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	opsServer := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "ops surface listening", zap.String("addr", cfg.HTTPListenAddr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "ops surface stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	gameListener.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(context.Background(), "ops surface forced to shutdown", zap.Error(err))
	}
}
