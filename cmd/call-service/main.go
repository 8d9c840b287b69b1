package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	intDatabase "lingochat-backend/internal/database"
	callHTTP "lingochat-backend/internal/handler/http/call"
	wsHandler "lingochat-backend/internal/handler/ws"
	"lingochat-backend/internal/middleware"
	"lingochat-backend/internal/repository"
	"lingochat-backend/internal/repository/cockroach"
	"lingochat-backend/internal/repository/memory"
	"lingochat-backend/internal/service/call"
	"lingochat-backend/internal/service/reaper"
	"lingochat-backend/internal/service/signaling"
	"lingochat-backend/internal/service/turn"
	"lingochat-backend/pkg/config"
	"lingochat-backend/pkg/constants"
	pkgDatabase "lingochat-backend/pkg/database"
	"lingochat-backend/pkg/jwt"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
	"lingochat-backend/pkg/ratelimit"
)

const roomsChannel = "lingochat:call-rooms"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Store
	store, directory, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// 2. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 3. Redis: token revocation and cross-instance room fan-out
	var (
		revocation middleware.RevocationChecker
		broker     wsHandler.Broker
		redisDB    *intDatabase.RedisClient
	)
	if cfg.Redis.Enabled {
		redisDB = intDatabase.NewRedisDB(&intDatabase.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		}, appMetrics)
		defer redisDB.Close()
		go redisDB.StartHealthCheck(ctx, 10*time.Second)

		revocation = middleware.NewRedisRevocationChecker(redisDB.Client)
		broker = wsHandler.NewRedisBroker(redisDB.Client, roomsChannel)
	} else {
		logger.Info("Redis disabled, running single-instance without token revocation")
	}

	// 4. Rate limiter
	limiter := ratelimit.New()
	go limiter.StartSweeper(ctx, constants.RateLimitSweepInterval, appMetrics.SetRateLimitWindows)

	// 5. Relay credentials
	issuer := turn.NewIssuer(cfg.Turn.Secret, cfg.Turn.Hosts, cfg.Turn.TTL)
	if !issuer.IsConfigured() {
		logger.Warn("TURN relay not configured, clients only get STUN")
	}

	// 6. Call lifecycle, signaling and the event hub
	hub := wsHandler.NewHub(broker, appMetrics)
	go hub.Run(ctx)

	callHandler := wsHandler.NewCallHandler(hub)
	callSvc := call.NewService(store, directory, issuer,
		call.WithLimiter(limiter),
		call.WithMetrics(appMetrics),
		call.WithRingTimeout(cfg.Calls.RingTimeout),
		call.WithNotifier(callHandler),
	)
	defer callSvc.Shutdown()
	relay := signaling.NewRelay(store, limiter, hub, appMetrics)
	callHandler.Bind(callSvc, relay)

	dispatcher := wsHandler.NewDispatcher(appMetrics)
	callHandler.Register(dispatcher)

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, 15*time.Minute)
	authenticator := middleware.NewAuthenticator(jwtManager, revocation)
	wsServer := wsHandler.NewServer(hub, dispatcher, authenticator, cfg.Server.AllowedOrigins, cfg.Server.MaxConnections)

	// 7. Zombie reaper
	zombieReaper := reaper.New(store, appMetrics, cfg.Calls.MaxDuration, cfg.Calls.SweepInterval).
		WithNotifier(callHandler)
	go zombieReaper.Start(ctx)

	// 8. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{
			"status":          "healthy",
			"service":         cfg.Server.ServiceName,
			"store":           cfg.Server.Store,
			"turn_configured": issuer.IsConfigured(),
			"connections":     hub.ConnectionCount(),
			"time":            time.Now().UTC(),
		}
		if redisDB != nil {
			status["redis_degraded"] = redisDB.IsDegraded()
		}
		c.JSON(http.StatusOK, status)
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// The socket counts its own budget per event; HTTP calls share the http class
	router.GET("/ws", wsServer.ServeWS)
	callHTTP.NewHandler(callSvc, zombieReaper).RegisterRoutes(router,
		middleware.AuthMiddleware(authenticator),
		middleware.RateLimit(limiter, appMetrics),
	)

	// 9. Serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("store", cfg.Server.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down call service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// openStore selects the session store and conversation directory. The
// returned func releases whatever was opened.
func openStore(ctx context.Context, cfg *config.Config) (repository.CallSessionStore, repository.ConversationDirectory, func()) {
	if cfg.Server.Store == "memory" {
		directory := memory.NewDirectory()
		if cfg.Server.DirectorySeed != "" {
			if err := directory.LoadSeedFile(cfg.Server.DirectorySeed); err != nil {
				logger.Fatal("Failed to load directory seed", zap.Error(err))
			}
		}
		logger.Warn("Using in-memory call store; state is lost on restart")
		return memory.NewCallStore(), directory, func() {}
	}

	db, err := pkgDatabase.ConnectWithRetry(ctx, &pkgDatabase.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}, 5)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	if err := cockroach.Migrate(ctx, db.Pool); err != nil {
		db.Close()
		logger.Fatal("Failed to apply call schema", zap.Error(err))
	}

	return cockroach.NewCallRepository(db.Pool), cockroach.NewConversationRepository(db.Pool), db.Close
}
