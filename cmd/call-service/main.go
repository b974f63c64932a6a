package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campuslink-backend/internal/database"
	callHandler "campuslink-backend/internal/handler/http/call"
	matchHandler "campuslink-backend/internal/handler/http/match"
	wsHandler "campuslink-backend/internal/handler/ws"
	"campuslink-backend/internal/middleware"
	"campuslink-backend/internal/repository/cockroach"
	redisRepo "campuslink-backend/internal/repository/redis"
	callService "campuslink-backend/internal/service/call"
	matchService "campuslink-backend/internal/service/match"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/config"
	"campuslink-backend/pkg/constants"
	"campuslink-backend/pkg/jwt"
	"campuslink-backend/pkg/logger"
	"campuslink-backend/pkg/metrics"
)

func main() {
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 3. Connect to CockroachDB with exponential backoff retry
	db := connectDB(ctx, &cfg.Database)
	defer db.Close()
	callRepo := cockroach.NewCallRepository(db.Pool)

	// 4. Connect to Redis
	redisDB, err := database.NewRedisDB(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	redisDB.StartHealthCheck(ctx, 10*time.Second)
	logger.Info("Connected to Redis")

	// 5. Signaling relay and matchmaking pool
	bus := signaling.NewRedisBus(redisDB.Client)
	matchQueueRepo := redisRepo.NewMatchQueueRepository(redisDB)

	// 6. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Services
	callSvc := callService.NewService(callRepo, bus, appMetrics, logger.Log)
	matchSvc := matchService.NewService(matchQueueRepo, callRepo, bus, appMetrics, logger.Log)

	// 8. Handlers
	callHdlr := callHandler.NewHandler(callSvc, &cfg.WebRTC)
	matchHdlr := matchHandler.NewHandler(matchSvc)
	signalingHub := wsHandler.NewSignalingHub(bus, appMetrics)

	// 9. Router
	router := gin.New()

	var trustedProxies []string
	if cfg.Server.Environment == "production" {
		trustedProxies = []string{}
	} else {
		trustedProxies = []string{"127.0.0.1"}
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)
	authRequired := middleware.AuthMiddleware(jwtManager, revocationChecker)
	rateLimiter := middleware.NewRateLimiter(redisDB.Client, 120, time.Minute)

	calls := router.Group("/v1/calls")
	calls.Use(authRequired)
	{
		calls.GET("/config", callHdlr.Config)
		calls.GET("/history", callHdlr.History)
		calls.POST("/initiate", rateLimiter.Middleware(), callHdlr.Initiate)
		calls.POST("/:id/accept", callHdlr.Accept)
		calls.POST("/:id/end", callHdlr.End)
		calls.GET("/:id", callHdlr.Get)

		// WebSocket endpoint for call signaling
		calls.GET("/ws/signaling", signalingHub.ServeWS)
	}

	match := router.Group("/v1/match")
	match.Use(authRequired, rateLimiter.Middleware())
	{
		match.POST("/join", matchHdlr.Join)
		match.POST("/cancel", matchHdlr.Cancel)
		match.POST("/poll", matchHdlr.Poll)
	}

	// 10. Start server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("signaling", "/v1/calls/ws/signaling"))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down call service")
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
}

// connectDB retries the CockroachDB connection with exponential backoff; the
// database often comes up after the service in orchestrated deployments.
func connectDB(ctx context.Context, cfg *config.DatabaseConfig) *database.CockroachDB {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewCockroachDB(ctx, cfg)
	if err == nil {
		logger.Info("Connected to CockroachDB")
		return db
	}

	for attempt := 2; attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)

		db, err = database.NewCockroachDB(ctx, cfg)
		if err == nil {
			logger.Info("Connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}
	}

	logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	return nil
}
