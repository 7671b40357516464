package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"reservation-service/internal/app"
	"reservation-service/internal/auth"
	"reservation-service/internal/config"
	"reservation-service/internal/handlers"
	"reservation-service/internal/reservations"
	"reservation-service/pkg/logger"
	"reservation-service/pkg/middleware"
	"reservation-service/pkg/tracing"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "reservation-service/docs" // Import docs for Swagger
)

const version = "1.0.0"

// @title           Reservation Service API
// @version         1.0
// @description     Checkout inventory holds for the storefront: reserve cart contents, release, expire and complete holds, and read available stock.

// @contact.name   API Support

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	appLogger := logger.New(cfg.Environment)
	defer appLogger.Sync()

	appLogger.Info("🚀 Starting Reservation Service",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("event_bus", cfg.EventBus),
		zap.Duration("hold_duration", cfg.HoldDuration),
		zap.Bool("allow_oversell", cfg.AllowOversell),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracer(ctx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	core, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize reservation core", zap.Error(err))
	}
	defer func() {
		if err := core.Close(); err != nil {
			appLogger.Error("Error closing resources", zap.Error(err))
		}
	}()

	// Optional in-process sweeper; filter-on-read keeps availability correct without it
	if cfg.SweepInterval > 0 {
		sweeper := reservations.NewSweeper(core.Manager, cfg.SweepInterval, appLogger)
		go sweeper.Run(ctx)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Request ID store for idempotency, shared across replicas when Redis is up
	var requestIDStore middleware.RequestIDStore
	if core.Redis != nil {
		requestIDStore = middleware.NewRedisRequestIDStore(core.Redis)
		appLogger.Info("✅ Redis request ID store initialized")
	} else {
		memoryStore := middleware.NewInMemoryRequestIDStore()
		defer memoryStore.Close()
		requestIDStore = memoryStore
		appLogger.Info("✅ In-memory request ID store initialized")
	}

	router := newRouter(cfg, core, requestIDStore, appLogger)

	// Start server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Starting reservation service",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	appLogger.Info("Server exited")
}

// newRouter builds the middleware chain and mounts every route
func newRouter(cfg *config.Config, core *app.App, requestIDStore middleware.RequestIDStore, appLogger *zap.Logger) *gin.Engine {
	router := gin.New()

	// CORS middleware (must be first to handle preflight requests)
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RecoveryHandler(appLogger))
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}

	// Request ID middleware (must be early in the chain)
	router.Use(middleware.RequestIDMiddleware(appLogger))
	router.Use(logger.GinMiddleware(appLogger))

	router.Use(middleware.IdempotencyMiddleware(requestIDStore, appLogger))
	router.Use(middleware.ErrorHandler(appLogger))
	router.Use(middleware.StoreResponseMiddleware(requestIDStore, appLogger, cfg.IdempotencyTTL))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, appLogger)
	reservationHandler := handlers.NewReservationHandler(core.Manager, jwtManager, appLogger)
	healthHandler := handlers.NewHealthHandler(cfg.ServiceName, core.Store, appLogger)

	// API routes
	v1 := router.Group("/api/v1")
	v1.GET("/health", healthHandler.Health)

	reservationHandler.RegisterRoutes(v1,
		middleware.OptionalAuthMiddleware(jwtManager, appLogger),
		middleware.InternalTokenMiddleware(cfg.InternalAPIToken, appLogger),
	)

	return router
}
