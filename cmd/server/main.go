package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casamar/reservations-backend/internal/clock"
	"github.com/casamar/reservations-backend/internal/config"
	"github.com/casamar/reservations-backend/internal/database"
	"github.com/casamar/reservations-backend/internal/handlers"
	"github.com/casamar/reservations-backend/internal/middleware"
	"github.com/casamar/reservations-backend/internal/services"
	"github.com/casamar/reservations-backend/pkg/events"
	"github.com/casamar/reservations-backend/pkg/jwt"
	"github.com/casamar/reservations-backend/pkg/payment"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Casamar reservations backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Optional rotating file sink next to stdout
	if cfg.Server.LogFile != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 7,
			MaxAge:     28, // days
			Compress:   true,
		}))
		logger.WithField("file", cfg.Server.LogFile).Info("File logging enabled")
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Repositories
	bookingRepository := database.NewBookingRepository(db.DB)
	roomRepository := database.NewRoomRepository(db.DB)
	inboxRepository := database.NewInboxMessageRepository(db.DB)
	reconciliationLogRepository := database.NewReconciliationLogRepository(db.DB, logger)

	// Payment gateway. Without a key only booking-id confirmations work.
	var gateway payment.Gateway
	stripeGateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey: cfg.Payment.SecretKey,
		APIURL:    cfg.Payment.APIURL,
		Timeout:   cfg.Payment.Timeout,
	}, logger)
	if stripeGateway.IsConfigured() {
		gateway = stripeGateway
		logger.Info("Stripe payment gateway configured")
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, gateway lookups disabled")
	}

	// Event publisher (optional)
	var publisher services.EventPublisher
	if cfg.Messaging.AMQPURL != "" {
		amqpPublisher, err := events.NewPublisher(cfg.Messaging.AMQPURL, cfg.Messaging.Exchange)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to RabbitMQ, booking events disabled")
		} else {
			publisher = amqpPublisher
			defer amqpPublisher.Close()
			logger.WithField("exchange", cfg.Messaging.Exchange).Info("Booking events publisher connected")
		}
	}

	// Initialize services
	logger.Info("Initializing services...")
	clk := clock.NewSystem()
	classifier := services.NewMethodClassifier(cfg.Reconciliation.ReferenceMethods)
	resolver := services.NewPaymentStatusResolver(gateway, bookingRepository, classifier, cfg.Payment.Timeout, logger)
	locker := services.NewAvailabilityLocker(roomRepository, reconciliationLogRepository, clk, logger)
	forwarder := services.NewSpecialRequestForwarder(inboxRepository, reconciliationLogRepository, clk, cfg.Reconciliation.DedupWindow, logger)
	reconciliationService := services.NewReconciliationService(
		resolver,
		bookingRepository,
		locker,
		forwarder,
		reconciliationLogRepository,
		publisher,
		clk,
		logger,
	)
	expiryService := services.NewProvisionalExpiryService(
		bookingRepository,
		resolver,
		reconciliationService,
		locker,
		reconciliationLogRepository,
		publisher,
		clk,
		cfg.Reconciliation.ProvisionalHoldTTL,
		cfg.Reconciliation.SweepBatchSize,
		logger,
	)
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// Cron service for the provisional hold sweep
	cronService := services.NewCronService(expiryService, cfg.Reconciliation.SweepSchedule, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	// Initialize handlers
	reconciliationHandler := handlers.NewReconciliationHandler(reconciliationService, cronService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Client polling and gateway redirect triggers (public)
		v1.GET("/bookings/confirm", reconciliationHandler.ConfirmBooking)
		v1.POST("/bookings/confirm", reconciliationHandler.ConfirmBooking)
		v1.GET("/payments/return", reconciliationHandler.PaymentReturn)

		// Staff routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger))
		admin.Use(middleware.RequireRole(jwt.RoleAdmin, jwt.RoleStaff))
		{
			admin.GET("/bookings/:booking_id", reconciliationHandler.InspectBooking)
			admin.POST("/bookings/:booking_id/reconcile", reconciliationHandler.ReconcileBooking)
			admin.POST("/bookings/:booking_id/lock-dates", reconciliationHandler.RelockDates)
			admin.GET("/bookings/:booking_id/reconciliation-log", reconciliationHandler.GetReconciliationLog)
			admin.POST("/reconciliation/sweep", reconciliationHandler.RunSweep)
			admin.GET("/reconciliation/jobs", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop cron service
	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		// Check database connection
		dbStatus := "healthy"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbStatus,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
