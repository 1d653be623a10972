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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/config"
	"github.com/tourhub/tour-booking-core/internal/database"
	"github.com/tourhub/tour-booking-core/internal/handlers"
	"github.com/tourhub/tour-booking-core/internal/metrics"
	"github.com/tourhub/tour-booking-core/internal/middleware"
	"github.com/tourhub/tour-booking-core/internal/services"
	"github.com/tourhub/tour-booking-core/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Infof("Starting tour booking core, version %s, built %s", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// ========================================================================
	// REPOSITORIES & SERVICES
	// ========================================================================

	m := metrics.New(prometheus.DefaultRegisterer)
	clock := services.SystemClock{}
	txManager := database.NewTxManager(db)

	capacityRepo := database.NewCapacityRepository(db)
	bookingRepo := database.NewTourBookingRepository(db)
	refundRepo := database.NewBookingRefundRepository(db)
	policyRepo := database.NewRefundPolicyRepository(db)
	invitationRepo := database.NewGuideInvitationRepository(db)
	guideRepo := database.NewGuideRepository(db)
	eventRepo := database.NewDomainEventRepository(db)
	paymentAuditRepo := database.NewPaymentAuditRepository(db, logger)

	allocator := services.NewCapacityAllocator(capacityRepo, bookingRepo, txManager, eventRepo, clock, m, logger,
		services.AllocatorConfig{
			MaxAttempts:    cfg.Booking.MaxCASAttempts,
			SweepBatchSize: cfg.Sweep.BatchSize,
		})
	resolver := services.NewRefundPolicyResolver(policyRepo, m, logger)
	lifecycle := services.NewBookingLifecycleService(bookingRepo, capacityRepo, refundRepo, allocator, resolver,
		txManager, eventRepo, clock, m, logger,
		services.LifecycleConfig{
			HoldWindow:        cfg.Booking.HoldWindow,
			BookingCodePrefix: cfg.Booking.BookingCodePrefix,
		})
	refundService := services.NewRefundService(refundRepo, bookingRepo, txManager, eventRepo, clock, logger)
	invitationService := services.NewGuideInvitationService(invitationRepo, guideRepo, capacityRepo, eventRepo, clock, m, logger,
		services.InvitationConfig{
			ResponseWindow: cfg.Invitation.ResponseWindow,
			MaxAttempts:    cfg.Booking.MaxCASAttempts,
			SweepBatchSize: cfg.Sweep.BatchSize,
		})

	cronService := services.NewCronService(allocator, invitationService, logger, services.CronConfig{
		ReservationSweepSpec: cfg.Sweep.ReservationSpec,
		InvitationSweepSpec:  cfg.Sweep.InvitationSpec,
		JobTimeout:           cfg.Sweep.JobTimeout,
	})
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Cron service started - reservation and invitation sweeps enabled")

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	bookingHandler := handlers.NewBookingHandler(lifecycle, logger)
	webhookHandler := handlers.NewPaymentWebhookHandler(lifecycle, paymentAuditRepo, cfg.Payment.WebhookSecret, cfg.Payment.SignatureHeader, logger)
	invitationHandler := handlers.NewInvitationHandler(invitationService, logger)
	refundHandler := handlers.NewRefundHandler(refundService, logger)

	// ========================================================================
	// ROUTES
	// ========================================================================

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db))
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		// Gateway callback, authenticated by signature instead of JWT
		v1.POST("/payments/webhook", webhookHandler.Handle)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService, logger))

		bookings := protected.Group("/bookings")
		{
			bookings.POST("", middleware.RequireRole(jwt.RoleCustomer), bookingHandler.CreateReservation)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)

			staff := bookings.Group("", middleware.RequireRole(jwt.RoleGuide, jwt.RoleAdmin))
			staff.POST("/:id/check-in", bookingHandler.CheckIn)
			staff.POST("/:id/no-show", bookingHandler.MarkNoShow)
			staff.POST("/:id/complete", bookingHandler.MarkCompleted)
		}

		protected.POST("/invitations/:id/respond", middleware.RequireRole(jwt.RoleGuide, jwt.RoleAdmin), invitationHandler.Respond)

		admin := protected.Group("", middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.POST("/slots/:id/cancel", bookingHandler.CancelSlot)
			admin.GET("/payments/audits/:booking_id", webhookHandler.ListAudits)

			admin.POST("/plans/:plan_id/invitations/auto", invitationHandler.SendAutomatic)
			admin.POST("/plans/:plan_id/invitations", invitationHandler.SendManual)
			admin.GET("/plans/:plan_id/invitations", invitationHandler.ListByPlan)

			admin.GET("/refunds/:id", refundHandler.GetRefund)
			admin.POST("/refunds/:id/approve", refundHandler.Approve)
			admin.POST("/refunds/:id/reject", refundHandler.Reject)
			admin.POST("/refunds/:id/complete", refundHandler.Complete)
			admin.POST("/refunds/:id/cancel", refundHandler.Cancel)

			admin.POST("/sweeps/run", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.RunSweepsNow(c.Request.Context()))
			})
			admin.GET("/sweeps/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cronService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"query":      c.Request.URL.RawQuery,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userCtx, ok := middleware.GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Error("Request failed with errors")
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler reports database reachability
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
