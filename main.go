package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/config"
	"github.com/WestWindsorForward/Pinpoint-311/handlers"
	"github.com/WestWindsorForward/Pinpoint-311/middleware"
	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/monitoring"
	"github.com/WestWindsorForward/Pinpoint-311/queue"
	"github.com/WestWindsorForward/Pinpoint-311/services"
	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("Starting Pinpoint 311 initialization")

	townshipCfg, err := config.Load(utils.GetEnvOrDefault("TOWNSHIP_CONFIG", "config/township.yaml"))
	if err != nil {
		slog.Error("Failed to load township config", "error", err)
		os.Exit(1)
	}
	slog.Info("Township configuration loaded", "township", townshipCfg.Name, "categories", len(townshipCfg.IssueCategories))

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		slog.Error("JWT_SECRET_KEY environment variable is required")
		os.Exit(1)
	}

	dbConfig := NewDatabaseConfig()
	gormDB, err := ConnectGORM(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := migrate(gormDB); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Telemetry
	ctx := context.Background()
	telemetry, err := monitoring.Setup(ctx, monitoring.Config{
		ServiceName:   "pinpoint-311",
		ResourceAttrs: map[string]string{"township": townshipCfg.Name},
	})
	if err != nil {
		slog.Error("Failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	// Services
	auditService := services.NewAuditService(gormDB)
	requestService := services.NewRequestService(gormDB, townshipCfg)
	webhookService := services.NewWebhookService(gormDB, townshipCfg)
	webhookService.SetTelemetry(telemetry)
	notificationService := services.NewNotificationService(townshipCfg, nil, nil)
	authService := services.NewAuthService(gormDB, auditService, []byte(jwtKey),
		utils.ParseDurationOrDefault("JWT_TOKEN_TTL", time.Hour))

	if err := seedAdminUser(ctx, gormDB); err != nil {
		slog.Error("Failed to seed admin user", "error", err)
		os.Exit(1)
	}

	// Webhook delivery: the outbox poller always runs; when REDIS_ADDR is set
	// a stream consumer is added and new deliveries are published to it so
	// consumers on other instances can pick them up immediately.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	webhookWorker := services.NewWebhookWorker(gormDB, webhookService, townshipCfg.Notification.WebhookMaxAttempts)
	go webhookWorker.Start(workerCtx)

	var dispatcher handlers.DeliveryDispatcher = workerKickDispatcher{worker: webhookWorker}
	var redisClient *queue.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient, err = queue.NewClient(&queue.Config{
			Addr:     addr,
			Username: os.Getenv("REDIS_USERNAME"),
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		stream, err := queue.NewWebhookStream(redisClient, webhookService, utils.GetEnvOrDefault("REDIS_CONSUMER_NAME", ""))
		if err != nil {
			slog.Error("Failed to set up webhook stream", "error", err)
			os.Exit(1)
		}
		go stream.Start(workerCtx)
		dispatcher = streamDispatcher{stream: stream}
	}

	// Handlers
	requestHandler := handlers.NewRequestHandler(requestService, telemetry)
	staffHandler := handlers.NewStaffHandler(requestService, auditService, webhookService,
		notificationService, dispatcher, telemetry, utils.GetEnvOrDefault("UPLOAD_DIR", "uploads"))
	auditHandler := handlers.NewAuditHandler(auditService)
	authHandler := handlers.NewAuthHandler(authService)

	// Public routes: resident API plus login.
	publicMux := http.NewServeMux()
	requestHandler.SetupRoutes(publicMux)
	publicMux.Handle("/api/staff/auth/login", utils.PanicRecoveryMiddleware(http.HandlerFunc(authHandler.Login)))

	// Staff routes sit behind JWT auth with a worker-role floor; manager and
	// admin checks happen per endpoint.
	staffMux := http.NewServeMux()
	staffHandler.SetupRoutes(staffMux)
	auditHandler.SetupRoutes(staffMux)
	staffMux.Handle("/api/staff/auth/logout", utils.PanicRecoveryMiddleware(http.HandlerFunc(authHandler.Logout)))
	staffMux.Handle("/api/staff/auth/me", utils.PanicRecoveryMiddleware(http.HandlerFunc(authHandler.Me)))
	staffMux.Handle("/api/staff/users/", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleUserRoutes(w, r, authHandler)
	})))

	corsMiddleware := middleware.CORSMiddleware()
	jwtAuth := middleware.NewJWTAuthMiddleware([]byte(jwtKey))
	requireWorker := middleware.RequireRole(models.RoleWorker)

	protectedStaffHandler := corsMiddleware(
		jwtAuth.AuthenticateJWT(
			requireWorker(
				telemetry.HTTPMetricsMiddleware(staffMux),
			),
		),
	)
	publicHandler := corsMiddleware(telemetry.HTTPMetricsMiddleware(publicMux))

	topLevelMux := http.NewServeMux()
	topLevelMux.Handle("/health", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, gormDB, dbConfig)
	})))
	topLevelMux.Handle("/metrics", telemetry.Handler())
	topLevelMux.Handle("/api/requests", publicHandler)
	topLevelMux.Handle("/api/requests/", publicHandler)
	topLevelMux.Handle("/api/staff/auth/login", publicHandler)
	topLevelMux.Handle("/api/staff/", protectedStaffHandler)

	port := utils.GetEnvOrDefault("PORT", "8000")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      topLevelMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Pinpoint 311 starting", "port", port, "township", townshipCfg.Name)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down Pinpoint 311...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	stopWorkers()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down telemetry", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		}
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}

	slog.Info("Pinpoint 311 exited")
}

// migrate creates or updates the schema for every model.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ServiceRequest{},
		&models.RequestStatusHistory{},
		&models.RequestNote{},
		&models.RequestAttachment{},
		&models.NotificationOptIn{},
		&models.WebhookDelivery{},
		&models.AuditLog{},
	)
}

// seedAdminUser creates the bootstrap admin account when ADMIN_EMAIL and
// ADMIN_PASSWORD are set and no account with that email exists yet.
func seedAdminUser(ctx context.Context, db *gorm.DB) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check for admin user: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := services.HashPassword(password)
	if err != nil {
		return err
	}

	fullName := "Administrator"
	admin := &models.User{
		Email:        email,
		FullName:     &fullName,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := db.WithContext(ctx).Create(admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	slog.Info("Bootstrap admin user created", "email", email)
	return nil
}

// handleUserRoutes dispatches PATCH /api/staff/users/{id}/role.
func handleUserRoutes(w http.ResponseWriter, r *http.Request, authHandler *handlers.AuthHandler) {
	const prefix = "/api/staff/users/"
	rest := r.URL.Path[len(prefix):]
	if n := len(rest); n > len("/role") && rest[n-len("/role"):] == "/role" {
		authHandler.UpdateRole(w, r, rest[:n-len("/role")])
		return
	}
	utils.RespondWithError(w, http.StatusNotFound, "Not found", nil)
}

func healthCheck(w http.ResponseWriter, gormDB *gorm.DB, dbConfig *DatabaseConfig) {
	type DBHealth struct {
		Status   string `json:"status"`
		Error    string `json:"error,omitempty"`
		Database string `json:"database,omitempty"`
	}
	type HealthStatus struct {
		Status   string   `json:"status"`
		Service  string   `json:"service"`
		Database DBHealth `json:"database"`
	}

	status := HealthStatus{
		Status:   "healthy",
		Service:  "pinpoint-311",
		Database: DBHealth{Status: "unknown"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sqlDB, err := gormDB.DB()
	if err != nil {
		status.Database = DBHealth{Status: "unhealthy", Error: fmt.Sprintf("failed to get sql.DB: %v", err)}
		status.Status = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = DBHealth{Status: "unhealthy", Error: err.Error()}
		status.Status = "unhealthy"
	} else {
		status.Database = DBHealth{Status: "healthy", Database: dbConfig.Database}
	}

	statusCode := http.StatusOK
	if status.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	utils.RespondWithJSON(w, statusCode, status)
}

// workerKickDispatcher nudges the in-process outbox poller after a delivery
// is scheduled.
type workerKickDispatcher struct {
	worker *services.WebhookWorker
}

func (d workerKickDispatcher) Dispatch(ctx context.Context, deliveryID int64) error {
	d.worker.Kick()
	return nil
}

// streamDispatcher publishes scheduled deliveries to the Redis stream so any
// consumer instance can pick them up.
type streamDispatcher struct {
	stream *queue.WebhookStream
}

func (d streamDispatcher) Dispatch(ctx context.Context, deliveryID int64) error {
	return d.stream.Publish(ctx, deliveryID)
}
