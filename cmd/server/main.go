package main

import (
	// Standard library
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Internal packages
	"github.com/houzhh15/capworks/cmd/server/internal/api"
	"github.com/houzhh15/capworks/cmd/server/internal/audit"
	"github.com/houzhh15/capworks/cmd/server/internal/backup"
	"github.com/houzhh15/capworks/cmd/server/internal/config"
	"github.com/houzhh15/capworks/cmd/server/internal/middleware"
	"github.com/houzhh15/capworks/cmd/server/internal/ratelimit"
	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
	"github.com/houzhh15/capworks/cmd/server/internal/users"
	"github.com/houzhh15/capworks/pkg/logger"
)

// generateRandomPassword generates a cryptographically secure random password
func generateRandomPassword(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("failed to generate random password: %v", err))
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length]
}

func main() {
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: os.Getenv("ENV"),
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "production"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "web-server")

	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		appLogger.Error("data dir init failed", "error", err)
		os.Exit(1)
	}

	// Task record repository
	taskRepo := tasks.NewRepository(cfg.Data.Dir, cfg.LockTimeout())
	if err := taskRepo.EnsureFile(); err != nil {
		appLogger.Error("task store init failed", "error", err)
		os.Exit(1)
	}

	// User manager
	userManager, err := users.NewManager(cfg.Data.Dir, []byte(cfg.Security.JWTSecret), cfg.TokenTTL(), cfg.LockTimeout())
	if err != nil {
		appLogger.Error("user manager init failed", "error", err)
		os.Exit(1)
	}

	// Ensure default admin with config-based password
	adminPassword := cfg.Security.AdminDefaultPassword
	if adminPassword == "" {
		// ValidateConfig already rejected production without one
		adminPassword = generateRandomPassword(16)
		appLogger.Warn("generated random admin password", "password", adminPassword)
	}
	if err := userManager.EnsureDefaultAdmin(context.Background(), adminPassword); err != nil {
		appLogger.Warn("failed to ensure default admin", "error", err)
	}

	// Login throttling
	limiter := ratelimit.New(cfg.RateLimit.MaxPerUsername, cfg.RateLimit.MaxPerIP, cfg.RateLimitWindow())

	// Audit trail
	auditLog := audit.NewFileLogger(cfg.Data.AuditLogFile, appLogger.With("component", "audit"))
	defer auditLog.Close()

	// Scheduled backups
	backupCtx, backupCancel := context.WithCancel(context.Background())
	defer backupCancel()
	backups := backup.New(taskRepo, userManager, cfg.Data.AuditLogFile, cfg.Data.BackupsDir,
		cfg.Backup.RetentionDays, appLogger.With("component", "backup"))
	backups.Start(backupCtx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/login", api.HandleLogin(userManager, limiter, auditLog))

	authed := router.Group("/", api.RequireAuth(userManager))
	{
		authed.POST("/tasks", api.HandleCreateTask(taskRepo, auditLog))
		authed.GET("/tasks", api.HandleListTasks(taskRepo))
		authed.PATCH("/tasks/:sno", api.HandleUpdateTask(taskRepo, auditLog))
		authed.DELETE("/tasks/:sno", api.HandleDeleteTask(taskRepo, auditLog))
	}

	admin := router.Group("/admin", api.RequireAuth(userManager), api.RequireAdmin())
	{
		admin.GET("/tasks", api.HandleAdminListTasks(taskRepo))
		admin.GET("/summary", api.HandleAdminSummary(taskRepo))
		admin.GET("/export", api.HandleAdminExport(taskRepo, backups, auditLog))

		admin.GET("/users", api.HandleAdminListUsers(userManager))
		admin.POST("/users", api.HandleAdminCreateUser(userManager, auditLog))
		admin.PATCH("/users/:username/status", api.HandleAdminSetUserStatus(userManager, auditLog))
		admin.POST("/users/:username/reset-password", api.HandleAdminResetPassword(userManager, auditLog))
	}

	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: router,
	}

	go func() {
		appLogger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")
	backupCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}
