package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"

	"codelab-server/catalog"
	"codelab-server/config"
	"codelab-server/db"
	"codelab-server/evaluation"
	"codelab-server/handlers"
	"codelab-server/logger"
	"codelab-server/middleware"
	"codelab-server/progress"
	"codelab-server/vault"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	zlog, err := logger.New(cfg.GinMode)
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize database connection pool
	pool, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("unable to connect to database", "error", err)
	}
	defer pool.Close()

	// Ensure database schema is set up (simple creation for demo)
	if err := db.CreateSchema(pool); err != nil {
		zlog.Fatal("error creating database schema", "error", err)
	}
	zlog.Info("connected to PostgreSQL and ensured schema")

	// Stores and domain services
	catalogStore := catalog.NewPostgresStore(pool)
	progressStore := progress.NewPostgresStore(pool)
	tokenVault := vault.NewPostgresVault(pool)
	engine := evaluation.NewEngine(buildStrategy(cfg, zlog))
	audit := func(actor, action, target, notes string) {
		db.LogAdminEvent(pool, zlog, actor, action, target, notes)
	}

	// Set Gin mode
	gin.SetMode(cfg.GinMode)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(zlog))

	// Load HTML templates for admin UI
	renderer := multitemplate.NewRenderer()
	renderer.AddFromFiles("admin_layout", "templates/layout.html")
	renderer.AddFromFiles("admin_dashboard", "templates/admin_dashboard.html")
	router.HTMLRender = renderer

	authMiddleware := middleware.AuthMiddleware(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, zlog)

	// API Routes (version 1)
	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware)
	{
		apiV1.GET("/courses", handlers.GetCourses(catalogStore, zlog))
		apiV1.POST("/enrollment", handlers.Enroll(catalogStore, tokenVault, zlog))
		apiV1.GET("/pages/:page_id", handlers.GetPage(catalogStore, progressStore, zlog))
		apiV1.POST("/evaluations", handlers.EvaluateCode(engine, zlog))
		apiV1.POST("/progress", handlers.WriteProgress(progressStore, zlog))
	}

	// Admin Routes
	admin := router.Group("/admin")
	admin.Use(authMiddleware)
	admin.Use(middleware.RoleCheckMiddleware([]string{"admin", "instructor"}))
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool, zlog))
		admin.POST("/courses", handlers.AdminCreateCourse(catalogStore, audit, zlog))
		admin.PUT("/courses/:course_id", handlers.AdminUpdateCourse(catalogStore, audit, zlog))
		admin.PUT("/pages/:page_id", handlers.AdminUpsertPage(catalogStore, audit, zlog))
		admin.POST("/courses/:course_id/tokens", handlers.AdminIssueToken(catalogStore, tokenVault, audit, zlog))
		admin.POST("/ingest", handlers.TriggerIngestion(pool, cfg.Content.PacksPath, audit, zlog))
	}

	// Start the server
	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}

	// Goroutine to gracefully shut down the server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		zlog.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zlog.Fatal("server forced to shutdown", "error", err)
		}
	}()

	zlog.Info("codelab server starting", "addr", cfg.ServerPort, "evaluation_mode", cfg.Evaluation.Mode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal("server startup error", "error", err)
	}
	zlog.Info("server exited gracefully")
}

// buildStrategy selects the evaluation strategy from configuration. Both
// strategies satisfy the same contract, so callers never notice which one
// is active.
func buildStrategy(cfg *config.Config, zlog *logger.Logger) evaluation.Strategy {
	switch cfg.Evaluation.Mode {
	case "sandbox":
		return evaluation.NewSandboxStrategy(cfg.Sandbox.RunnerURL, cfg.Sandbox.Timeout, zlog)
	default:
		return evaluation.NewJudgedStrategy(cfg.Judge.APIKey, cfg.Judge.Model, cfg.Judge.Timeout, zlog)
	}
}
