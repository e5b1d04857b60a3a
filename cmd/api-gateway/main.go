package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-review-api/api/swagger"
	"github.com/noah-isme/sma-review-api/internal/handler"
	"github.com/noah-isme/sma-review-api/internal/middleware"
	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/internal/repository"
	"github.com/noah-isme/sma-review-api/internal/service"
	"github.com/noah-isme/sma-review-api/pkg/cache"
	"github.com/noah-isme/sma-review-api/pkg/config"
	"github.com/noah-isme/sma-review-api/pkg/database"
	"github.com/noah-isme/sma-review-api/pkg/jobs"
	"github.com/noah-isme/sma-review-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-review-api/pkg/middleware/requestid"
)

// @title SMA Review API
// @version 1.0.0
// @description Document review workflow, comment threads and review dashboards.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	// Redis is optional: without it the dashboard is computed on every request.
	var (
		cacheRepo  service.CacheRepository
		redisCheck handler.Pinger
	)
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, stats cache disabled", zap.Error(err))
	} else {
		repo := repository.NewCacheRepository(redisClient, logr)
		defer repo.Close() //nolint:errcheck
		cacheRepo = repo
		redisCheck = handler.PingFunc(repo.Ping)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Review.StatsCacheTTL, logr, cfg.Review.StatsCacheEnabled)

	documentRepo := repository.NewDocumentRepository(db, repository.DocumentRepositoryConfig{
		FeedChannel:       cfg.Review.FeedChannel,
		DefaultSchoolYear: cfg.Review.DefaultSchoolYear,
	})
	classRepo := repository.NewClassRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	listener := database.NewListener(cfg.Database, cfg.Review.FeedMinReconnect, cfg.Review.FeedMaxReconnect, logr)
	feed := repository.NewDocumentFeed(listener, documentRepo, cfg.Review.FeedChannel, logr)
	feed.SetSubscriptionObserver(metricsSvc.SetActiveSubscriptions)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, repository.ErrFeedClosed) && !errors.Is(err, context.Canceled) {
			logr.Error("document feed stopped", zap.Error(err))
		}
	}()

	notificationSvc := service.NewNotificationService(notificationRepo, metricsSvc, logr)
	var notifyQueue *jobs.Queue
	if cfg.Notifications.Enabled {
		notifyQueue = jobs.NewQueue("review-notifications", notificationSvc.Handle, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		notifyQueue.Start(ctx)
		notificationSvc.AttachQueue(notifyQueue)
	}

	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	policy := service.NewReviewPolicy(userRepo, cfg.Review.CommentManagers)
	reviewSvc := service.NewReviewService(
		documentRepo,
		classRepo,
		userRepo,
		policy,
		service.NewCommentSanitizer(cfg.Review.MaxCommentLength),
		auditRepo,
		notificationSvc,
		cacheSvc,
		metricsSvc,
		validate,
		logr,
	)
	statsSvc := service.NewStatsService(documentRepo, classRepo, feed, cacheSvc, metricsSvc, cfg.Review.StatsCacheTTL, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	reviewHandler := handler.NewReviewHandler(reviewSvc)
	statsHandler := handler.NewStatsHandler(statsSvc, cfg.Review.StreamKeepAlive)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": db,
		"redis":    redisCheck,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authMw := middleware.JWT(authSvc)
	reviewers := middleware.RequireRoles(models.RoleHeadTeacher, models.RoleVicePrincipal, models.RoleAdmin, models.RoleSuperAdmin)

	auth := api.Group("/auth")
	auth.POST("/token", authMw, middleware.RequireRoles(models.RoleSuperAdmin), authHandler.IssueToken)
	auth.GET("/me", authMw, authHandler.Me)

	reviews := api.Group("/reviews")
	documents := reviews.Group("/documents", authMw)
	documents.POST("", reviewHandler.Create)
	documents.GET("", reviewHandler.List)
	documents.GET("/:id", reviewHandler.Get)
	documents.DELETE("/:id", reviewHandler.Delete)
	documents.GET("/:id/reviewers", reviewHandler.Reviewers)
	documents.GET("/:id/history", reviewers, reviewHandler.History)
	documents.POST("/:id/approve", reviewHandler.Approve)
	documents.POST("/:id/revision", reviewHandler.RequestRevision)
	documents.POST("/:id/comments", reviewHandler.PostComment)
	documents.PATCH("/:id/comments/:commentId", reviewHandler.EditComment)
	documents.DELETE("/:id/comments/:commentId", reviewHandler.DeleteComment)

	stats := reviews.Group("/stats")
	stats.GET("", authMw, statsHandler.Summary)
	stats.GET("/stream", middleware.JWTStream(authSvc), statsHandler.Stream)
	stats.GET("/export", authMw, middleware.Audit(auditRepo, models.AuditActionStatsExport, "review_stats"), statsHandler.Export)

	api.GET("/metrics/snapshot", authMw, middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), metricsHandler.Snapshot)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := feed.Close(); err != nil && !errors.Is(err, repository.ErrFeedClosed) {
		logr.Warn("failed to close document feed", zap.Error(err))
	}
	if notifyQueue != nil {
		notifyQueue.Stop()
	}
}
