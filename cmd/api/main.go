package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/jdcruz-dev/sc-portal-api/api/swagger"
	"github.com/jdcruz-dev/sc-portal-api/internal/handler"
	"github.com/jdcruz-dev/sc-portal-api/internal/middleware"
	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	"github.com/jdcruz-dev/sc-portal-api/internal/repository"
	"github.com/jdcruz-dev/sc-portal-api/internal/service"
	"github.com/jdcruz-dev/sc-portal-api/pkg/cache"
	"github.com/jdcruz-dev/sc-portal-api/pkg/config"
	"github.com/jdcruz-dev/sc-portal-api/pkg/database"
	"github.com/jdcruz-dev/sc-portal-api/pkg/jobs"
	"github.com/jdcruz-dev/sc-portal-api/pkg/logger"
	corsmiddleware "github.com/jdcruz-dev/sc-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/jdcruz-dev/sc-portal-api/pkg/middleware/requestid"
)

// @title SC Portal API
// @version 1.0.0
// @description Student council membership, attendance and year-end processing backend
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, review cache disabled", "error", err)
	}

	validate := validator.New()

	memberRepo := repository.NewMemberRepository(db)
	yearRepo := repository.NewAcademicYearRepository(db)
	eventRepo := repository.NewEventRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.YearEnd.ReviewCacheTTL, logr, true)
	} else {
		cacheSvc = service.NewCacheService(nil, metricsSvc, cfg.YearEnd.ReviewCacheTTL, logr, false)
	}

	authRepo := struct {
		*repository.MemberRepository
		*repository.AuditRepository
	}{memberRepo, auditRepo}
	authSvc := service.NewAuthService(authRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sc-portal-api",
		Audience:           []string{"sc-portal"},
	})
	memberSvc := service.NewMemberService(memberRepo, validate, logr)
	yearSvc := service.NewAcademicYearService(yearRepo, memberRepo, auditRepo, validate, logr)
	yearEndSvc := service.NewYearEndService(memberRepo, yearRepo, auditRepo, cacheSvc, validate, logr, cfg.YearEnd.ReviewCacheTTL).
		WithMetrics(metricsSvc)
	eventSvc := service.NewEventService(eventRepo, yearRepo, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, eventRepo, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, validate, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	})
	notificationSvc.Start(context.Background())
	defer notificationSvc.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	memberHandler := handler.NewMemberHandler(memberSvc)
	yearHandler := handler.NewAcademicYearHandler(yearSvc)
	yearEndHandler := handler.NewYearEndHandler(yearEndSvc)
	eventHandler := handler.NewEventHandler(eventSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	members := api.Group("/members", middleware.JWT(authSvc))
	{
		members.GET("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), memberHandler.List)
		members.GET("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAdmin), string(models.RoleOfficer), "SELF"), memberHandler.Get)
		members.POST("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), memberHandler.Create)
		members.PUT("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), memberHandler.Update)
		members.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), memberHandler.Delete)
	}

	years := api.Group("/year-end/academic-years", middleware.JWT(authSvc))
	{
		years.GET("", yearHandler.List)
		years.POST("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), yearHandler.Create)
		years.PATCH("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), yearHandler.Update)
		years.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), yearHandler.Delete)
	}
	api.POST("/year-end/migrate", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), yearHandler.Migrate)

	yearEnd := api.Group("/year-end", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	{
		yearEnd.POST("/run", yearEndHandler.Run)
		yearEnd.POST("/manual-action", yearEndHandler.ManualAction)
		yearEnd.GET("/review", yearEndHandler.Review)
		yearEnd.GET("/summary/export", yearEndHandler.ExportSummary)
	}

	events := api.Group("/events", middleware.JWT(authSvc))
	{
		events.GET("", eventHandler.List)
		events.GET("/:id", eventHandler.Get)
		events.POST("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), eventHandler.Create)
		events.PUT("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), eventHandler.Update)
		events.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), eventHandler.Delete)
	}

	attendance := api.Group("/attendance", middleware.JWT(authSvc))
	{
		attendance.GET("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), attendanceHandler.List)
		attendance.POST("/check-in", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), attendanceHandler.CheckIn)
		attendance.POST("/check-out", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), attendanceHandler.CheckOut)
		attendance.GET("/events/:id/export", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), attendanceHandler.ExportSheet)
	}

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	{
		notifications.GET("", notificationHandler.Inbox)
		notifications.POST("/broadcast", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOfficer), notificationHandler.Broadcast)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
