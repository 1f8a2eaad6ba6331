package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campus-core/enrollment-api/api/swagger"
	"github.com/campus-core/enrollment-api/internal/handler"
	"github.com/campus-core/enrollment-api/internal/middleware"
	"github.com/campus-core/enrollment-api/internal/models"
	"github.com/campus-core/enrollment-api/internal/repository"
	"github.com/campus-core/enrollment-api/internal/service"
	"github.com/campus-core/enrollment-api/pkg/cache"
	"github.com/campus-core/enrollment-api/pkg/config"
	"github.com/campus-core/enrollment-api/pkg/database"
	"github.com/campus-core/enrollment-api/pkg/logger"
	corsmiddleware "github.com/campus-core/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campus-core/enrollment-api/pkg/middleware/requestid"

	"github.com/redis/go-redis/v9"
)

// @title Enrollment API
// @version 0.1.0
// @description Course section enrollment coordinator
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Enrollment.CacheEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without projection cache", "error", err)
			redisClient = nil
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Enrollment.RosterCacheTTL, logr, redisClient != nil)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)
	courseSvc := service.NewCourseService(courseRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(
		db,
		enrollmentRepo,
		courseRepo,
		studentRepo,
		cacheSvc,
		metricsSvc,
		validate,
		logr,
		service.EnrollmentConfig{
			RetryAttempts: cfg.Enrollment.RetryAttempts,
			RetryBackoff:  cfg.Enrollment.RetryBackoff,
		},
	)

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/health/db", metricsHandler.DBHealth)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Docs.Enabled && cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))
	{
		api.POST("/enrollments", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.Create)
		api.DELETE("/enrollments/:id", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.Delete)

		api.GET("/students/:id/enrollments", middleware.RBAC("SELF", "FACULTY", "ADMIN"), enrollmentHandler.ListForStudent)
		api.GET("/students/:id", middleware.RBAC("SELF", "FACULTY", "ADMIN"), studentHandler.Get)
		api.PUT("/students/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Sync)

		api.GET("/courses", courseHandler.List)
		api.GET("/courses/:id", courseHandler.Get)
		api.PUT("/courses/:id", middleware.RequireRoles(models.RoleAdmin), courseHandler.Upsert)
		api.GET("/courses/:id/roster", middleware.RequireRoles(models.RoleFaculty, models.RoleAdmin), enrollmentHandler.Roster)
		api.GET("/courses/:id/roster/export", middleware.RequireRoles(models.RoleFaculty, models.RoleAdmin), enrollmentHandler.ExportRoster)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
