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

	_ "github.com/noah-isme/campus-ops-api/api/swagger"
	"github.com/noah-isme/campus-ops-api/internal/geofence"
	"github.com/noah-isme/campus-ops-api/internal/handler"
	"github.com/noah-isme/campus-ops-api/internal/middleware"
	"github.com/noah-isme/campus-ops-api/internal/models"
	"github.com/noah-isme/campus-ops-api/internal/notify"
	"github.com/noah-isme/campus-ops-api/internal/repository"
	"github.com/noah-isme/campus-ops-api/internal/scheduler"
	"github.com/noah-isme/campus-ops-api/internal/service"
	"github.com/noah-isme/campus-ops-api/pkg/cache"
	"github.com/noah-isme/campus-ops-api/pkg/clock"
	"github.com/noah-isme/campus-ops-api/pkg/config"
	"github.com/noah-isme/campus-ops-api/pkg/database"
	"github.com/noah-isme/campus-ops-api/pkg/export"
	"github.com/noah-isme/campus-ops-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-ops-api/pkg/middleware/requestid"
	"github.com/noah-isme/campus-ops-api/pkg/storage"
)

// @title Campus Ops API
// @version 1.0.0
// @description Multi-tenant attendance verification and fee alert engine
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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Redis backs cooldown fast paths and sweep locks; the durable
		// store keeps behaviour correct without it.
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	clk := clock.System()
	metrics := service.NewMetricsService()

	attendanceRepo := repository.NewAttendanceRepository(db)
	qrRepo := repository.NewQRCodeRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	identityRepo := repository.NewIdentityRepository(db)

	tokenSvc := service.NewTokenService(cfg.JWT)
	qrSvc := service.NewQRCodeService(qrRepo, clk, logr)
	attendanceSvc := service.NewAttendanceService(
		attendanceRepo, qrSvc, nil, identityRepo,
		geofence.NewValidator(cfg.Verification.GeoAccuracyToleranceM),
		cfg.Verification, clk, logr)
	receiptStore, err := storage.NewReceiptStore(cfg.Storage.ReceiptDir)
	if err != nil {
		logr.Fatal("failed to prepare receipt archive", zap.Error(err))
	}
	receiptSecret := cfg.Storage.ReceiptURLSecret
	if receiptSecret == "" {
		receiptSecret = cfg.JWT.Secret
	}
	receiptSigner := storage.NewSignedURLSigner(receiptSecret, cfg.Storage.ReceiptURLTTL)

	feeSvc := service.NewFeeService(feeRepo, export.NewReceiptRenderer(), validator.New(), cfg.Fees, clk, logr).
		WithReceiptArchive(receiptStore, receiptSigner)
	ruleSvc := service.NewRuleService(alertRepo, cacheRepo, feeSvc, attendanceRepo, nil, cfg.Rules, clk, logr)

	dispatcher := service.NewDispatchService(
		alertRepo, cacheRepo, buildSenders(cfg, identityRepo, logr),
		cfg.Dispatch, clk, logr).WithMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)

	evaluator := instrumentedEvaluator{ruleSvc, metrics}
	sched := scheduler.New(
		instrumentedSweeper{feeSvc, metrics},
		evaluator,
		dispatcher, cacheRepo,
		scheduler.Config{
			FeeInterval:  cfg.Fees.SweepInterval,
			RuleInterval: cfg.Rules.SweepInterval,
			LockTTL:      cfg.Rules.SweepLockTTL,
			Workers:      cfg.Rules.SweepWorkers,
		}, logr)
	sched.Start(ctx)

	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc, metrics)
	qrHandler := handler.NewQRCodeHandler(qrSvc, metrics)
	feeHandler := handler.NewFeeHandler(feeSvc)
	alertHandler := handler.NewAlertHandler(evaluator, dispatcher)
	receiptHandler := handler.NewReceiptHandler(receiptSigner, receiptStore)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/receipts/:token", receiptHandler.Download)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleAdmin)

	attendance := api.Group("/attendance")
	{
		attendance.POST("", attendanceHandler.Submit)
		attendance.GET("", attendanceHandler.List)
		attendance.GET("/stats", attendanceHandler.Stats)
		attendance.POST("/amend", staff, attendanceHandler.Amend)
		attendance.POST("/:id/void", staff, attendanceHandler.Void)
	}

	qrcodes := api.Group("/qrcodes")
	{
		qrcodes.POST("", staff, qrHandler.Issue)
		qrcodes.GET("", staff, qrHandler.List)
		qrcodes.POST("/consume", qrHandler.Consume)
		qrcodes.DELETE("/:id", staff, qrHandler.Deactivate)
	}

	fees := api.Group("/fees")
	{
		fees.POST("", admin, feeHandler.Assess)
		fees.GET("", feeHandler.List)
		fees.GET("/stats", feeHandler.Stats)
		fees.GET("/:id", feeHandler.Get)
		fees.POST("/:id/payments", admin, feeHandler.ApplyPayment)
		fees.POST("/:id/waive", admin, feeHandler.Waive)
		fees.POST("/:id/recompute", admin, feeHandler.Recompute)
		fees.GET("/payments/:paymentId/receipt", feeHandler.Receipt)
		fees.GET("/payments/:paymentId/receipt-link", feeHandler.ReceiptLink)
	}

	alerts := api.Group("/alerts")
	{
		alerts.POST("/rules", admin, alertHandler.CreateRule)
		alerts.GET("/rules", staff, alertHandler.ListRules)
		alerts.PUT("/rules/:id/active", admin, alertHandler.SetRuleActive)
		alerts.GET("/events", staff, alertHandler.ListEvents)
		alerts.POST("/evaluate", admin, alertHandler.Evaluate)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	sched.Stop()
	dispatcher.Stop()
	logr.Info("shutdown complete")
}

// buildSenders picks the email transport and keeps sms and push on the
// console sender until their gateways exist.
func buildSenders(cfg *config.Config, resolver notify.RecipientResolver, logr *zap.Logger) []notify.ChannelSender {
	var email notify.ChannelSender
	if cfg.Dispatch.SendgridKey != "" {
		email = notify.NewSendgridSender(cfg.Dispatch.SendgridKey, cfg.Dispatch.SenderName, cfg.Dispatch.SenderEmail, resolver)
	} else {
		email = notify.NewConsoleSender(models.ChannelEmail, logr)
	}
	return []notify.ChannelSender{
		email,
		notify.NewConsoleSender(models.ChannelSMS, logr),
		notify.NewConsoleSender(models.ChannelPush, logr),
	}
}

// instrumentedSweeper counts completed sweeps and status changes.
type instrumentedSweeper struct {
	*service.FeeService
	metrics *service.MetricsService
}

func (s instrumentedSweeper) Sweep(ctx context.Context, tenantID string) (int, error) {
	changed, err := s.FeeService.Sweep(ctx, tenantID)
	if err == nil {
		s.metrics.ObserveFeeSweep(changed)
	}
	return changed, err
}

// instrumentedEvaluator counts fired alerts per rule.
type instrumentedEvaluator struct {
	*service.RuleService
	metrics *service.MetricsService
}

func (e instrumentedEvaluator) EvaluateTenant(ctx context.Context, tenantID string) ([]models.AlertEvent, error) {
	events, err := e.RuleService.EvaluateTenant(ctx, tenantID)
	for _, event := range events {
		e.metrics.ObserveAlertFired(event.RuleName)
	}
	return events, err
}
