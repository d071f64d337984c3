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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ideinstein/leadbridge/internal/application/mapping"
	"github.com/ideinstein/leadbridge/internal/application/services"
	"github.com/ideinstein/leadbridge/internal/config"
	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/internal/infrastructure/crm"
	"github.com/ideinstein/leadbridge/internal/infrastructure/database"
	"github.com/ideinstein/leadbridge/internal/infrastructure/persistence"
	"github.com/ideinstein/leadbridge/internal/infrastructure/storage"
	"github.com/ideinstein/leadbridge/internal/interfaces/middleware"
	"github.com/ideinstein/leadbridge/internal/interfaces/rest"
	"github.com/ideinstein/leadbridge/internal/logging"
)

const (
	uploadsURLBase  = "/api/admin/uploads"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Database
	conn, err := database.Open(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() { _ = conn.Close() }()
	if err := persistence.EnsureSchema(ctx, conn.DB()); err != nil {
		logger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	logger.Info("Database connection established", zap.String("host", cfg.DB.Host), zap.String("database", cfg.DB.Name))

	mapper, err := mapping.Load(cfg.MappingFile)
	if err != nil {
		logger.Fatal("Failed to load field mapping", zap.Error(err))
	}
	for _, ft := range domain.FormTypes {
		logger.Info("Form routing", zap.String("form", string(ft)), zap.String("module", mapper.Module(ft)))
	}

	// CRM and document storage share one OAuth token cache
	tokens := crm.NewTokenManager(crm.TokenConfig{
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RefreshToken: cfg.CRM.RefreshToken,
		AccountsURL:  cfg.CRM.AccountsURL,
		EarlyExpiry:  cfg.CRM.EarlyExpiry,
	}, logger.Named("oauth"))
	crmClient := crm.NewClient(crm.ClientConfig{
		BaseURL:    cfg.CRM.APIURL,
		APIVersion: cfg.CRM.APIVersion,
		AuthScheme: cfg.CRM.AuthScheme,
	}, tokens, logger.Named("crm"))

	var store storage.DocumentStore
	var localStore *storage.LocalStore
	if cfg.Docs.ParentID != "" {
		store = storage.NewWorkDriveStore(storage.WorkDriveConfig{
			BaseURL:    cfg.Docs.APIURL,
			ParentID:   cfg.Docs.ParentID,
			AuthScheme: cfg.CRM.AuthScheme,
		}, tokens, logger.Named("docs"))
		logger.Info("Attachments go to document storage", zap.String("folder", cfg.Docs.ParentID))
	} else {
		localStore = storage.NewLocalStore(cfg.Docs.UploadDir, uploadsURLBase)
		store = localStore
		logger.Warn("DOCS_PARENT_ID not set, attachments are kept on local disk and CRM note links need an admin login",
			zap.String("dir", cfg.Docs.UploadDir), zap.String("url_base", uploadsURLBase))
	}

	svcMgr, err := services.NewServiceManager(cfg, services.Dependencies{
		Conn:   conn,
		CRM:    crmClient,
		Store:  store,
		Mapper: mapper,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	svcMgr.Start()

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger.Named("http")), middleware.Recovery(logger), middleware.Cors(cfg.AllowedOrigins))

	router.GET("/health", rest.NewHealthHandler(conn.DB()).Health)

	formHandler := rest.NewFormHandler(svcMgr.Leads, cfg.MaxUploadBytes, cfg.MaxAttachments)
	forms := router.Group("/api/forms")
	{
		forms.POST("/contact", formHandler.SubmitContact)
		forms.POST("/consultation", formHandler.SubmitConsultation)
		forms.POST("/newsletter", formHandler.SubmitNewsletter)
		forms.POST("/quote", formHandler.SubmitQuote)
	}

	if svcMgr.Auth != nil {
		router.POST("/api/admin/login", rest.NewAuthHandler(svcMgr.Auth).Login)

		adminHandler := rest.NewAdminHandler(svcMgr.Leads, crmClient)
		admin := router.Group("/api/admin")
		admin.Use(middleware.RequireAdmin(svcMgr.Auth))
		{
			admin.GET("/submissions", adminHandler.ListSubmissions)
			admin.GET("/submissions/:id", adminHandler.GetSubmission)
			admin.POST("/submissions/:id/retry", adminHandler.RetrySubmission)
			admin.GET("/crm/ping", adminHandler.PingCRM)
			if localStore != nil {
				admin.Static("/uploads", localStore.Dir())
			}
		}
	} else {
		logger.Warn("Admin API disabled: set ADMIN_EMAIL, ADMIN_PASSWORD_HASH and JWT_SECRET to enable it")
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Workers stop after the last request so every accepted submission is queued
	svcMgr.Stop()
	logger.Info("Server exiting")
}
