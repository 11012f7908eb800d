package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lending/pkg/circuitbreaker"
	"lending/pkg/config"
	"lending/pkg/database"
	"lending/pkg/lending"
	"lending/pkg/logging"
	"lending/pkg/seed"
	"lending/pkg/session"
	"lending/pkg/store"
)

var (
	lib      *lending.Library
	catalog  *store.Store
	sessions *session.Manager
	logger   = zap.NewNop()
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err = logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting library service...", zap.String("driver", cfg.DBDriver))

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog = store.New(db, circuitbreaker.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerTimeout))
	if cfg.AutoMigrate {
		if err := catalog.CreateSchema(ctx); err != nil {
			logger.Fatal("Database migration failed", zap.Error(err))
		}
	}

	lib, err = lending.New(ctx, catalog, logger)
	if err != nil {
		logger.Fatal("Failed to load library index", zap.Error(err))
	}

	err = seed.Bootstrap(ctx, lib, seed.Options{
		BooksFile: cfg.BooksFile,
		Strict:    cfg.SeedStrict,
		DefaultReader: seed.DefaultReader{
			Name:      cfg.DefaultReader.Name,
			Surname:   cfg.DefaultReader.Surname,
			Email:     cfg.DefaultReader.Email,
			Password:  cfg.DefaultReader.Password,
			BirthYear: cfg.DefaultReader.BirthYear,
		},
	}, logger)
	if err != nil {
		logger.Fatal("Bootstrap failed", zap.Error(err))
	}

	sessions = session.NewManager(cfg.SessionSecret, cfg.SessionTTL, cfg.CookieSecure, lib.LoadUser)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Library service listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func setupRouter() *gin.Engine {
	server := gin.New()
	server.Use(gin.Recovery(), logging.GinLogger(logger), sessions.Middleware())

	api := server.Group("/api/v1")
	api.GET("/books", listBooks)
	api.GET("/books/available", listAvailableBooks)
	api.POST("/registration", register)
	api.POST("/login", login)

	auth := api.Group("", session.RequireReader())
	auth.POST("/books", addBook)
	auth.POST("/books/lend", lendBooks)
	auth.POST("/books/return", returnBooks)
	auth.POST("/books/delete", deleteBooks)
	auth.GET("/readers/me/books", myBooks)
	auth.POST("/logout", logout)

	server.GET("/manage/health", healthCheck)
	return server
}
