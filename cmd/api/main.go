package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luizcarelo/nps-saas/internal/auth"
	"github.com/luizcarelo/nps-saas/internal/config"
	"github.com/luizcarelo/nps-saas/internal/conversation"
	"github.com/luizcarelo/nps-saas/internal/dashboard"
	"github.com/luizcarelo/nps-saas/internal/dispatch"
	"github.com/luizcarelo/nps-saas/internal/gateway"
	"github.com/luizcarelo/nps-saas/internal/identity"
	"github.com/luizcarelo/nps-saas/internal/survey"
	"github.com/luizcarelo/nps-saas/pkg/logger"
	"github.com/luizcarelo/nps-saas/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "nps-api")
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := survey.NewPostgresStore(db)
	resolver := identity.NewResolver(identity.Options{CountryCode: cfg.Survey.CountryCode})
	contexts := conversation.NewStore()

	gw, err := gateway.NewHTTPGateway(gateway.HTTPOptions{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		log.Error("gateway init failed", "err", err)
		os.Exit(1)
	}

	board := dashboard.NewService(store, dashboard.RedisPublisher(rdb), log)
	hub := dashboard.NewHub(log)
	go hub.ListenRedis(rootCtx, rdb)

	engine := conversation.NewEngine(conversation.EngineOptions{
		Contexts:         contexts,
		Responses:        store,
		Gateway:          gw,
		Resolver:         resolver,
		Broadcaster:      board,
		Logger:           log,
		SentLookback:     cfg.Survey.SentLookback,
		AnsweredLookback: cfg.Survey.AnsweredLookback,
	})

	scheduler := dispatch.NewScheduler(dispatch.SchedulerOptions{
		Store:       store,
		Gateway:     gw,
		Contexts:    contexts,
		Resolver:    resolver,
		Broadcaster: board,
		Limiter:     dispatch.NewRedisLimiter(rdb, 2, 2*time.Hour),
		Logger:      log,
		MinDelay:    cfg.Gateway.MinSendDelay,
		MaxDelay:    cfg.Gateway.MaxSendDelay,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, appDeps{
		authMW:    auth.RequireAccessToken(authManager),
		webhook:   gateway.NewWebhookHandler(engine),
		scheduler: scheduler,
		board:     board,
		hub:       hub,
		gw:        gw,
		db:        db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
