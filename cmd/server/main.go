package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tariel-x/mlmadmin/internal/auth"
	"github.com/tariel-x/mlmadmin/internal/config"
	"github.com/tariel-x/mlmadmin/internal/database"
	"github.com/tariel-x/mlmadmin/internal/genealogy"
	"github.com/tariel-x/mlmadmin/internal/handlers"
	"github.com/tariel-x/mlmadmin/internal/members"
	"github.com/tariel-x/mlmadmin/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const AppVersion = "1.0.0"

var buildTimestamp = time.Now().Unix()

func main() {
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP (no TLS); use behind a reverse proxy")
	selfSigned := flag.Bool("self-signed", false, "Serve HTTPS with a generated self-signed certificate")
	flag.Parse()

	cfg := config.Load(httpOnly)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info(fmt.Sprintf("MLM admin server v%s (build: %d)", AppVersion, buildTimestamp))

	if err := run(cfg, *selfSigned, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, selfSigned bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	hub := notify.NewHub()
	defer hub.Close()

	memberService := members.NewService(db, hub, cfg.MemberIDPrefix)
	if err := memberService.EnsureSeed(ctx, cfg.RootMemberID, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if cfg.AdminPassword == "" {
		logger.Warn("ADMIN_PASSWORD is not set, admin login is disabled unless an admin already exists")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	resolver := genealogy.NewResolver(
		genealogy.NewGormStore(db),
		genealogy.WithMaxDepth(cfg.TreeMaxDepth),
		genealogy.WithMetrics(genealogy.NewMetrics(registry)),
		genealogy.WithLogger(logger),
	)

	h := handlers.New(
		cfg,
		db,
		memberService,
		resolver,
		auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		hub,
	)

	router := setupRouter(h, cfg, registry, logger)

	return startServer(ctx, router, cfg, selfSigned, logger)
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), slogGinLogger(logger))

	router.Use(func(c *gin.Context) {
		origin := "*"
		if cfg.FrontendURI != "" {
			origin = cfg.FrontendURI
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	h.Routes(router)

	return router
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
