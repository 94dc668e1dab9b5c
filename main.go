package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/cache"
	"rxscan/pkg/config"
	"rxscan/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	cfg       *config.Config
	logger    *zap.Logger
	jwtSecret []byte
	az        *analyzer.Analyzer
	mtr       *metrics.Metrics
	memCache  *cache.Memory // nil when Redis backs the cache
)

func main() {
	var err error
	cfg, err = config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	jwtSecret = []byte(cfg.JWTSecret)

	// Support a lightweight migrate command: `./rxscan migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.DBAutoMigrate = true
		if err := initDB(); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		fmt.Println("migration and seeding completed")
		return
	}

	if err := initDB(); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr = metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, closeCache := openCache(ctx)
	defer closeCache()

	if err := initAnalyzer(c); err != nil {
		logger.Fatal("failed to initialize analyzer", zap.Error(err))
	}
	analyzeLimiter = newIPLimiter(cfg.AnalyzeRPS, cfg.AnalyzeBurst)

	sched, err := startScheduler()
	if err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("engine", az.EngineName()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openCache connects to REDIS_URL when set and falls back to the in-process
// cache when it is unset or unreachable.
func openCache(ctx context.Context) (cache.Cache, func()) {
	if cfg.RedisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		r, err := cache.DialRedis(dialCtx, cfg.RedisURL)
		if err == nil {
			logger.Info("using redis cache")
			return r, func() { _ = r.Close() }
		}
		logger.Warn("redis unavailable, using memory cache", zap.Error(err))
	}
	memCache = cache.NewMemory()
	return memCache, func() {}
}

func initAnalyzer(c cache.Cache) error {
	engine, err := analyzer.BuildEngine(cfg, logger)
	if err != nil {
		return err
	}
	kb, err := analyzer.KnowledgeFromConfig(cfg)
	if err != nil {
		return err
	}
	az = analyzer.New(engine, kb, analyzer.Options{
		Cache:    c,
		CacheTTL: cfg.CacheTTL,
		Metrics:  mtr,
		Logger:   logger,
	})
	return nil
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = maxUploadSize
	if err := loadTemplates(r); err != nil {
		logger.Fatal("failed to parse templates", zap.Error(err))
	}
	setupRoutes(r)
	return r
}
