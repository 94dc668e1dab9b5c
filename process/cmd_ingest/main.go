package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/cache"
	"rxscan/pkg/config"
	"rxscan/pkg/database"
	"rxscan/process/ingest"
)

// Scans a directory of prescription photos and imports them for a profile,
// with an optional watch mode.
func main() {
	dirFlag := flag.String("dir", "inbox", "directory to scan for prescription images")
	profileID := flag.Uint("profile-id", 0, "Profile ID to assign uploads to (if omitted attempts admin profile)")
	processed := flag.String("processed", "", "directory for imported files (default <dir>/processed)")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	verbose := flag.Bool("verbose", false, "Verbose per-file logging")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zc := zap.NewDevelopmentConfig()
	if !*verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	profile, err := database.ResolveProfile(db, *profileID)
	if err != nil {
		logger.Fatal("profile", zap.Error(err))
	}

	engine, err := analyzer.BuildEngine(cfg, logger)
	if err != nil {
		logger.Fatal("ocr", zap.Error(err))
	}
	kb, err := analyzer.KnowledgeFromConfig(cfg)
	if err != nil {
		logger.Fatal("knowledge", zap.Error(err))
	}
	az := analyzer.New(engine, kb, analyzer.Options{Cache: cache.NewMemory(), CacheTTL: cfg.CacheTTL, Logger: logger})

	in, err := ingest.New(db, az, profile, ingest.Options{
		Dir:          *dirFlag,
		ProcessedDir: *processed,
		UploadBase:   cfg.UploadBase,
		Workers:      *workers,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("preload", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stats, err := in.Scan(ctx)
	if err != nil {
		logger.Fatal("scan", zap.Error(err))
	}
	logger.Info("scan done", zap.Int("created", stats.Created), zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))

	if *watch {
		if err := in.Watch(ctx); err != nil {
			logger.Fatal("watch failed", zap.Error(err))
		}
	}
}
