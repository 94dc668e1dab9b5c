package main

import (
	"fmt"
	"os"
	"path/filepath"

	"rxscan/pkg/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var db *gorm.DB

// initDB opens the configured database, migrates when DB_AUTO_MIGRATE is on
// and seeds roles plus the default administrator.
func initDB() error {
	var err error
	db, err = database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if cfg.DBAutoMigrate {
		// permission errors on single tables are logged and ignored
		if err := database.Migrate(db, logger); err != nil {
			logger.Warn("migration finished with errors", zap.Error(err))
		}
	}
	if err := database.Seed(db, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return ensureUploadBase()
}

func uploadBaseDir() string {
	if cfg == nil || cfg.UploadBase == "" {
		return "uploads"
	}
	return cfg.UploadBase
}

func ensureUploadBase() error {
	base := uploadBaseDir()
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("create upload base %s: %w", base, err)
	}
	abs, _ := filepath.Abs(base)
	logger.Info("upload base ready", zap.String("path", abs))
	return nil
}
