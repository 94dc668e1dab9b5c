package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"rxscan/pkg/config"
	"rxscan/pkg/database"
	"rxscan/process/sanitize"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "Don't perform destructive actions; show what would be done")
	yes := flag.Bool("yes", false, "Confirm destructive action (required to actually truncate)")
	reseed := flag.Bool("reseed", false, "After truncation, reseed master roles and admin user/profile")
	tables := flag.String("tables", strings.Join(sanitize.DefaultTables, ","), "Comma-separated list of tables to truncate")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	_, err = sanitize.Run(db, sanitize.Options{
		Tables: strings.Split(*tables, ","),
		DryRun: *dryRun,
		Yes:    *yes,
		Reseed: *reseed,
		Logger: logger,
	}, os.Stdout)
	if err != nil {
		logger.Fatal("sanitize", zap.Error(err))
	}
}
