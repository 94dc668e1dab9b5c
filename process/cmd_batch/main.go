package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/config"
	"rxscan/process/batch"
)

// Runs extraction over a folder of test images and writes a results table.
func main() {
	dir := flag.String("dir", "test_images", "folder of .png/.jpg/.jpeg images")
	out := flag.String("out", "ocr_test_results.csv", "output file (.csv or .xlsx)")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	flag.Parse()

	cfg, err := config.LoadOCR("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	engine, err := analyzer.BuildEngine(cfg, logger)
	if err != nil {
		logger.Fatal("ocr", zap.Error(err))
	}
	kb, err := analyzer.KnowledgeFromConfig(cfg)
	if err != nil {
		logger.Fatal("knowledge", zap.Error(err))
	}
	az := analyzer.New(engine, kb, analyzer.Options{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rows, err := batch.Run(ctx, az, *dir, *workers, logger)
	if err != nil {
		logger.Fatal("batch", zap.Error(err))
	}
	if err := batch.Save(*out, rows); err != nil {
		logger.Fatal("save", zap.Error(err))
	}
	fmt.Printf("test completed: %d images, %d errors, results saved in %s\n", len(rows), batch.Failures(rows), *out)
}
