package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/config"
)

// Prints the recognized lines of one image with their confidence and the
// extracted prescription as JSON.
func main() {
	path := flag.String("path", "", "image file to analyze")
	engines := flag.String("engines", "", "override OCR_ENGINES (e.g. tesseract or vision)")
	verbose := flag.Bool("v", false, "log engine progress")
	flag.Parse()
	if *path == "" {
		log.Fatalf("-path required")
	}

	cfg, err := config.LoadOCR("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *engines != "" {
		cfg.OCREngines = *engines
	}
	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	engine, err := analyzer.BuildEngine(cfg, logger)
	if err != nil {
		log.Fatalf("ocr: %v", err)
	}
	kb, err := analyzer.KnowledgeFromConfig(cfg)
	if err != nil {
		log.Fatalf("knowledge: %v", err)
	}
	az := analyzer.New(engine, kb, analyzer.Options{Logger: logger})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	rep, err := az.AnalyzeFile(ctx, *path)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}

	fmt.Printf("engine=%s took=%s\n", rep.Engine, rep.Duration.Round(time.Millisecond))
	for i, l := range rep.Lines {
		fmt.Printf("%3d  %5.1f%%  %s\n", i+1, l.Confidence*100, l.Text)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep.Prescription); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
