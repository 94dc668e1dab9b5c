package analyzer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rxscan/pkg/config"
	"rxscan/pkg/ocr"
	"rxscan/pkg/rx"
)

// BuildEngine assembles the OCR engines named in cfg (in order) behind a
// Fallback. Engines that cannot be configured are skipped with a warning;
// it is an error only when none remain.
func BuildEngine(cfg *config.Config, log *zap.Logger) (ocr.Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var engines []ocr.Engine
	for _, name := range cfg.Engines() {
		var (
			e   ocr.Engine
			err error
		)
		switch name {
		case "tesseract":
			e, err = ocr.NewTesseract(ocr.TesseractConfig{Languages: cfg.Languages(), Logger: log})
		case "vision":
			e, err = ocr.NewVision(ocr.VisionConfig{
				APIKey:  cfg.OpenAIKey,
				BaseURL: cfg.OpenAIBaseURL,
				Model:   cfg.VisionModel,
				Logger:  log,
			})
		default:
			err = fmt.Errorf("unknown engine %q", name)
		}
		if err != nil {
			log.Warn("ocr engine skipped", zap.String("engine", name), zap.Error(err))
			continue
		}
		engines = append(engines, e)
	}
	if len(engines) == 0 {
		return nil, errors.New("no OCR engine available; check OCR_ENGINES")
	}
	return ocr.NewFallback(log, engines...), nil
}

// KnowledgeFromConfig loads KNOWLEDGE_FILE when set, else the embedded base.
func KnowledgeFromConfig(cfg *config.Config) (*rx.Knowledge, error) {
	if cfg.KnowledgeFile == "" {
		return rx.DefaultKnowledge(), nil
	}
	return rx.LoadKnowledge(cfg.KnowledgeFile)
}
