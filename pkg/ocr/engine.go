package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Line is a single recognized text line.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
}

// Result is the output of one engine run.
type Result struct {
	Engine   string        `json:"engine"`
	Text     string        `json:"text"`
	Lines    []Line        `json:"lines"`
	Duration time.Duration `json:"duration"`
}

// Empty reports whether the result carries no usable text.
func (r *Result) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// Engine recognizes text in an image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (*Result, error)
}

// Fallback tries engines in order and returns the first non-empty result.
type Fallback struct {
	engines []Engine
	log     *zap.Logger
}

// NewFallback builds a Fallback over engines. A nil logger is replaced by a no-op one.
func NewFallback(log *zap.Logger, engines ...Engine) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{engines: engines, log: log}
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.engines))
	for i, e := range f.engines {
		names[i] = e.Name()
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

func (f *Fallback) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	errs := []error{ErrNoText}
	for _, e := range f.engines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.Recognize(ctx, img)
		if err == nil && !res.Empty() {
			return res, nil
		}
		if err == nil {
			err = ErrNoText
		}
		f.log.Warn("ocr engine failed, trying next", zap.String("engine", e.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// TesseractConfig configures NewTesseract.
type TesseractConfig struct {
	Languages []string
	Logger    *zap.Logger
}
