//go:build !cgo

package ocr

import (
	"context"
	"image"
)

// Tesseract is unavailable without cgo; Recognize always fails so a
// Fallback moves on to the next engine.
type Tesseract struct{}

func NewTesseract(cfg TesseractConfig) (*Tesseract, error) {
	return &Tesseract{}, nil
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	return nil, ErrEngineUnavailable
}
