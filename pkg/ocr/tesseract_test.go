//go:build cgo

package ocr

import (
	"context"
	"errors"
	"image/color"
	"os/exec"
	"testing"

	"github.com/disintegration/imaging"
)

func TestTesseractBlankImage(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
	img := imaging.New(400, 200, color.NRGBA{255, 255, 255, 255})
	eng, err := NewTesseract(TesseractConfig{})
	if err != nil {
		t.Fatalf("new tesseract: %v", err)
	}
	_, er := eng.Recognize(context.Background(), img)
	if er == nil || !errors.Is(er, ErrNoText) {
		t.Fatalf("expected ErrNoText got %v", er)
	}
}
