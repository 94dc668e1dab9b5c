//go:build cgo

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

type tesseractPass struct {
	name string
	prep *PreprocessOptions // nil means the image as given
	psm  gosseract.PageSegMode
}

// Tesseract runs several preprocessing/segmentation passes through
// libtesseract and keeps the most confident one.
type Tesseract struct {
	languages []string
	passes    []tesseractPass
	log       *zap.Logger
}

// NewTesseract returns the multi-pass Tesseract engine.
func NewTesseract(cfg TesseractConfig) (*Tesseract, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	base := DefaultPreprocess()
	adaptive := DefaultPreprocess()
	adaptive.Threshold = ThresholdAdaptive
	adaptive.Dilate = 1
	return &Tesseract{
		languages: cfg.Languages,
		passes: []tesseractPass{
			{name: "clean", prep: &base, psm: gosseract.PSM_AUTO},
			{name: "adaptive", prep: &adaptive, psm: gosseract.PSM_AUTO},
			{name: "raw-block", psm: gosseract.PSM_SINGLE_BLOCK},
			{name: "sparse", prep: &base, psm: gosseract.PSM_SPARSE_TEXT},
		},
		log: cfg.Logger,
	}, nil
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	start := time.Now()
	var (
		best      []Line
		bestScore float64
		bestPass  string
		lastErr   error
	)
	for _, p := range t.passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := t.runPass(img, p)
		if err != nil {
			lastErr = err
			t.log.Debug("tesseract pass failed", zap.String("pass", p.name), zap.Error(err))
			continue
		}
		score := scoreLines(lines)
		t.log.Debug("tesseract pass", zap.String("pass", p.name), zap.Int("lines", len(lines)), zap.Float64("score", score))
		if score > bestScore {
			best, bestScore, bestPass = lines, score, p.name
		}
	}
	if len(best) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoText, lastErr)
		}
		return nil, ErrNoText
	}
	texts := make([]string, len(best))
	for i, l := range best {
		texts[i] = l.Text
	}
	res := &Result{Engine: t.Name(), Text: strings.Join(texts, "\n"), Lines: best, Duration: time.Since(start)}
	t.log.Info("tesseract done", zap.String("pass", bestPass), zap.Int("lines", len(best)), zap.String("snippet", snippet(res.Text, 120)))
	return res, nil
}

func (t *Tesseract) runPass(img image.Image, p tesseractPass) ([]Line, error) {
	src := img
	if p.prep != nil {
		prepped, err := Preprocess(img, *p.prep)
		if err != nil {
			return nil, err
		}
		src = prepped
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode pass image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(p.psm); err != nil {
		return nil, fmt.Errorf("set psm: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("bounding boxes: %w", err)
	}
	var lines []Line
	for _, b := range boxes {
		txt := normalizeLine(b.Word)
		if txt == "" {
			continue
		}
		lines = append(lines, Line{Text: txt, Confidence: b.Confidence / 100})
	}
	return lines, nil
}
