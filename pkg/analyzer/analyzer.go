// Package analyzer runs the image -> OCR -> extraction pipeline.
package analyzer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"rxscan/pkg/cache"
	"rxscan/pkg/metrics"
	"rxscan/pkg/ocr"
	"rxscan/pkg/rx"
)

// ErrUnsupportedImage is returned when the bytes cannot be decoded as an image.
var ErrUnsupportedImage = errors.New("unsupported image")

// Report is the result of analyzing one image.
type Report struct {
	ImageHash    string           `json:"image_hash"`
	Engine       string           `json:"engine"`
	Text         string           `json:"text"`
	Lines        []ocr.Line       `json:"lines"`
	Prescription *rx.Prescription `json:"prescription"`
	Duration     time.Duration    `json:"duration"`
	Cached       bool             `json:"cached"`
}

// Options tunes an Analyzer. Zero values pick defaults.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
	// MaxSide caps the longest image edge before OCR; larger photos are
	// downscaled. Zero means 4000.
	MaxSide int
}

type Analyzer struct {
	engine  ocr.Engine
	kb      *rx.Knowledge
	cache   cache.Cache
	ttl     time.Duration
	m       *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	maxSide int
}

// New builds an Analyzer. A nil kb uses the embedded knowledge base.
func New(engine ocr.Engine, kb *rx.Knowledge, opts Options) *Analyzer {
	a := &Analyzer{
		engine:  engine,
		kb:      kb,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		m:       opts.Metrics,
		log:     opts.Logger,
		now:     opts.Now,
		maxSide: opts.MaxSide,
	}
	if a.kb == nil {
		a.kb = rx.DefaultKnowledge()
	}
	if a.cache == nil {
		a.cache = cache.Nop{}
	}
	if a.m == nil {
		a.m = metrics.New(nil)
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.maxSide <= 0 {
		a.maxSide = 4000
	}
	return a
}

// EngineName reports the configured OCR engine.
func (a *Analyzer) EngineName() string { return a.engine.Name() }

// Analyze recognizes and extracts a prescription from encoded image bytes.
// OCR output is cached by content hash; extraction always reruns so relative
// follow-up dates are anchored at the time of this call.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (*Report, error) {
	return a.analyze(ctx, data, true)
}

// Reanalyze is Analyze without reading the cache. The fresh OCR result
// replaces any cached one.
func (a *Analyzer) Reanalyze(ctx context.Context, data []byte) (*Report, error) {
	return a.analyze(ctx, data, false)
}

// AnalyzeFile reads path and analyzes its contents.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return a.Analyze(ctx, data)
}

func (a *Analyzer) analyze(ctx context.Context, data []byte, useCache bool) (*Report, error) {
	start := time.Now()
	hash := HashBytes(data)
	log := a.log.With(zap.String("hash", hash[:12]))

	var res *ocr.Result
	cached := false
	if useCache {
		res = a.cachedResult(ctx, hash, log)
		cached = res != nil
	}
	if res == nil {
		img, err := decode(data)
		if err != nil {
			a.m.AnalysesTotal.WithLabelValues(metrics.OutcomeBadImage).Inc()
			return nil, err
		}
		img = a.limit(img)
		res, err = a.engine.Recognize(ctx, img)
		if err != nil {
			a.m.AnalysesTotal.WithLabelValues(metrics.OutcomeOCRError).Inc()
			log.Warn("ocr failed", zap.String("engine", a.engine.Name()), zap.Error(err))
			return nil, fmt.Errorf("ocr: %w", err)
		}
		a.m.EngineUsed.WithLabelValues(res.Engine).Inc()
		a.storeResult(ctx, hash, res, log)
	}

	lines := make([]string, 0, len(res.Lines))
	for _, l := range res.Lines {
		lines = append(lines, l.Text)
	}
	if len(lines) == 0 {
		lines = ocr.SplitLines(res.Text)
	}
	p := rx.NewExtractor(a.kb, rx.WithClock(a.now)).Extract(lines)

	rep := &Report{
		ImageHash:    hash,
		Engine:       res.Engine,
		Text:         res.Text,
		Lines:        res.Lines,
		Prescription: p,
		Duration:     time.Since(start),
		Cached:       cached,
	}
	outcome := metrics.OutcomeOK
	if cached {
		outcome = metrics.OutcomeCached
	}
	a.m.AnalysesTotal.WithLabelValues(outcome).Inc()
	a.m.AnalysisDuration.Observe(rep.Duration.Seconds())
	a.m.MedicinesFound.Observe(float64(len(p.Medicines)))
	log.Info("analyzed",
		zap.String("engine", rep.Engine),
		zap.Bool("cached", cached),
		zap.Int("lines", len(lines)),
		zap.Int("medicines", len(p.Medicines)),
		zap.String("diagnosis", p.Diagnosis),
		zap.Duration("took", rep.Duration))
	return rep, nil
}

func (a *Analyzer) cachedResult(ctx context.Context, hash string, log *zap.Logger) *ocr.Result {
	b, ok, err := a.cache.Get(ctx, hash)
	if err != nil {
		log.Warn("cache get failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var res ocr.Result
	if err := json.Unmarshal(b, &res); err != nil {
		log.Warn("cache entry corrupt", zap.Error(err))
		return nil
	}
	return &res
}

func (a *Analyzer) storeResult(ctx context.Context, hash string, res *ocr.Result, log *zap.Logger) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, hash, b, a.ttl); err != nil {
		log.Warn("cache set failed", zap.Error(err))
	}
}

func (a *Analyzer) limit(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= a.maxSide && b.Dy() <= a.maxSide {
		return img
	}
	return imaging.Fit(img, a.maxSide, a.maxSide, imaging.Lanczos)
}

// decode reads JPEG/PNG (and the other formats imaging registers),
// applying the EXIF orientation tag.
func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrUnsupportedImage)
	}
	return img, nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
