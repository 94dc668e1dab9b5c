package analyzer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxscan/pkg/cache"
	"rxscan/pkg/ocr"
)

type fakeEngine struct {
	text  string
	err   error
	calls int
	size  image.Rectangle
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) (*ocr.Result, error) {
	f.calls++
	f.size = img.Bounds()
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Engine: "fake", Text: f.text}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{255, 255, 255, 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

const sampleText = `Diagnosis: Acidity
Tab Pan 40mg OD before breakfast x 14 days
Follow up after 2 weeks`

func TestAnalyzeExtractsAndCaches(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	eng := &fakeEngine{text: sampleText}
	a := New(eng, nil, Options{Cache: cache.NewMemory(), CacheTTL: time.Hour, Now: func() time.Time { return now }})
	data := pngBytes(t, 20, 20)

	rep, err := a.Analyze(context.Background(), data)
	require.NoError(t, err)
	assert.False(t, rep.Cached)
	assert.Equal(t, "fake", rep.Engine)
	assert.Equal(t, HashBytes(data), rep.ImageHash)
	require.Len(t, rep.Prescription.Medicines, 1)
	assert.Equal(t, "Pantoprazole", rep.Prescription.Medicines[0].Generic)
	assert.Equal(t, "14 days", rep.Prescription.Medicines[0].Duration)
	assert.Equal(t, "Acidity", rep.Prescription.Diagnosis)
	require.NotNil(t, rep.Prescription.FollowUpDate)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), *rep.Prescription.FollowUpDate)

	now = now.Add(24 * time.Hour)
	rep2, err := a.Analyze(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, rep2.Cached)
	assert.Equal(t, 1, eng.calls)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), *rep2.Prescription.FollowUpDate,
		"relative dates anchor at analysis time even when OCR is cached")

	_, err = a.Reanalyze(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 2, eng.calls)
}

func TestAnalyzeRejectsNonImage(t *testing.T) {
	a := New(&fakeEngine{text: "x"}, nil, Options{})
	_, err := a.Analyze(context.Background(), []byte("definitely not a png"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = a.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestAnalyzeWrapsEngineError(t *testing.T) {
	a := New(&fakeEngine{err: ocr.ErrNoText}, nil, Options{})
	_, err := a.Analyze(context.Background(), pngBytes(t, 10, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ocr.ErrNoText))
	assert.False(t, errors.Is(err, ErrUnsupportedImage))
}

func TestAnalyzeEmptyExtractionIsNotAnError(t *testing.T) {
	a := New(&fakeEngine{text: "illegible scribble"}, nil, Options{})
	rep, err := a.Analyze(context.Background(), pngBytes(t, 10, 10))
	require.NoError(t, err)
	assert.Empty(t, rep.Prescription.Medicines)
	assert.Equal(t, []string{"illegible scribble"}, rep.Prescription.Unclassified)
}

func TestAnalyzeDownscalesLargeImages(t *testing.T) {
	eng := &fakeEngine{text: "Tab Crocin 500mg"}
	a := New(eng, nil, Options{MaxSide: 50})
	_, err := a.Analyze(context.Background(), pngBytes(t, 200, 100))
	require.NoError(t, err)
	assert.Equal(t, 50, eng.size.Dx())
	assert.Equal(t, 25, eng.size.Dy())
}
