package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rxscan/models"
	"rxscan/pkg/analyzer"
	"rxscan/pkg/database"
	"rxscan/pkg/rx"
)

type fakeAnalyzer struct {
	err   error
	calls int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, data []byte) (*analyzer.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	lines := []string{"Tab Crocin 650mg 1-0-1", "Tab Pan 40mg OD before breakfast"}
	return &analyzer.Report{
		ImageHash:    analyzer.HashBytes(data),
		Engine:       "fake",
		Prescription: rx.NewExtractor(nil).Extract(lines),
	}, nil
}

func setup(t *testing.T) (*gorm.DB, models.Profile) {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, database.Migrate(db, zap.NewNop()))
	user, err := database.CreateUser(db, "patient", "secret1", models.RoleUser, "Patient")
	require.NoError(t, err)
	var p models.Profile
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&p).Error)
	return db, p
}

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestScanImportsAndSkipsDuplicates(t *testing.T) {
	db, profile := setup(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 10)
	writePNG(t, filepath.Join(dir, "b.JPG"), 20)
	writePNG(t, filepath.Join(dir, "c.png"), 10) // same bytes as a.png
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	fa := &fakeAnalyzer{}
	in, err := New(db, fa, profile, Options{Dir: dir, UploadBase: t.TempDir(), Workers: 1})
	require.NoError(t, err)
	stats, err := in.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 2, Skipped: 1}, stats)
	assert.Equal(t, 2, fa.calls)

	var count int64
	db.Model(&models.Prescription{}).Where("profile_id = ?", profile.ID).Count(&count)
	assert.EqualValues(t, 2, count)
	db.Model(&models.PrescriptionMedicine{}).Count(&count)
	assert.EqualValues(t, 4, count)

	assert.FileExists(t, filepath.Join(dir, "processed", "a.png"))
	assert.FileExists(t, filepath.Join(dir, "processed", "b.JPG"))
	assert.NoFileExists(t, filepath.Join(dir, "a.png"))
	assert.FileExists(t, filepath.Join(dir, "c.png"), "duplicates stay in place")
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	// a fresh ingester sees the previous imports through preload
	in2, err := New(db, fa, profile, Options{Dir: dir, UploadBase: t.TempDir(), Workers: 2})
	require.NoError(t, err)
	stats, err = in2.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
	assert.Equal(t, 2, fa.calls)
}

func TestProcessFileFailureMarksUpload(t *testing.T) {
	db, profile := setup(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "bad.png"), 30)

	fa := &fakeAnalyzer{err: errors.New("ocr: no text recognized")}
	in, err := New(db, fa, profile, Options{Dir: dir, UploadBase: t.TempDir(), Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, Failed, in.ProcessFile(context.Background(), "bad.png"))
	assert.FileExists(t, filepath.Join(dir, "bad.png"))

	var up models.Upload
	require.NoError(t, db.Where("file_name = ?", "bad.png").First(&up).Error)
	assert.True(t, up.Failed)
	assert.Contains(t, up.FailedReason, "no text")

	// the retry reuses the upload row
	fa.err = nil
	assert.Equal(t, Created, in.ProcessFile(context.Background(), "bad.png"))
	var uploads int64
	db.Model(&models.Upload{}).Count(&uploads)
	assert.EqualValues(t, 1, uploads)
	require.NoError(t, db.First(&up, up.ID).Error)
	assert.False(t, up.Failed)

	assert.Equal(t, Skipped, in.ProcessFile(context.Background(), "missing.png"))
}

func TestWatchImportsNewFiles(t *testing.T) {
	db, profile := setup(t)
	dir := t.TempDir()
	in, err := New(db, &fakeAnalyzer{}, profile, Options{Dir: dir, UploadBase: t.TempDir(), Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Watch(ctx) }()
	// let the watcher register the directory
	time.Sleep(200 * time.Millisecond)

	writePNG(t, filepath.Join(dir, "new.png"), 40)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	processed := filepath.Join(dir, "processed", "new.png")
	require.Eventually(t, func() bool {
		_, err := os.Stat(processed)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	var count int64
	db.Model(&models.Prescription{}).Where("profile_id = ?", profile.ID).Count(&count)
	assert.EqualValues(t, 1, count)
	assert.NoFileExists(t, filepath.Join(dir, "new.png"))
	assert.FileExists(t, filepath.Join(dir, "ignored.txt"))
}

func TestMoveToProcessedDownscalesLargeImages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.png")
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	rnd := rand.New(rand.NewSource(1))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.NRGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), 255})
		}
	}
	require.NoError(t, imaging.Save(img, src))
	fi, err := os.Stat(src)
	require.NoError(t, err)

	dst := filepath.Join(dir, "out", "big.png")
	require.NoError(t, moveToProcessed(src, dst, fi.Size()/4))
	assert.NoFileExists(t, src)
	out, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Less(t, out.Bounds().Dx(), 200)
	assert.InDelta(t, 2.0, float64(out.Bounds().Dx())/float64(out.Bounds().Dy()), 0.1)

	small := filepath.Join(dir, "small.png")
	writePNG(t, small, 1)
	require.NoError(t, moveToProcessed(small, filepath.Join(dir, "out", "small.png"), 1<<20))
	assert.FileExists(t, filepath.Join(dir, "out", "small.png"))
}
