// Package ingest loads a folder of prescription photos into a patient's
// records, optionally watching it for new files.
package ingest

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rxscan/models"
	"rxscan/pkg/analyzer"
	"rxscan/pkg/database"
	"rxscan/pkg/records"
)

// Outcome of processing one file.
type Outcome int

const (
	Created Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Analyzer is the part of analyzer.Analyzer the ingester needs.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (*analyzer.Report, error)
}

// Options configures an Ingester. Dir and UploadBase are required.
type Options struct {
	Dir string
	// ProcessedDir receives files after a successful import; defaults to
	// <Dir>/processed.
	ProcessedDir string
	UploadBase   string
	Workers      int
	// MaxArchiveBytes triggers downscaling of archived files above it.
	// Zero means 1 MB.
	MaxArchiveBytes int64
	Logger          *zap.Logger
}

// Stats counts outcomes of a scan.
type Stats struct {
	Created, Skipped, Failed int
}

func (s *Stats) add(o Outcome) {
	switch o {
	case Created:
		s.Created++
	case Skipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// preload cache of the profile's uploads keyed by content hash
type preloadState struct {
	byHash map[string]*models.Upload
	done   map[uint]bool // upload id -> has prescription
	mu     sync.RWMutex
}

func (ps *preloadState) get(hash string) (*models.Upload, bool, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	u, ok := ps.byHash[hash]
	if !ok {
		return nil, false, false
	}
	return u, true, ps.done[u.ID]
}

func (ps *preloadState) put(u *models.Upload, done bool) {
	ps.mu.Lock()
	ps.byHash[u.ImageHash] = u
	ps.done[u.ID] = done
	ps.mu.Unlock()
}

// Ingester imports images for one profile.
type Ingester struct {
	db      *gorm.DB
	az      Analyzer
	profile models.Profile
	opts    Options
	log     *zap.Logger
	state   *preloadState
	// inflight guards against a hash being processed by two workers at once
	inflight sync.Map
}

// New builds an Ingester and preloads the profile's existing uploads to
// minimize per-file queries.
func New(db *gorm.DB, az Analyzer, profile models.Profile, opts Options) (*Ingester, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = filepath.Join(opts.Dir, "processed")
	}
	if opts.MaxArchiveBytes <= 0 {
		opts.MaxArchiveBytes = 1_000_000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	in := &Ingester{db: db, az: az, profile: profile, opts: opts, log: opts.Logger}
	if err := in.preload(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Ingester) preload() error {
	ps := &preloadState{byHash: map[string]*models.Upload{}, done: map[uint]bool{}}
	var ups []models.Upload
	if err := in.db.Where("profile_id = ? AND image_hash <> ''", in.profile.ID).Find(&ups).Error; err != nil {
		return err
	}
	var linked []uint
	if err := in.db.Model(&models.Prescription{}).Where("profile_id = ?", in.profile.ID).Pluck("upload_id", &linked).Error; err != nil {
		return err
	}
	for i := range ups {
		u := ups[i]
		ps.byHash[u.ImageHash] = &u
	}
	for _, id := range linked {
		ps.done[id] = true
	}
	in.state = ps
	in.log.Info("preloaded", zap.Int("uploads", len(ups)), zap.Int("prescriptions", len(linked)))
	return nil
}

// ListImages returns the supported image files directly inside dir, sorted.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !records.SupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Scan processes every image currently in the directory.
func (in *Ingester) Scan(ctx context.Context) (Stats, error) {
	files, err := ListImages(in.opts.Dir)
	if err != nil {
		return Stats{}, err
	}
	in.log.Info("scanning", zap.String("dir", in.opts.Dir), zap.Int("files", len(files)), zap.Int("workers", in.opts.Workers))
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, f := range files {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return in.runWorkerPool(ctx, ch), ctx.Err()
}

// runWorkerPool drains names with the configured number of workers.
func (in *Ingester) runWorkerPool(ctx context.Context, names <-chan string) Stats {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats Stats
	)
	for i := 0; i < in.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range names {
				o := in.ProcessFile(ctx, name)
				mu.Lock()
				stats.add(o)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return stats
}

// Watch processes files created in the directory until ctx is done. Events
// are debounced so files still being written are picked up once stable.
func (in *Ingester) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.opts.Dir); err != nil {
		return err
	}
	in.log.Info("watching (debounced)", zap.String("dir", in.opts.Dir))

	fileCh := make(chan string, 256)
	go func() {
		defer close(fileCh)
		pending := map[string]time.Time{}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				if records.SupportedExt(name) {
					pending[name] = time.Now()
				}
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) > 300*time.Millisecond { // stable
						select {
						case fileCh <- name:
						case <-ctx.Done():
							return
						}
						delete(pending, name)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				in.log.Warn("watch error", zap.Error(err))
			}
		}
	}()

	stats := in.runWorkerPool(ctx, fileCh)
	in.log.Info("watch stopped", zap.Int("created", stats.Created), zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return nil
}

// ProcessFile imports one file: store a copy, create the upload, analyze and
// save the prescription, then archive the original. Content already imported
// for the profile is skipped.
func (in *Ingester) ProcessFile(ctx context.Context, name string) Outcome {
	log := in.log.With(zap.String("file", name))
	src := filepath.Join(in.opts.Dir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("read failed", zap.Error(err))
			return Failed
		}
		return Skipped // moved away by an earlier event
	}
	hash := analyzer.HashBytes(data)
	if _, busy := in.inflight.LoadOrStore(hash, true); busy {
		log.Debug("skip, same content in progress")
		return Skipped
	}
	defer in.inflight.Delete(hash)

	up, exists, done := in.state.get(hash)
	if done {
		log.Debug("skip, already ingested")
		return Skipped
	}
	if !exists {
		rel := records.NewStorePath(in.profile.ID, name)
		if err := records.WriteFile(in.opts.UploadBase, rel, data); err != nil {
			log.Error("store failed", zap.Error(err))
			return Failed
		}
		up = &models.Upload{
			FileName:    name,
			StorePath:   rel,
			ProfileID:   in.profile.ID,
			ImageHash:   hash,
			ContentType: records.MimeFromExt(name),
			Size:        int64(len(data)),
		}
		if err := in.db.Omit("Profile").Create(up).Error; err != nil {
			if !database.IsUniqueConstraintError(err) {
				log.Error("create upload failed", zap.Error(err))
				return Failed
			}
			if err := in.db.Where("profile_id = ? AND image_hash = ?", in.profile.ID, hash).First(up).Error; err != nil {
				log.Warn("fetch after race failed", zap.Error(err))
				return Failed
			}
		}
		in.state.put(up, false)
		log.Info("new upload", zap.Uint("upload_id", up.ID))
	}

	rep, err := in.az.Analyze(ctx, data)
	if err != nil {
		log.Warn("analysis failed", zap.Error(err))
		_ = records.MarkFailed(in.db, up, err)
		return Failed
	}
	p, err := records.Create(in.db, in.profile.ID, up.ID, rep)
	if err != nil {
		log.Error("save prescription failed", zap.Error(err))
		return Failed
	}
	_ = records.ClearFailed(in.db, up)
	in.state.put(up, true)
	log.Info("prescription created",
		zap.Uint("id", p.ID),
		zap.Int("medicines", len(p.Medicines)),
		zap.String("diagnosis", p.Diagnosis))

	if err := moveToProcessed(src, filepath.Join(in.opts.ProcessedDir, name), in.opts.MaxArchiveBytes); err != nil {
		log.Warn("failed to move processed file", zap.Error(err))
	}
	return Created
}

// moveToProcessed moves src to dst, downscaling images larger than maxBytes.
// It attempts an atomic rename and falls back to copy+remove when necessary.
func moveToProcessed(src, dst string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.Size() <= maxBytes {
		return move(src, dst)
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil { // fallback to raw move if cannot decode
		return move(src, dst)
	}
	// size roughly scales with area
	scale := math.Sqrt(float64(maxBytes) / float64(fi.Size()))
	scale = math.Max(0.1, math.Min(scale, 0.95))
	w := int(math.Max(1, math.Round(float64(img.Bounds().Dx())*scale)))
	img = imaging.Resize(img, w, 0, imaging.Lanczos)
	if err := imaging.Save(img, dst, imaging.JPEGQuality(85)); err != nil {
		return move(src, dst)
	}
	return os.Remove(src)
}

func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
