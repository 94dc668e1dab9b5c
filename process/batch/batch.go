// Package batch runs analysis over a folder of images and writes a results
// table, one row per image.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tealeg/xlsx/v3"
	"go.uber.org/zap"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/records"
)

// Header is the column order of every output format.
var Header = []string{"Image", "Diagnosis", "Follow-Up", "Advice", "Med Count"}

// Row is one results table line.
type Row struct {
	Image     string
	Diagnosis string
	FollowUp  string
	Advice    string
	MedCount  string
	Err       error
}

func (r Row) cells() []string {
	return []string{r.Image, r.Diagnosis, r.FollowUp, r.Advice, r.MedCount}
}

// Analyzer is the part of analyzer.Analyzer the batch runner needs.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string) (*analyzer.Report, error)
}

// FromReport turns a successful analysis into a row. Advice newlines are
// flattened to spaces.
func FromReport(name string, rep *analyzer.Report) Row {
	p := rep.Prescription
	follow := p.FollowUp
	if p.FollowUpDate != nil {
		follow = strings.TrimSpace(follow + " (" + p.FollowUpDate.Format("2006-01-02") + ")")
	}
	return Row{
		Image:     name,
		Diagnosis: p.Diagnosis,
		FollowUp:  follow,
		Advice:    strings.Join(strings.Fields(p.AdviceText()), " "),
		MedCount:  strconv.Itoa(len(p.Medicines)),
	}
}

// ErrorRow records a failed image without aborting the run.
func ErrorRow(name string, err error) Row {
	return Row{Image: name, Diagnosis: "ERROR", FollowUp: "ERROR", Advice: "ERROR", MedCount: "❌ " + err.Error(), Err: err}
}

// ListImages returns .png/.jpg/.jpeg files in dir (case-insensitive), sorted.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && records.SupportedExt(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Run analyzes every image in dir with workers goroutines and returns the
// rows sorted by file name.
func Run(ctx context.Context, az Analyzer, dir string, workers int, log *zap.Logger) ([]Row, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	files, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(files))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				name := files[i]
				rep, err := az.AnalyzeFile(ctx, filepath.Join(dir, name))
				if err != nil {
					log.Warn("analysis failed", zap.String("file", name), zap.Error(err))
					rows[i] = ErrorRow(name, err)
					continue
				}
				rows[i] = FromReport(name, rep)
				log.Debug("analyzed", zap.String("file", name), zap.String("medicines", rows[i].MedCount))
			}
		}()
	}
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteCSV writes the header and rows as CSV.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.cells()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the header and rows into a single "Results" sheet.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Results")
	if err != nil {
		return err
	}
	head := sh.AddRow()
	for _, h := range Header {
		head.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sh.AddRow()
		for i, v := range r.cells() {
			c := row.AddCell()
			if n, err := strconv.Atoi(v); err == nil && i == len(Header)-1 {
				c.SetInt(n)
				continue
			}
			c.SetString(v)
		}
	}
	return f.Write(w)
}

// Save writes rows to path, as XLSX when it ends in .xlsx and CSV otherwise.
func Save(path string, rows []Row) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		err = WriteXLSX(out, rows)
	} else {
		err = WriteCSV(out, rows)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Failures counts error rows.
func Failures(rows []Row) int {
	n := 0
	for _, r := range rows {
		if r.Err != nil {
			n++
		}
	}
	return n
}
