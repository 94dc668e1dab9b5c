package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/rx"
)

type fakeAnalyzer map[string][]string // base name -> OCR lines; nil lines fail

func (f fakeAnalyzer) AnalyzeFile(_ context.Context, path string) (*analyzer.Report, error) {
	lines, ok := f[filepath.Base(path)]
	if !ok || lines == nil {
		return nil, errors.New("ocr: no text recognized")
	}
	now := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	ex := rx.NewExtractor(nil, rx.WithClock(func() time.Time { return now }))
	return &analyzer.Report{Engine: "fake", Prescription: ex.Extract(lines)}, nil
}

func fixtureDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
	return dir
}

func TestRunWritesSortedRowsAndErrors(t *testing.T) {
	dir := fixtureDir(t, "b.jpg", "a.PNG", "c.jpeg", "readme.md")
	az := fakeAnalyzer{
		"a.PNG": {"Diagnosis: Hypertension", "Tab Amlodipine 5mg OD", "Advice:", "Reduce salt", "Walk daily", "Review after 2 weeks"},
		"b.jpg": {"Tab Crocin 650mg SOS"},
	}
	rows, err := Run(context.Background(), az, dir, 3, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Row{
		Image:     "a.PNG",
		Diagnosis: "Hypertension",
		FollowUp:  "after 2 weeks (2025-05-15)",
		Advice:    "Reduce salt Walk daily",
		MedCount:  "1",
	}, rows[0])
	assert.Equal(t, "b.jpg", rows[1].Image)
	assert.Equal(t, "Fever", rows[1].Diagnosis)
	assert.Equal(t, "1", rows[1].MedCount)

	assert.Equal(t, "c.jpeg", rows[2].Image)
	assert.Equal(t, "ERROR", rows[2].Diagnosis)
	assert.Equal(t, "ERROR", rows[2].FollowUp)
	assert.Equal(t, "ERROR", rows[2].Advice)
	assert.Equal(t, "❌ ocr: no text recognized", rows[2].MedCount)
	assert.Equal(t, 1, Failures(rows))
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{Image: "a.png", Diagnosis: "Fever", FollowUp: "", Advice: "Drink water, rest", MedCount: "2"},
		ErrorRow("b.png", errors.New("bad")),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	want := strings.Join([]string{
		"Image,Diagnosis,Follow-Up,Advice,Med Count",
		`a.png,Fever,,"Drink water, rest",2`,
		"b.png,ERROR,ERROR,ERROR,❌ bad",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestSaveXLSX(t *testing.T) {
	rows := []Row{
		{Image: "a.png", Diagnosis: "Fever", Advice: "Rest", MedCount: "3"},
		ErrorRow("b.png", errors.New("bad")),
	}
	path := filepath.Join(t.TempDir(), "results.xlsx")
	require.NoError(t, Save(path, rows))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sh, ok := f.Sheet["Results"]
	require.True(t, ok)
	cell := func(r, c int) string {
		cl, err := sh.Cell(r, c)
		require.NoError(t, err)
		return cl.Value
	}
	assert.Equal(t, "Image", cell(0, 0))
	assert.Equal(t, "Med Count", cell(0, 4))
	assert.Equal(t, "a.png", cell(1, 0))
	assert.Equal(t, "3", cell(1, 4))
	assert.Equal(t, "ERROR", cell(2, 1))
	assert.Equal(t, "❌ bad", cell(2, 4))
}

func TestSaveCSVByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, Save(path, []Row{{Image: "x.png", MedCount: "0"}}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "Image,Diagnosis"))
}
