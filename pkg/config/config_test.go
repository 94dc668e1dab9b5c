package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("APP_ENV", "development")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "rxscan.db", cfg.DBDSN)
	assert.Equal(t, DevSecret, cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, []string{"tesseract", "vision"}, cfg.Engines())
	assert.Equal(t, []string{"eng"}, cfg.Languages())
	assert.True(t, cfg.DBAutoMigrate)
}

func TestLoadFilesAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DB_DRIVER=sqlite\nDB_DSN=file.db\nJWT_SECRET=from-dotenv\nHTTP_ADDR=:9000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rxscan.yaml"),
		[]byte("ocr_engines: vision\ncache_ttl: 2h\nocr_lang: eng+hin\n"), 0o644))
	t.Setenv("HTTP_ADDR", ":7000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, "file.db", cfg.DBDSN)
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
	assert.Equal(t, []string{"vision"}, cfg.Engines())
	assert.Equal(t, 2*time.Hour, cfg.CacheTTL)
	assert.Equal(t, []string{"eng", "hin"}, cfg.Languages())
}

func TestLoadRejectsBadSettings(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "DB_DSN")

	t.Setenv("DB_DRIVER", "mysql")
	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "unsupported DB_DRIVER")

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadOCRNeedsNoDatabase(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "DB_DSN", "JWT_SECRET", "APP_ENV"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorContains(t, err, "DB_DSN")

	cfg, err := LoadOCR(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Empty(t, cfg.DBDSN)
	assert.Equal(t, []string{"tesseract", "vision"}, cfg.Engines())

	t.Setenv("OCR_ENGINES", " , ")
	_, err = LoadOCR(dir)
	assert.ErrorContains(t, err, "OCR_ENGINES")
}
