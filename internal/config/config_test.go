package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendRelational, cfg.Storage.Backend)
	assert.Equal(t, "sqlite", cfg.Relational.Driver)
	assert.Equal(t, int64(16*1024*1024), cfg.Uploads.MaxBytes)
	assert.Equal(t, []string{"jpg", "jpeg", "png", "bmp", "gif"}, cfg.Uploads.AllowedExtensions)
	assert.Equal(t, 224, cfg.Model.InputSize)
	assert.Equal(t, []string{"REAL", "DEEPFAKE"}, cfg.Model.Labels)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Positive(t, cfg.Model.Workers)
	assert.Error(t, cfg.RequireSecret())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DFD_STORAGE_BACKEND", "Document")
	t.Setenv("DFD_DOCUMENT_DATABASE", "detections_test")
	t.Setenv("DFD_MODEL_TIMEOUT", "5s")
	t.Setenv("DFD_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, BackendDocument, cfg.Storage.Backend)
	assert.Equal(t, "detections_test", cfg.Document.Database)
	assert.Equal(t, 5*time.Second, cfg.Model.Timeout)
	assert.NoError(t, cfg.RequireSecret())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
relational:
  driver: postgres
  dsn: host=localhost user=app dbname=detections
uploads:
  allowed_extensions: [".PNG", "jpg"]
model:
  runtime: tflite
  layout: nhwc
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Relational.Driver)
	assert.Equal(t, []string{"png", "jpg"}, cfg.Uploads.AllowedExtensions)
	assert.Equal(t, RuntimeTFLite, cfg.Model.Runtime)
	assert.Equal(t, "NHWC", cfg.Model.Layout)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("DFD_STORAGE_BACKEND", "cassandra")
	t.Setenv("DFD_MODEL_RUNTIME", "torch")

	_, err := Load(NewViper(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "model.runtime")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownLabels(t *testing.T) {
	for name, labels := range map[string]string{
		"unknown names": "[real, fake]",
		"repeated":      "[REAL, REAL]",
		"three classes": "[REAL, DEEPFAKE, UNSURE]",
	} {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model:\n  labels: "+labels+"\n"), 0o600), name)

		_, err := Load(NewViper(), path)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "model.labels", name)
	}
}

func TestLoadAcceptsSwappedLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  labels: [DEEPFAKE, REAL]\n"), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"DEEPFAKE", "REAL"}, cfg.Model.Labels)
}

func TestLoadRejectsNonPositiveMaxPixels(t *testing.T) {
	t.Setenv("DFD_MODEL_MAX_PIXELS", "0")

	_, err := Load(NewViper(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.max_pixels")
}
