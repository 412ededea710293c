package filestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	return fs
}

func TestSaveAndDelete(t *testing.T) {
	fs := newTestStore(t)
	key := uuid.NewString() + ".png"

	size, err := fs.Save(bytes.NewReader([]byte("pixels")), key, 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	got, err := os.ReadFile(fs.Path(key))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(got))
	assert.NoFileExists(t, fs.Path(key)+".tmp")

	n, err := fs.Size(key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	require.NoError(t, fs.Delete(key))
	assert.False(t, fs.Exists(key))
	assert.NoError(t, fs.Delete(key), "deleting a missing file is not an error")
}

func TestSaveRejectsOversizedPayload(t *testing.T) {
	fs := newTestStore(t)
	key := uuid.NewString() + ".jpg"

	_, err := fs.Save(bytes.NewReader(make([]byte, 11)), key, 10)
	assert.True(t, errors.Is(err, ErrTooLarge))

	entries, err := os.ReadDir(fs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = fs.Save(bytes.NewReader(make([]byte, 10)), key, 10)
	assert.NoError(t, err, "payload exactly at the limit is accepted")
}

func TestKeysCannotEscapeDir(t *testing.T) {
	fs := newTestStore(t)
	for _, key := range []string{"", "..", "../x.png", "a/b.png", `a\b.png`} {
		_, err := fs.Save(bytes.NewReader([]byte("x")), key, 0)
		assert.Error(t, err, key)
		assert.Error(t, fs.Delete(key), key)
	}
}

func TestSecureFilename(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":               "photo.jpg",
		"../../etc/passwd":        "passwd",
		`C:\Users\me\My Face.PNG`: "My_Face.PNG",
		"  weird name!!.jpeg ":    "weird_name.jpeg",
		"...":                     "",
		"ünïcødé.png":             "ncd.png",
	}
	for in, want := range tests {
		assert.Equal(t, want, SecureFilename(in), in)
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "png", Extension("Face.PNG"))
	assert.Equal(t, "jpeg", Extension("dir/x.y.jpeg"))
	assert.Equal(t, "", Extension("noext"))
	assert.Equal(t, "txt", Extension("notes.txt"))
	assert.Equal(t, "png", Extension("日本語.png"), "non-ASCII stems keep their extension")
	assert.Equal(t, "gif", Extension(`C:\photos\cat.GIF`))
}
