package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveAndRemove(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "events"))
	require.NoError(t, err)

	ref, err := store.Save(bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, URLPrefix))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	full := filepath.Join(store.Dir, strings.TrimPrefix(ref, URLPrefix))
	_, err = os.Stat(full)
	require.NoError(t, err)

	require.NoError(t, store.Remove(ref))
	_, err = os.Stat(full)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(ref), "missing file is ignored")
	assert.NoError(t, store.Remove(""), "no image")
}

func TestSaveRejects(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(strings.NewReader("%PDF-1.4 not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	big := append(pngBytes(t), bytes.Repeat([]byte{0}, MaxSize)...)
	_, err = store.Save(bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(store.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave nothing behind")
}

func TestRemoveRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, store.Remove("/uploads/events/../../etc/passwd"), ErrInvalidPath)
	assert.ErrorIs(t, store.Remove("/etc/passwd"), ErrInvalidPath)
}

func TestHandlerServesFilesOnly(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ref, err := store.Save(bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	store.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, ref, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	store.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, URLPrefix, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
