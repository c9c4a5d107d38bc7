// Package images stores uploaded event images on the local filesystem.
package images

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxSize is the largest accepted upload in bytes.
const MaxSize = 5 << 20

// URLPrefix is the public path images are served under and the prefix of
// every path stored on an event.
const URLPrefix = "/uploads/events/"

var (
	ErrTooLarge        = errors.New("image exceeds 5MB")
	ErrUnsupportedType = errors.New("only jpeg, png and gif images are allowed")
	ErrInvalidPath     = errors.New("invalid image path")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

type Store interface {
	Save(src io.Reader) (string, error)
	Remove(ref string) error
}

type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Save writes src under a random name and returns the path to store on the
// event. The content type is sniffed from the data, not trusted from the
// client.
func (s *FileStore) Save(src io.Reader) (string, error) {
	br := bufio.NewReaderSize(src, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("read image: %w", err)
	}

	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	name := uuid.NewString() + ext
	full := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(br, MaxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(full)
		return "", err
	}

	return URLPrefix + name, nil
}

// Remove deletes the file behind ref. A file that is already gone is not an
// error.
func (s *FileStore) Remove(ref string) error {
	if ref == "" {
		return nil
	}
	name := path.Base(ref)
	if !strings.HasPrefix(ref, URLPrefix) || name != strings.TrimPrefix(ref, URLPrefix) || name == "." || name == "/" {
		return ErrInvalidPath
	}

	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// Handler serves stored images read-only.
func (s *FileStore) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(noListing{http.Dir(s.Dir)}))
}

type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
