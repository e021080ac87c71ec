package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Source is anything blob-like the converter can read: a known length, a
// declared media type and a way to get at the bytes.
type Source interface {
	Size() int64
	Type() string
	Open() (io.ReadCloser, error)
}

// Blob is an immutable in-memory payload tagged with a media type.
type Blob struct {
	data     []byte
	mimeType string
}

// NewBlob copies data so later writes by the caller don't leak in.
func NewBlob(data []byte, mimeType string) *Blob {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Blob{data: buf, mimeType: mimeType}
}

func (b *Blob) Size() int64 {
	return int64(len(b.data))
}

func (b *Blob) Type() string {
	return b.mimeType
}

// Bytes returns a copy of the payload.
func (b *Blob) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Blob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// WriteTo streams the payload without copying it.
func (b *Blob) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}

// FileBlob is a Source backed by a file on disk. The file is read lazily on
// Open, so a file that disappears after OpenFile surfaces as a read failure.
type FileBlob struct {
	path     string
	size     int64
	mimeType string
}

func OpenFile(path string) (*FileBlob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("input path %s is a directory", path)
	}

	mimeType := mimeTypeForPath(path)
	if mimeType == "" {
		mimeType, err = sniffFile(path)
		if err != nil {
			return nil, err
		}
	}

	return &FileBlob{path: path, size: info.Size(), mimeType: mimeType}, nil
}

func (f *FileBlob) Size() int64 {
	return f.size
}

func (f *FileBlob) Type() string {
	return f.mimeType
}

func (f *FileBlob) Path() string {
	return f.path
}

func (f *FileBlob) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func mimeTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	if format, ok := formatForExtension(ext); ok {
		return MimeType(format)
	}
	if t := mime.TypeByExtension(ext); t != "" {
		base, _, err := mime.ParseMediaType(t)
		if err == nil {
			return base
		}
	}
	return ""
}

func sniffFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input file %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read input file %s: %w", path, err)
	}
	return SniffType(head[:n]), nil
}

// SniffType guesses a media type from leading bytes. Empty input yields "".
func SniffType(head []byte) string {
	if len(head) == 0 {
		return ""
	}
	t := http.DetectContentType(head)
	base, _, err := mime.ParseMediaType(t)
	if err != nil {
		return t
	}
	return base
}
