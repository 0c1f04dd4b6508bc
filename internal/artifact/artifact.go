// Package artifact models candidate practice videos and the pure checks run on them.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gabriel-vasile/mimetype"
)

// Source records where a candidate came from.
type Source string

const (
	SourceRecorded Source = "recorded"
	SourceUploaded Source = "uploaded"
)

const fallbackMimeType = "application/octet-stream"

var extensionTypes = map[string]string{
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
}

var typeExtensions = map[string]string{
	"video/webm":       "webm",
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/x-msvideo":  "avi",
	"video/x-matroska": "mkv",
}

// Candidate is a video the user produced by recording or file selection.
// Bytes may be backed by a read-only file mapping; call Release when done.
type Candidate struct {
	Source        Source
	Bytes         []byte
	MimeType      string
	SizeBytes     int64
	SuggestedName string

	releaseOnce sync.Once
	release     func() error
	releaseErr  error
}

// NewRecorded wraps an in-memory recording.
func NewRecorded(payload []byte, mimeType string, suggestedName string) *Candidate {
	return &Candidate{
		Source:        SourceRecorded,
		Bytes:         payload,
		MimeType:      strings.TrimSpace(mimeType),
		SizeBytes:     int64(len(payload)),
		SuggestedName: suggestedName,
	}
}

// OpenFile maps path read-only and sniffs its media type from content.
func OpenFile(path string) (*Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	candidate := &Candidate{
		Source:        SourceUploaded,
		SizeBytes:     info.Size(),
		SuggestedName: filepath.Base(path),
	}
	if info.Size() == 0 {
		candidate.MimeType = typeFromExtension(path)
		return candidate, nil
	}

	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	data, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}

	candidate.Bytes = data
	candidate.release = func() error {
		return errors.Join(data.Unmap(), fd.Close())
	}
	candidate.MimeType = sniff(data, path)
	return candidate, nil
}

// Reader returns a fresh reader over the payload.
func (c *Candidate) Reader() io.Reader {
	return bytes.NewReader(c.Bytes)
}

// Extension returns the storage file extension without the dot. The name's
// extension is kept unless the sniffed type is a known video type it does
// not match.
func (c *Candidate) Extension() string {
	mediaType, _, err := mime.ParseMediaType(c.MimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(c.MimeType))
	}
	sniffed, known := typeExtensions[mediaType]

	named := strings.TrimPrefix(strings.ToLower(filepath.Ext(c.SuggestedName)), ".")
	if named != "" && (!known || extensionTypes["."+named] == mediaType) {
		return named
	}
	if known {
		return sniffed
	}
	return "bin"
}

// Release drops the payload and any file mapping behind it. Safe to call repeatedly.
func (c *Candidate) Release() error {
	if c == nil {
		return nil
	}
	c.releaseOnce.Do(func() {
		if c.release != nil {
			c.releaseErr = c.release()
		}
		c.Bytes = nil
	})
	return c.releaseErr
}

func sniff(data []byte, path string) string {
	detected := mimetype.Detect(data)
	if detected != nil && !detected.Is(fallbackMimeType) && !detected.Is("text/plain") {
		return detected.String()
	}
	return typeFromExtension(path)
}

func typeFromExtension(path string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return fallbackMimeType
}
