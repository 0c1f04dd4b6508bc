// Package storage places validated practice videos in a public object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUploadRejected     = errors.New("upload rejected by storage")
)

// DefaultCacheControl is the max-age, in seconds, sent with every object.
const DefaultCacheControl = "3600"

// Object is one write request against a bucket.
type Object struct {
	Path         string
	Body         io.Reader
	Size         int64
	ContentType  string
	CacheControl string
}

// ObjectInfo describes an object already in the bucket.
type ObjectInfo struct {
	Path      string    `json:"path" yaml:"path"`
	Size      int64     `json:"size" yaml:"size"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Bucket is the object-store surface the uploader needs.
// Put must fail with ErrUploadRejected rather than overwrite an existing path.
type Bucket interface {
	Put(ctx context.Context, obj Object) error
	PublicURL(path string) (string, error)
	Remove(ctx context.Context, paths ...string) error
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)
}

// Ref locates a stored artifact.
type Ref struct {
	PublicURL   string
	StoragePath string
}

// Uploader writes candidates under per-owner timestamped keys.
type Uploader struct {
	bucket       Bucket
	logger       *slog.Logger
	now          func() time.Time
	cacheControl string

	last atomic.Int64
}

func NewUploader(bucket Bucket, logger *slog.Logger) *Uploader {
	return &Uploader{
		bucket:       bucket,
		logger:       logger,
		now:          time.Now,
		cacheControl: DefaultCacheControl,
	}
}

// SetCacheControl overrides the max-age sent with new objects. Blank keeps
// the current value.
func (u *Uploader) SetCacheControl(seconds string) {
	if seconds = strings.TrimSpace(seconds); seconds != "" {
		u.cacheControl = seconds
	}
}

// Upload stores c at {ownerID}/{unixMillis}.{ext} and resolves its public URL.
func (u *Uploader) Upload(ctx context.Context, c *artifact.Candidate, ownerID string) (Ref, error) {
	if u == nil || u.bucket == nil {
		return Ref{}, fmt.Errorf("%w: no bucket configured", ErrStorageUnavailable)
	}
	ownerID = strings.Trim(strings.TrimSpace(ownerID), "/")
	if ownerID == "" {
		return Ref{}, fmt.Errorf("%w: owner id is empty", ErrUploadRejected)
	}
	if c == nil {
		return Ref{}, fmt.Errorf("%w: no video to upload", ErrUploadRejected)
	}

	key := u.key(ownerID, c.Extension())
	started := u.now()
	err := u.bucket.Put(ctx, Object{
		Path:         key,
		Body:         c.Reader(),
		Size:         c.SizeBytes,
		ContentType:  c.MimeType,
		CacheControl: u.cacheControl,
	})
	if err != nil {
		u.logWarn("storage upload failed", slog.String("storage_path", key), slog.Any("error", err))
		return Ref{}, classify(err)
	}

	publicURL, err := u.bucket.PublicURL(key)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: resolve public url: %v", ErrStorageUnavailable, err)
	}

	if u.logger != nil {
		u.logger.Info("storage upload complete",
			slog.String("storage_path", key),
			slog.Int64("size_bytes", c.SizeBytes),
			slog.Int64("upload_ms", u.now().Sub(started).Milliseconds()),
		)
	}
	return Ref{PublicURL: publicURL, StoragePath: key}, nil
}

// Remove deletes a stored object best-effort; failures are only logged.
func (u *Uploader) Remove(ctx context.Context, storagePath string) {
	if u == nil || u.bucket == nil || strings.TrimSpace(storagePath) == "" {
		return
	}
	if err := u.bucket.Remove(ctx, storagePath); err != nil {
		u.logWarn("storage cleanup failed", slog.String("storage_path", storagePath), slog.Any("error", err))
		return
	}
	if u.logger != nil {
		u.logger.Info("storage object removed", slog.String("storage_path", storagePath))
	}
}

// List returns the owner's stored videos, newest first when the bucket supports ordering.
func (u *Uploader) List(ctx context.Context, ownerID string, limit int) ([]ObjectInfo, error) {
	if u == nil || u.bucket == nil {
		return nil, fmt.Errorf("%w: no bucket configured", ErrStorageUnavailable)
	}
	return u.bucket.List(ctx, strings.Trim(strings.TrimSpace(ownerID), "/"), limit)
}

func (u *Uploader) key(ownerID string, ext string) string {
	return fmt.Sprintf("%s/%d.%s", ownerID, u.nextStamp(), ext)
}

// nextStamp returns wall-clock millis, bumped so keys never repeat within a process.
func (u *Uploader) nextStamp() int64 {
	for {
		last := u.last.Load()
		stamp := u.now().UnixMilli()
		if stamp <= last {
			stamp = last + 1
		}
		if u.last.CompareAndSwap(last, stamp) {
			return stamp
		}
	}
}

func (u *Uploader) logWarn(msg string, attrs ...any) {
	if u.logger != nil {
		u.logger.Warn(msg, attrs...)
	}
}

func classify(err error) error {
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrUploadRejected) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
