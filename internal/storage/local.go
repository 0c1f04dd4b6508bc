package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBucket stores objects below a directory. Used for offline practice
// and as a stand-in store in development.
type LocalBucket struct {
	root       string
	publicBase string
}

// NewLocalBucket serves files under root; publicBase, when set, prefixes public URLs.
func NewLocalBucket(root string, publicBase string) *LocalBucket {
	return &LocalBucket{
		root:       filepath.Clean(root),
		publicBase: strings.TrimRight(strings.TrimSpace(publicBase), "/"),
	}
}

func (b *LocalBucket) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	target, err := b.resolve(obj.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, filepath.Dir(target), err)
	}

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s already exists", ErrUploadRejected, obj.Path)
		}
		return fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}

	if _, err := io.Copy(file, obj.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, obj.Path, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("%w: close %s: %v", ErrStorageUnavailable, obj.Path, err)
	}
	return nil
}

func (b *LocalBucket) PublicURL(path string) (string, error) {
	target, err := b.resolve(path)
	if err != nil {
		return "", err
	}
	if b.publicBase != "" {
		return b.publicBase + "/" + escapePath(path), nil
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (b *LocalBucket) Remove(_ context.Context, paths ...string) error {
	var errs []error
	for _, path := range paths {
		target, err := b.resolve(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *LocalBucket) List(_ context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	dir, err := b.resolve(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	out := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, ObjectInfo{
			Path:      joinKey(prefix, entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *LocalBucket) resolve(path string) (string, error) {
	if b.root == "" || b.root == "." {
		return "", fmt.Errorf("%w: local storage root not configured", ErrStorageUnavailable)
	}
	clean := filepath.Clean("/" + strings.TrimSpace(path))
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: invalid object path %q", ErrUploadRejected, path)
	}
	return filepath.Join(b.root, clean), nil
}
