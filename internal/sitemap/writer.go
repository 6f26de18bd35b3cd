package sitemap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer publishes a generated file and returns where it landed.
type Writer interface {
	Write(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// DirWriter writes into a local directory, typically the static site's public root.
type DirWriter struct {
	dir string
}

func NewDirWriter(dir string) (*DirWriter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("sitemap: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sitemap: create output directory: %w", err)
	}
	return &DirWriter{dir: dir}, nil
}

// Write replaces the file atomically so a web server never serves a truncated sitemap.
func (w *DirWriter) Write(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name != filepath.Base(name) || name == "." || name == "" {
		return "", fmt.Errorf("sitemap: invalid file name %q", name)
	}
	target := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("sitemap: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sitemap: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("sitemap: close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("sitemap: replace %s: %w", name, err)
	}
	return target, nil
}

// Uploader is satisfied by storage.Uploader.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, body []byte) error
	ObjectPath(name string) (string, error)
	Location() string
}

// BucketWriter uploads to Cloud Storage so the CDN-fronted bucket serves the files.
type BucketWriter struct {
	uploader Uploader
}

func NewBucketWriter(uploader Uploader) (*BucketWriter, error) {
	if uploader == nil {
		return nil, errors.New("sitemap: uploader is required")
	}
	return &BucketWriter{uploader: uploader}, nil
}

func (w *BucketWriter) Write(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := w.uploader.Upload(ctx, name, contentType, data); err != nil {
		return "", err
	}
	object, err := w.uploader.ObjectPath(name)
	if err != nil {
		return "", err
	}
	bucket := strings.TrimPrefix(w.uploader.Location(), "gs://")
	if i := strings.Index(bucket, "/"); i >= 0 {
		bucket = bucket[:i]
	}
	return "gs://" + bucket + "/" + object, nil
}
