package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// DefaultCacheControl keeps crawlers from holding stale sitemaps for long.
const DefaultCacheControl = "public, max-age=3600"

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

type objectWriter interface {
	io.Writer
	Close() error
}

type writerFactory func(ctx context.Context, bucket, object string, attrs gcs.ObjectAttrs) objectWriter

// Uploader writes generated static files into a Cloud Storage bucket.
type Uploader struct {
	bucket    string
	prefix    string
	newWriter writerFactory
}

// UploaderOption customises uploader behaviour.
type UploaderOption func(*Uploader)

// WithPrefix places every object under prefix inside the bucket.
func WithPrefix(prefix string) UploaderOption {
	return func(u *Uploader) {
		u.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

func NewUploader(client *gcs.Client, bucket string, opts ...UploaderOption) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	u := &Uploader{
		bucket: bucket,
		newWriter: func(ctx context.Context, bucket, object string, attrs gcs.ObjectAttrs) objectWriter {
			w := client.Bucket(bucket).Object(object).NewWriter(ctx)
			w.ContentType = attrs.ContentType
			w.CacheControl = attrs.CacheControl
			return w
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// ObjectPath joins the configured prefix with name. Names may not escape the prefix.
func (u *Uploader) ObjectPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errInvalidObject
	}
	cleaned := path.Clean("/" + name)
	if cleaned == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("storage: invalid object name %q", name)
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if u.prefix == "" {
		return cleaned, nil
	}
	return u.prefix + "/" + cleaned, nil
}

// Upload replaces the object at name with body. GCS object writes are atomic: readers see the
// old or the new content, never a partial object.
func (u *Uploader) Upload(ctx context.Context, name, contentType string, body []byte) error {
	if u == nil || u.newWriter == nil {
		return errors.New("storage uploader: not initialised")
	}
	object, err := u.ObjectPath(name)
	if err != nil {
		return err
	}

	w := u.newWriter(ctx, u.bucket, object, gcs.ObjectAttrs{
		ContentType:  contentType,
		CacheControl: DefaultCacheControl,
	})
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write gs://%s/%s: %w", u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// Location describes where uploads land, for logs.
func (u *Uploader) Location() string {
	if u.prefix == "" {
		return "gs://" + u.bucket
	}
	return "gs://" + u.bucket + "/" + u.prefix
}
