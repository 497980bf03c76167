package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/backyonatan-alt/sitewatch/internal/config"
)

// ErrObjectExists is returned when the key is already taken. Stored
// images are immutable.
var ErrObjectExists = errors.New("object already exists")

type objectClient interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader writes rendered images to a bucket and returns their public URL.
type Uploader struct {
	client  objectClient
	bucket  string
	baseURL string
}

func NewUploader(client objectClient, cfg config.ObjectStore) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Uploader{client: client, bucket: cfg.Bucket, baseURL: publicBase(cfg)}, nil
}

func (u *Uploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	_, err := u.client.StatObject(ctx, u.bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return "", fmt.Errorf("%w: %s/%s", ErrObjectExists, u.bucket, key)
	case minio.ToErrorResponse(err).StatusCode != http.StatusNotFound:
		return "", fmt.Errorf("stat %s: %w", key, err)
	}

	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	}
	if _, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	slog.Debug("image uploaded", "bucket", u.bucket, "key", key, "bytes", len(data))
	return u.URL(key), nil
}

// URL returns the public address of key.
func (u *Uploader) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return u.baseURL + "/" + strings.Join(parts, "/")
}

// publicBase is PublicURL when set, otherwise the path-style bucket URL on
// the endpoint.
func publicBase(cfg config.ObjectStore) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
}

func validateKey(key string) error {
	switch {
	case key == "":
		return errors.New("object key is required")
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("object key must be relative: %q", key)
	case strings.Contains(key, ".."):
		return fmt.Errorf("object key must not contain '..': %q", key)
	}
	return nil
}
