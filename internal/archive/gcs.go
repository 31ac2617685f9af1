package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSConfig captures the parameters required to write archives to GCS.
type GCSConfig struct {
	Bucket string
	// Prefix is prepended to every object path, e.g. "sitemaps".
	Prefix string
}

// GCSArchiver writes documents to a configured GCS bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS-backed archiver.
func NewGCS(client *storage.Client, cfg GCSConfig) (*GCSArchiver, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads data to the configured bucket and returns a gs:// URI.
func (a *GCSArchiver) Put(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := path
	if a.prefix != "" {
		object = a.prefix + "/" + strings.TrimLeft(path, "/")
	}
	writer := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}
