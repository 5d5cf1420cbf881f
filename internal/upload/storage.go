package upload

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Storage writes images to a Cloud Storage bucket and returns a Firebase
// download URL authorised by a per-object token.
type Storage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewStorage opens a Cloud Storage client.
func NewStorage(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("open cloud storage: %w", err)
	}
	if prefix == "" {
		prefix = "uploads"
	}
	return &Storage{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Upload(ctx context.Context, img Image) (string, error) {
	name := path.Join(s.prefix, time.Now().UTC().Format("2006/01/02"), uuid.NewString()+path.Ext(img.Name))
	token := uuid.NewString()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = img.ContentType
	w.Metadata = map[string]string{"firebaseStorageDownloadTokens": token}
	if _, err := io.Copy(w, img.Body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}
	return DownloadURL(s.bucket, name, token), nil
}

// DownloadURL builds the token-authorised Firebase Storage URL of an object.
func DownloadURL(bucket, object, token string) string {
	return fmt.Sprintf(
		"https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket,
		url.PathEscape(object),
		url.QueryEscape(token),
	)
}
