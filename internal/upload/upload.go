// Package upload sends images to a hosting service and returns their public URL.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/webp"

	"keepto/internal/observability"
)

var (
	ErrInvalidImage = errors.New("upload: not a supported image")
	ErrTooLarge     = errors.New("upload: image too large")
	ErrDisabled     = errors.New("upload: image uploads are not configured")
)

// Image is one file to upload.
type Image struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Uploader hosts an image. It makes a single attempt; callers surface
// failures and skip the write that depended on the URL.
type Uploader interface {
	Upload(ctx context.Context, img Image) (string, error)
}

// UploadFile uploads a local file.
func UploadFile(ctx context.Context, u Uploader, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return u.Upload(ctx, Image{Name: filepath.Base(path), Body: f})
}

// Disabled rejects every upload.
type Disabled struct{}

func (Disabled) Upload(context.Context, Image) (string, error) {
	return "", ErrDisabled
}

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Validating checks size and format before handing the image to Next.
type Validating struct {
	Next     Uploader
	MaxBytes int64
	Backend  string
}

func (v Validating) Upload(ctx context.Context, img Image) (string, error) {
	url, err := v.upload(ctx, img)
	observability.UploadsTotal.WithLabelValues(v.Backend, observability.Outcome(err)).Inc()
	return url, err
}

func (v Validating) upload(ctx context.Context, img Image) (string, error) {
	if img.Body == nil {
		return "", ErrInvalidImage
	}
	body := img.Body
	if v.MaxBytes > 0 {
		body = io.LimitReader(img.Body, v.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if v.MaxBytes > 0 && int64(len(data)) > v.MaxBytes {
		return "", ErrTooLarge
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", ErrInvalidImage
	}
	ct, ok := contentTypes[format]
	if !ok {
		return "", ErrInvalidImage
	}
	if img.Name == "" {
		img.Name = "image." + format
	}
	img.ContentType = ct
	img.Body = bytes.NewReader(data)
	return v.Next.Upload(ctx, img)
}
