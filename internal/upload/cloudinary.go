package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

const cloudinaryBase = "https://api.cloudinary.com/v1_1"

// Cloudinary performs unsigned uploads with an upload preset.
type Cloudinary struct {
	CloudName    string
	UploadPreset string
	BaseURL      string
	HTTP         *http.Client
}

// NewCloudinary returns an uploader for the given cloud and preset.
func NewCloudinary(cloudName, preset string) *Cloudinary {
	return &Cloudinary{
		CloudName:    cloudName,
		UploadPreset: preset,
		BaseURL:      cloudinaryBase,
		HTTP:         &http.Client{Timeout: 60 * time.Second},
	}
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Cloudinary) Upload(ctx context.Context, img Image) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, img.Name))
	if img.ContentType != "" {
		header.Set("Content-Type", img.ContentType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, img.Body); err != nil {
		return "", fmt.Errorf("buffer image: %w", err)
	}
	if err := w.WriteField("upload_preset", c.UploadPreset); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/%s/image/upload", c.BaseURL, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	defer resp.Body.Close()

	var out cloudinaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode cloudinary response (status %d): %w", resp.StatusCode, err)
	}
	if out.SecureURL != "" {
		return out.SecureURL, nil
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", errors.New(out.Error.Message)
	}
	return "", errors.New("Upload failed")
}
