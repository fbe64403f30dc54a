package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Uploader pushes evidence photos to the platform's object storage. Losing
// an upload never blocks a trip: callers report the failure and move on.
type Uploader struct {
	baseURL string
	bucket  string
	apiKey  string
	http    *http.Client
}

func NewUploader(baseURL, bucket, apiKey string, timeout time.Duration) *Uploader {
	return &Uploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Upload stores the photo under evidence/{tripID}/{uuid}.{ext} and returns
// the object key and its public URL.
func (u *Uploader) Upload(ctx context.Context, tripID string, photo []byte, contentType string) (string, string, error) {
	key := fmt.Sprintf("evidence/%s/%s%s", tripID, uuid.NewString(), extensionFor(contentType))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/object/"+u.bucket+"/"+key, bytes.NewReader(photo))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", contentType)
	if u.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", fmt.Errorf("storage upload: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return key, u.PublicURL(key), nil
}

func (u *Uploader) PublicURL(key string) string {
	return u.baseURL + "/object/public/" + u.bucket + "/" + key
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
