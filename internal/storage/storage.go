// Package storage provides the asset storage collaborator: vendor-hosted
// outputs are short-lived, so the worker downloads each produced video
// and persists it durably (local disk or S3) before a job may complete.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Static errors for storage operations.
var (
	// ErrStoreFailed wraps any persistence failure. A generated but
	// unstored video is not a success; callers finalize the job FAILED.
	ErrStoreFailed = errors.New("storage: store failed")
	// ErrSourceUnavailable is returned when the vendor-hosted source
	// cannot be downloaded.
	ErrSourceUnavailable = errors.New("storage: source download failed")
)

// AssetInfo describes a durably stored asset.
type AssetInfo struct {
	URL       string
	Filename  string
	MimeType  string
	SizeBytes int64
}

// Storage is the asset persistence port.
type Storage interface {
	// Store downloads the source URL and persists it under the given
	// category ("videos", "images", ...), returning the durable asset.
	Store(ctx context.Context, sourceURL, category string) (AssetInfo, error)

	// Delete removes a previously stored asset. Used to discard output
	// that lost a late cancellation race; best effort.
	Delete(ctx context.Context, info AssetInfo) error
}

// downloader fetches vendor-hosted files. Shared by both backends.
type downloader struct {
	client *http.Client
}

func newDownloader() downloader {
	return downloader{client: &http.Client{Timeout: 2 * time.Minute}}
}

// fetch downloads the source into a temp file and returns it together
// with the detected mime type. The caller removes the file.
func (d downloader) fetch(ctx context.Context, sourceURL string) (*os.File, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "catwalk_download_*")
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, "", fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return f, contentType, nil
}

// newFilename builds a unique filename with an extension derived from
// the mime type.
func newFilename(mimeType string) string {
	ext := ".bin"
	switch mimeType {
	case "video/mp4":
		ext = ".mp4"
	case "image/png":
		ext = ".png"
	case "image/jpeg":
		ext = ".jpg"
	default:
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return uuid.NewString() + ext
}
