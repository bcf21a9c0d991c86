package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage persists assets on local disk and serves them from a
// public base URL. Suitable for development and single-node
// deployments; production uses S3Storage.
type LocalStorage struct {
	baseDir string
	baseURL string
	dl      downloader
}

// NewLocalStorage creates a LocalStorage rooted at baseDir. Stored
// assets are addressed as baseURL/<category>/<filename>. The directory
// is created if it doesn't exist.
func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "catwalk")
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		dl:      newDownloader(),
	}, nil
}

// BaseDir returns the storage root.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// Store downloads the source and persists it under baseDir/category.
func (s *LocalStorage) Store(ctx context.Context, sourceURL, category string) (AssetInfo, error) {
	src, mimeType, err := s.dl.fetch(ctx, sourceURL)
	if err != nil {
		return AssetInfo{}, err
	}
	defer func() {
		_ = src.Close()
		_ = os.Remove(src.Name())
	}()

	dir := filepath.Join(s.baseDir, category)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return AssetInfo{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	filename := newFilename(mimeType)
	destPath := filepath.Join(dir, filename)
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640) // #nosec G304 - path is constructed internally
	if err != nil {
		return AssetInfo{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	size, err := io.Copy(dest, src)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return AssetInfo{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	return AssetInfo{
		URL:       fmt.Sprintf("%s/%s/%s", s.baseURL, category, filename),
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: size,
	}, nil
}

// Delete removes a stored asset from disk.
func (s *LocalStorage) Delete(_ context.Context, info AssetInfo) error {
	// The public URL ends with <category>/<filename>; map it back under
	// the storage root.
	rel := strings.TrimPrefix(info.URL, s.baseURL+"/")
	path := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stored asset: %w", err)
	}
	return nil
}
