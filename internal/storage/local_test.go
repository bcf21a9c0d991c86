package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSourceServer(t *testing.T, status int, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLocalStorage_Store(t *testing.T) {
	body := []byte("fake mp4 bytes")
	srv := newSourceServer(t, http.StatusOK, "video/mp4", body)

	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://localhost:8080/assets")
	require.NoError(t, err)

	info, err := s.Store(context.Background(), srv.URL+"/out.mp4", "videos")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(info.URL, "http://localhost:8080/assets/videos/"))
	assert.True(t, strings.HasSuffix(info.Filename, ".mp4"))
	assert.Equal(t, "video/mp4", info.MimeType)
	assert.Equal(t, int64(len(body)), info.SizeBytes)

	// The file landed under baseDir/category.
	onDisk, err := os.ReadFile(filepath.Join(dir, "videos", info.Filename))
	require.NoError(t, err)
	assert.Equal(t, body, onDisk)
}

func TestLocalStorage_StoreSourceUnavailable(t *testing.T) {
	srv := newSourceServer(t, http.StatusNotFound, "text/plain", []byte("gone"))

	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/assets")
	require.NoError(t, err)

	_, err = s.Store(context.Background(), srv.URL+"/missing.mp4", "videos")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestLocalStorage_Delete(t *testing.T) {
	srv := newSourceServer(t, http.StatusOK, "video/mp4", []byte("bytes"))

	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://localhost:8080/assets")
	require.NoError(t, err)

	info, err := s.Store(context.Background(), srv.URL+"/out.mp4", "videos")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), info))

	_, err = os.Stat(filepath.Join(dir, "videos", info.Filename))
	assert.True(t, os.IsNotExist(err))

	// Deleting an already absent asset is not an error.
	assert.NoError(t, s.Delete(context.Background(), info))
}

func TestNewFilename(t *testing.T) {
	tests := []struct {
		mimeType string
		wantExt  string
	}{
		{"video/mp4", ".mp4"},
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"application/x-unknown-thing", ".bin"},
	}
	for _, tt := range tests {
		name := newFilename(tt.mimeType)
		if !strings.HasSuffix(name, tt.wantExt) {
			t.Errorf("newFilename(%q) = %q, want suffix %q", tt.mimeType, name, tt.wantExt)
		}
	}
}
