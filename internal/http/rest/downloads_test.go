package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/browser_downloader/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPage struct{}

func (stubPage) ID() string { return "page-1" }

type stubDirectory struct {
	downloads map[string]*download.Download
}

func (s *stubDirectory) Downloads() []*download.Download {
	out := make([]*download.Download, 0, len(s.downloads))
	for _, d := range s.downloads {
		out = append(out, d)
	}

	return out
}

func (s *stubDirectory) Download(id string) (*download.Download, bool) {
	d, ok := s.downloads[id]

	return d, ok
}

func newStubDirectory(t *testing.T, cancel download.CancelFunc) (*stubDirectory, *download.Download, string) {
	t.Helper()

	artifact := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("pdf bytes"), 0o644))

	d := download.New(download.Options{
		ID:                "dl-1",
		URL:               "https://example.com/report.pdf",
		SuggestedFilename: "report.pdf",
		ArtifactPath:      artifact,
		Owner:             stubPage{},
		LocalArtifacts:    true,
		Cancel:            cancel,
	})

	return &stubDirectory{downloads: map[string]*download.Download{"dl-1": d}}, d, artifact
}

func TestListDownloads(t *testing.T) {
	dir, d, artifact := newStubDirectory(t, nil)
	require.True(t, d.Resolve(download.StateCompleted, "", "", 9))

	h := NewDownloadsHandler("", "", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var views []downloadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	assert.Equal(t, "dl-1", views[0].ID)
	assert.Equal(t, string(download.StateCompleted), views[0].State)
	assert.Equal(t, artifact, views[0].ArtifactPath)
	assert.EqualValues(t, 9, views[0].Size)
}

func TestGetDownloadNotFound(t *testing.T) {
	dir, _, _ := newStubDirectory(t, nil)
	h := NewDownloadsHandler("", "", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDownloadHidesArtifactUntilCompleted(t *testing.T) {
	dir, _, _ := newStubDirectory(t, nil)
	h := NewDownloadsHandler("", "", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/dl-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var view downloadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))

	assert.Equal(t, string(download.StateInProgress), view.State)
	assert.Empty(t, view.ArtifactPath)
}

func TestCancelDownload(t *testing.T) {
	var canceled []string

	dir, _, _ := newStubDirectory(t, func(ctx context.Context, id string) error {
		canceled = append(canceled, id)

		return nil
	})
	h := NewDownloadsHandler("", "", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads/dl-1/cancel", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"dl-1"}, canceled)
}

func TestCancelDownloadBackendUnreachable(t *testing.T) {
	dir, _, _ := newStubDirectory(t, func(ctx context.Context, id string) error {
		return os.ErrDeadlineExceeded
	})
	h := NewDownloadsHandler("", "", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads/dl-1/cancel", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeleteArtifact(t *testing.T) {
	dir, d, artifact := newStubDirectory(t, nil)
	require.True(t, d.Resolve(download.StateCompleted, "", "", 9))

	h := NewDownloadsHandler("", "", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/downloads/dl-1/artifact", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := os.Stat(artifact)
	assert.True(t, os.IsNotExist(err))
}

func TestBasicAuth(t *testing.T) {
	dir, _, _ := newStubDirectory(t, nil)
	h := NewDownloadsHandler("admin", "hunter2", dir)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("admin", "wrong")

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("admin", "hunter2")

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
