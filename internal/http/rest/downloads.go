package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/browser_downloader/internal/download"
	"github.com/italolelis/browser_downloader/internal/logctx"
)

// DownloadDirectory is the read/control surface the handler needs from
// the session.
type DownloadDirectory interface {
	Downloads() []*download.Download
	Download(id string) (*download.Download, bool)
}

// DownloadsHandler exposes the tracked downloads over HTTP for operators:
// listing, inspection, cancellation and artifact deletion.
type DownloadsHandler struct {
	username  string
	password  string
	directory DownloadDirectory
}

func NewDownloadsHandler(username, password string, directory DownloadDirectory) *DownloadsHandler {
	return &DownloadsHandler{
		username:  username,
		password:  password,
		directory: directory,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Get("/downloads", h.ListDownloads)
	r.Get("/downloads/{downloadID}", h.GetDownload)
	r.Post("/downloads/{downloadID}/cancel", h.CancelDownload)
	r.Delete("/downloads/{downloadID}/artifact", h.DeleteArtifact)

	return r
}

type downloadView struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	SuggestedFilename string `json:"suggestedFilename"`
	State             string `json:"state"`
	Failure           string `json:"failure,omitempty"`
	ArtifactPath      string `json:"artifactPath,omitempty"`
	Size              int64  `json:"size,omitempty"`
}

func newDownloadView(status download.Status) downloadView {
	view := downloadView{
		ID:                status.ID,
		URL:               status.URL,
		SuggestedFilename: status.SuggestedFilename,
		State:             string(status.State),
	}

	switch status.State {
	case download.StateCompleted:
		view.ArtifactPath = status.ArtifactPath
		view.Size = status.Size
	case download.StateFailed, download.StateCanceled:
		view.Failure = status.Reason
	}

	return view
}

func (h *DownloadsHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	downloads := h.directory.Downloads()

	views := make([]downloadView, 0, len(downloads))
	for _, d := range downloads {
		views = append(views, newDownloadView(d.Snapshot()))
	}

	writeJSON(w, r, http.StatusOK, views)
}

func (h *DownloadsHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	d, ok := h.directory.Download(chi.URLParam(r, "downloadID"))
	if !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	writeJSON(w, r, http.StatusOK, newDownloadView(d.Snapshot()))
}

// CancelDownload requests cancellation. The response only acknowledges
// the request; the state flips when the backend confirms on the event
// stream. Canceling an already finished download is accepted and does
// nothing.
func (h *DownloadsHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	d, ok := h.directory.Download(chi.URLParam(r, "downloadID"))
	if !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	if err := d.Cancel(r.Context()); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to cancel download", "download_id", d.ID(), "err", err)
		http.Error(w, "backend unreachable", http.StatusBadGateway)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *DownloadsHandler) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	d, ok := h.directory.Download(chi.URLParam(r, "downloadID"))
	if !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	if err := d.Delete(r.Context()); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to delete artifact", "download_id", d.ID(), "err", err)

		var transportErr *download.TransportError
		if errors.As(err, &transportErr) {
			http.Error(w, "backend unreachable", http.StatusBadGateway)

			return
		}

		http.Error(w, "failed to delete artifact", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Auth is optional; without configured credentials the API is open.
		if h.username != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != h.username || pass != h.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="browser_downloader"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)

				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
