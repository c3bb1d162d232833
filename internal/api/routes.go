package api

import (
	"fmt"
	"net/http"
	"strings"
)

// StreamByID dispatches /stream/{videoId} and /stream/{videoId}/resolutions.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/stream/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	videoID := parts[0]

	switch {
	case len(parts) == 1:
		h.Stream(w, r, videoID)
	case len(parts) == 2 && parts[1] == "resolutions":
		h.Resolutions(w, r, videoID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stream resource"))
	}
}

// VideoByID dispatches /videos/{videoId} and /videos/{videoId}/reprocess.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/videos/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	videoID := parts[0]

	switch {
	case len(parts) == 1:
		h.videoDetail(w, r, videoID)
	case len(parts) == 2 && parts[1] == "reprocess":
		h.Reprocess(w, r, videoID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown video resource"))
	}
}

// ThumbnailByID dispatches /thumbnails/{videoId}.
func (h *Handler) ThumbnailByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/thumbnails/")
	if len(parts) != 1 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	h.Thumbnail(w, r, parts[0])
}

func (h *Handler) videoDetail(w http.ResponseWriter, r *http.Request, videoID string) {
	switch r.Method {
	case http.MethodGet:
		video, ok := h.store.GetVideo(videoID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeJSON(w, http.StatusOK, newVideoResponse(video))
	case http.MethodDelete:
		if !h.authorizeUpload(w, r) {
			return
		}
		if err := h.store.DeleteVideo(videoID); err != nil {
			writeMappedError(w, err)
			return
		}
		if err := h.cache.InvalidatePrefix(r.Context(), "videos:"); err != nil {
			h.logger.Warn("failed to invalidate listing cache", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

func splitPath(path, prefix string) []string {
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
