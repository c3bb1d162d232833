package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidvault/internal/models"
)

// Stream resolves a playable copy for the video and either redirects to the
// provider's embed page or proxies the bytes from the private channel.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	if _, ok := h.store.GetVideo(videoID); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}

	resolution := strings.TrimSpace(r.URL.Query().Get("resolution"))
	if resolution == "" {
		resolution = models.ResolutionOriginal
	}
	provider := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider")))

	if source, ok := h.resolveSource(videoID, provider, resolution); ok {
		h.serveSource(w, r, source)
		return
	}

	// Last resort: the raw original parked in the private channel.
	if artifact, ok := h.store.GetChannelArtifact(videoID); ok && (provider == "" || provider == "channel") {
		h.serveArtifact(w, r, artifact)
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("no playable copy of video %s", videoID))
}

// resolveSource walks the fallback chain: the exact resolution, then the
// original, then any channel copy regardless of resolution.
func (h *Handler) resolveSource(videoID, provider, resolution string) (models.SourceRecord, bool) {
	candidates := h.candidateProviders(provider)
	for _, name := range candidates {
		if source, ok := h.store.FindSource(videoID, name, resolution); ok {
			return source, true
		}
	}
	if resolution != models.ResolutionOriginal {
		for _, name := range candidates {
			if source, ok := h.store.FindSource(videoID, name, models.ResolutionOriginal); ok {
				return source, true
			}
		}
	}
	if provider == "" || provider == "channel" {
		sources, err := h.store.ListSources(videoID)
		if err == nil {
			for _, source := range sources {
				if source.Provider == "channel" {
					return source, true
				}
			}
		}
	}
	return models.SourceRecord{}, false
}

func (h *Handler) candidateProviders(provider string) []string {
	if provider != "" {
		return []string{provider}
	}
	return h.store.EnabledProviders()
}

func (h *Handler) serveSource(w http.ResponseWriter, r *http.Request, source models.SourceRecord) {
	if source.Provider != "channel" && source.EmbedURL != "" {
		http.Redirect(w, r, source.EmbedURL, http.StatusFound)
		return
	}
	if h.relay == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel relay unavailable"))
		return
	}

	// The persistent session streams files of any size; the signed URL only
	// serves small ones, so the message locator wins whenever one exists.
	fileID := source.FileID
	if artifact, ok := h.store.GetChannelArtifact(source.VideoID); ok {
		if fileID == "" {
			fileID = artifact.FileID
		}
		if artifact.MessageID != 0 {
			body, size, err := h.relay.Download(r.Context(), artifact.MessageID)
			if err == nil {
				h.proxyStream(w, body, size)
				return
			}
			h.logger.Warn("channel download failed", "video_id", source.VideoID, "message_id", artifact.MessageID, "error", err)
		}
	}

	if fileID != "" {
		signedURL, err := h.signedURLFor(r.Context(), fileID)
		if err == nil {
			body, size, err := h.relay.Fetch(r.Context(), signedURL)
			if err == nil {
				h.proxyStream(w, body, size)
				return
			}
			h.logger.Warn("signed url fetch failed", "video_id", source.VideoID, "error", err)
		} else {
			h.logger.Warn("signed url lookup failed", "video_id", source.VideoID, "error", err)
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("channel copy of video %s unavailable", source.VideoID))
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, artifact models.ChannelArtifact) {
	if h.relay == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel relay unavailable"))
		return
	}
	if artifact.MessageID != 0 {
		body, size, err := h.relay.Download(r.Context(), artifact.MessageID)
		if err == nil {
			h.proxyStream(w, body, size)
			return
		}
		if artifact.FileID == "" {
			writeMappedError(w, err)
			return
		}
		h.logger.Warn("channel download failed", "video_id", artifact.VideoID, "message_id", artifact.MessageID, "error", err)
	} else if artifact.FileID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel copy of video %s unavailable", artifact.VideoID))
		return
	}
	signedURL, err := h.signedURLFor(r.Context(), artifact.FileID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	body, size, err := h.relay.Fetch(r.Context(), signedURL)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	h.proxyStream(w, body, size)
}

// signedURLFor returns a short-lived direct URL for the file, cached below
// the upstream expiry so a cached entry is never already stale.
func (h *Handler) signedURLFor(ctx context.Context, fileID string) (string, error) {
	key := "signed:" + fileID
	if cached, ok, err := h.cache.Get(ctx, key); err == nil && ok {
		h.metrics.ObserveCacheLookup(true)
		return string(cached), nil
	}
	h.metrics.ObserveCacheLookup(false)

	signedURL, expiresIn, err := h.relay.SignedURL(ctx, fileID)
	if err != nil {
		return "", err
	}
	ttl := h.signedURLTTL
	if expiresIn > 0 && expiresIn < ttl {
		ttl = expiresIn - 5*time.Minute
	}
	if ttl > 0 {
		if err := h.cache.Set(ctx, key, []byte(signedURL), ttl); err != nil {
			h.logger.Warn("failed to cache signed url", "error", err)
		}
	}
	return signedURL, nil
}

func (h *Handler) proxyStream(w http.ResponseWriter, body io.ReadCloser, size int64) {
	defer body.Close()
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", "inline")
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, streamChunkSize)
	written, err := io.CopyBuffer(w, body, buf)
	if err != nil {
		// Headers are gone; all we can do is note the broken stream.
		h.logger.Warn("stream proxy interrupted", "bytes_written", written, "error", err)
		return
	}
	h.metrics.AddDistributedBytes(written)
}

type resolutionEntry struct {
	Resolution    string `json:"resolution"`
	Label         string `json:"label"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
}

type resolutionsResponse struct {
	OriginalResolution string            `json:"originalResolution"`
	Available          []resolutionEntry `json:"available"`
}

// Resolutions reports which quality levels exist for the video.
func (h *Handler) Resolutions(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	video, ok := h.store.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}

	sizes := map[string]int64{}
	if renditions, err := h.store.ListRenditions(videoID); err == nil {
		for _, rendition := range renditions {
			sizes[rendition.Resolution] = rendition.SizeBytes
		}
	}
	artifact, hasArtifact := h.store.GetChannelArtifact(videoID)
	if hasArtifact {
		if _, ok := sizes[models.ResolutionOriginal]; !ok {
			sizes[models.ResolutionOriginal] = artifact.SizeBytes
		}
	}

	seen := map[string]bool{}
	available := make([]resolutionEntry, 0, 4)
	appendEntry := func(resolution string) {
		if resolution == "" || seen[resolution] {
			return
		}
		seen[resolution] = true
		available = append(available, resolutionEntry{
			Resolution:    resolution,
			Label:         displayLabel(resolution, video.SourceResolution),
			FileSizeBytes: sizes[resolution],
		})
	}

	if sources, err := h.store.ListSources(videoID); err == nil {
		for _, source := range sources {
			appendEntry(source.Resolution)
		}
	}
	if len(available) == 0 && hasArtifact {
		// Nothing fanned out yet, but the private copy is streamable.
		resolution := artifact.Resolution
		if resolution == "" {
			resolution = models.ResolutionOriginal
		}
		appendEntry(resolution)
	}
	// A video that has not fanned out yet still resolves; it just has no
	// playable entries.
	writeJSON(w, http.StatusOK, resolutionsResponse{
		OriginalResolution: video.SourceResolution,
		Available:          available,
	})
}

func displayLabel(resolution, sourceResolution string) string {
	if resolution == models.ResolutionOriginal {
		if sourceResolution != "" && sourceResolution != "unknown" {
			return sourceResolution
		}
		return models.ResolutionOriginal
	}
	return resolution
}
