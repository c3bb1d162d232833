package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"vidvault/internal/models"
	"vidvault/internal/storage"
	"vidvault/internal/transcode"
)

// Upload accepts a multipart video upload, creates the canonical record, and
// hands the staged file to the distribution pipeline without waiting for it.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	if !h.authorizeUpload(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart body required: %w", err))
		return
	}

	form, err := h.readUploadForm(reader)
	if form != nil {
		// The staging file becomes the pipeline's responsibility only after a
		// successful hand-off; every early return must clean it up.
		defer func() {
			if form.stagingPath != "" {
				_ = os.Remove(form.stagingPath)
			}
			if form.thumbnailPath != "" {
				_ = os.Remove(form.thumbnailPath)
			}
		}()
	}
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxBytes.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if form.stagingPath == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return
	}

	resolution, duration := h.probeUpload(r.Context(), form.stagingPath)

	video, err := h.store.CreateVideo(storage.CreateVideoParams{
		Title:            form.title,
		Description:      form.description,
		CategoryID:       form.categoryID,
		UploaderID:       form.uploaderID,
		DurationSeconds:  duration,
		SourceResolution: resolution,
		IsShort:          form.isShort,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	stagingPath, err := h.adoptStagingFile(form.stagingPath, video.ID)
	if err != nil {
		h.logger.Error("failed to finalise staging file", "video_id", video.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	form.stagingPath = ""

	if thumbnailURL := h.persistThumbnail(r.Context(), video, form, stagingPath); thumbnailURL != "" {
		if updated, err := h.store.UpdateVideo(video.ID, storage.VideoUpdate{ThumbnailURL: &thumbnailURL}); err == nil {
			video = updated
		} else {
			h.logger.Warn("failed to record thumbnail", "video_id", video.ID, "error", err)
		}
	}

	if err := h.cache.InvalidatePrefix(r.Context(), "videos:"); err != nil {
		h.logger.Warn("failed to invalidate listing cache", "error", err)
	}

	if h.distributor != nil {
		go h.distributor.Distribute(context.Background(), video, stagingPath)
	}

	writeJSON(w, http.StatusCreated, newVideoResponse(video))
}

// Reprocess re-runs the transcode and rendition fan-out from the newest
// staged original for the video.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	if !h.authorizeUpload(w, r) {
		return
	}
	video, ok := h.store.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	stagingPath, err := h.newestStagedFile(videoID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if h.distributor == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("distribution pipeline unavailable"))
		return
	}
	go h.distributor.Reprocess(context.Background(), video, stagingPath)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reprocessing", "videoId": videoID})
}

// Thumbnail serves a previously stored thumbnail image.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	if _, ok := h.store.GetVideo(videoID); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	matches, err := filepath.Glob(filepath.Join(h.thumbnailDir(), videoID+".*"))
	if err != nil || len(matches) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("thumbnail for video %s not found", videoID))
		return
	}
	http.ServeFile(w, r, matches[0])
}

func (h *Handler) authorizeUpload(w http.ResponseWriter, r *http.Request) bool {
	if h.uploadToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) == h.uploadToken {
		return true
	}
	writeError(w, http.StatusUnauthorized, fmt.Errorf("upload token required"))
	return false
}

type uploadForm struct {
	title         string
	description   string
	categoryID    string
	uploaderID    string
	isShort       bool
	stagingPath   string
	thumbnailPath string
	thumbnailExt  string
}

func (h *Handler) readUploadForm(reader *multipart.Reader) (*uploadForm, error) {
	form := &uploadForm{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return form, fmt.Errorf("read multipart body: %w", err)
		}

		switch part.FormName() {
		case "title":
			form.title, err = readPartValue(part)
		case "description":
			form.description, err = readPartValue(part)
		case "categoryId":
			form.categoryID, err = readPartValue(part)
		case "uploaderId":
			form.uploaderID, err = readPartValue(part)
		case "isShort":
			var value string
			if value, err = readPartValue(part); err == nil {
				form.isShort, _ = strconv.ParseBool(strings.TrimSpace(value))
			}
		case "file":
			form.stagingPath, err = h.stagePart(part, "upload-*"+safeExt(part.FileName(), ".mp4"))
		case "thumbnail":
			form.thumbnailExt = safeExt(part.FileName(), ".jpg")
			form.thumbnailPath, err = h.stagePart(part, "thumb-*"+form.thumbnailExt)
		default:
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			return form, err
		}
	}
	return form, nil
}

func (h *Handler) stagePart(part *multipart.Part, pattern string) (string, error) {
	if err := os.MkdirAll(h.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	staged, err := os.CreateTemp(h.stagingDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	path := staged.Name()
	if _, err := io.Copy(staged, part); err != nil {
		staged.Close()
		os.Remove(path)
		return "", fmt.Errorf("persist upload: %w", err)
	}
	if err := staged.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return path, nil
}

// adoptStagingFile renames the anonymous staging file to one keyed by the
// video ID, so reprocess runs can find the newest staged original later.
func (h *Handler) adoptStagingFile(path, videoID string) (string, error) {
	target := filepath.Join(h.stagingDir, videoID+filepath.Ext(path))
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("rename staging file: %w", err)
	}
	return target, nil
}

func (h *Handler) newestStagedFile(videoID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(h.stagingDir, videoID+"*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no staged original for video %s", videoID)
	}
	sort.Slice(matches, func(i, j int) bool {
		left, leftErr := os.Stat(matches[i])
		right, rightErr := os.Stat(matches[j])
		if leftErr != nil || rightErr != nil {
			return false
		}
		return left.ModTime().After(right.ModTime())
	})
	return matches[0], nil
}

func (h *Handler) probeUpload(ctx context.Context, path string) (string, int) {
	if h.engine == nil {
		return "unknown", 0
	}
	result, err := h.engine.Probe(ctx, path)
	if err != nil {
		h.logger.Warn("probe failed, using fallback metadata", "path", path, "error", err)
		return "unknown", 0
	}
	label := "unknown"
	if result.Height > 0 {
		label = string(transcode.LabelForHeight(result.Height))
	}
	return label, int(result.DurationSeconds + 0.5)
}

func (h *Handler) persistThumbnail(ctx context.Context, video models.VideoAsset, form *uploadForm, stagingPath string) string {
	dir := h.thumbnailDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.logger.Warn("failed to create thumbnail dir", "error", err)
		return ""
	}

	if form.thumbnailPath != "" {
		target := filepath.Join(dir, video.ID+form.thumbnailExt)
		if err := os.Rename(form.thumbnailPath, target); err != nil {
			h.logger.Warn("failed to store thumbnail", "video_id", video.ID, "error", err)
			return ""
		}
		form.thumbnailPath = ""
		return "/thumbnails/" + video.ID
	}

	// No thumbnail supplied: grab a frame early in the video when the
	// encoder is around.
	if h.engine == nil || !h.engine.Available() || video.DurationSeconds <= 0 {
		return ""
	}
	target := filepath.Join(dir, video.ID+".jpg")
	if err := h.engine.ExtractThumbnail(ctx, stagingPath, target, float64(video.DurationSeconds)/10); err != nil {
		h.logger.Warn("failed to extract thumbnail", "video_id", video.ID, "error", err)
		return ""
	}
	return "/thumbnails/" + video.ID
}

func (h *Handler) thumbnailDir() string {
	return filepath.Join(h.mediaDir, "thumbnails")
}

func readPartValue(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read form field: %w", err)
	}
	return string(data), nil
}

func safeExt(filename, fallback string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" || strings.ContainsAny(ext, "/\\") {
		return fallback
	}
	return ext
}
