// Package api implements the HTTP surface: the upload gate, the retrieval
// resolver, and the operational endpoints.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vidvault/internal/cache"
	"vidvault/internal/models"
	"vidvault/internal/observability/metrics"
	"vidvault/internal/storage"
	"vidvault/internal/transcode"
)

// distributor runs the background distribution pipeline for one video.
type distributor interface {
	Distribute(ctx context.Context, video models.VideoAsset, stagingPath string)
	Reprocess(ctx context.Context, video models.VideoAsset, stagingPath string)
}

// channelRelay is the retrieval side of the channel provider.
type channelRelay interface {
	Download(ctx context.Context, messageID int64) (io.ReadCloser, int64, error)
	SignedURL(ctx context.Context, fileID string) (string, time.Duration, error)
	Fetch(ctx context.Context, signedURL string) (io.ReadCloser, int64, error)
}

// HandlerConfig wires the HTTP handlers to their collaborators.
type HandlerConfig struct {
	Store          storage.Repository
	Cache          cache.Cache
	Engine         *transcode.Engine
	Distributor    distributor
	Relay          channelRelay
	Queue          interface{ PendingCount() int }
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	MediaDir       string
	StagingDir     string
	UploadToken    string
	MaxUploadBytes int64
	SignedURLTTL   time.Duration
}

const (
	defaultMaxUploadBytes = 4 << 30
	// Signed URLs stay valid for an hour upstream; cache them for less.
	defaultSignedURLTTL = 50 * time.Minute

	streamChunkSize = 64 * 1024
)

type Handler struct {
	store          storage.Repository
	cache          cache.Cache
	engine         *transcode.Engine
	distributor    distributor
	relay          channelRelay
	queue          interface{ PendingCount() int }
	metrics        *metrics.Recorder
	logger         *slog.Logger
	mediaDir       string
	stagingDir     string
	uploadToken    string
	maxUploadBytes int64
	signedURLTTL   time.Duration
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	signedURLTTL := cfg.SignedURLTTL
	if signedURLTTL <= 0 {
		signedURLTTL = defaultSignedURLTTL
	}
	store := cfg.Store
	cacheStore := cfg.Cache
	if cacheStore == nil {
		cacheStore = cache.NewMemoryCache()
	}
	return &Handler{
		store:          store,
		cache:          cacheStore,
		engine:         cfg.Engine,
		distributor:    cfg.Distributor,
		relay:          cfg.Relay,
		queue:          cfg.Queue,
		metrics:        recorder,
		logger:         logger,
		mediaDir:       cfg.MediaDir,
		stagingDir:     cfg.StagingDir,
		uploadToken:    strings.TrimSpace(cfg.UploadToken),
		maxUploadBytes: maxUploadBytes,
		signedURLTTL:   signedURLTTL,
	}
}

// Health reports datastore, cache, and queue readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type serviceStatus struct {
		Component string `json:"component"`
		Status    string `json:"status"`
		Detail    string `json:"detail,omitempty"`
	}
	status := "ok"
	services := make([]serviceStatus, 0, 3)

	if h.store != nil {
		entry := serviceStatus{Component: "datastore", Status: "ok"}
		if err := h.store.Ping(r.Context()); err != nil {
			entry.Status = "degraded"
			entry.Detail = err.Error()
			status = "degraded"
		}
		services = append(services, entry)
	}
	if h.cache != nil {
		entry := serviceStatus{Component: "cache", Status: "ok"}
		if err := h.cache.Ping(r.Context()); err != nil {
			entry.Status = "degraded"
			entry.Detail = err.Error()
			status = "degraded"
		}
		services = append(services, entry)
	}
	if h.queue != nil {
		services = append(services, serviceStatus{Component: "channel-queue", Status: "ok"})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
		"queueDepth": func() int {
			if h.queue != nil {
				return h.queue.PendingCount()
			}
			return 0
		}(),
	})
}

type videoResponse struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	CategoryID       string `json:"categoryId,omitempty"`
	UploaderID       string `json:"uploaderId,omitempty"`
	DurationSeconds  int    `json:"durationSeconds"`
	SourceResolution string `json:"sourceResolution"`
	ThumbnailURL     string `json:"thumbnailUrl,omitempty"`
	IsShort          bool   `json:"isShort"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

func newVideoResponse(video models.VideoAsset) videoResponse {
	return videoResponse{
		ID:               video.ID,
		Title:            video.Title,
		Description:      video.Description,
		CategoryID:       video.CategoryID,
		UploaderID:       video.UploaderID,
		DurationSeconds:  video.DurationSeconds,
		SourceResolution: video.SourceResolution,
		ThumbnailURL:     video.ThumbnailURL,
		IsShort:          video.IsShort,
		CreatedAt:        video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:        video.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// Videos serves the cached video listing.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	const cacheKey = "videos:list"
	if cached, ok, err := h.cache.Get(r.Context(), cacheKey); err == nil && ok {
		h.metrics.ObserveCacheLookup(true)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	}
	h.metrics.ObserveCacheLookup(false)

	videos := h.store.ListVideos()
	response := make([]videoResponse, 0, len(videos))
	for _, video := range videos {
		response = append(response, newVideoResponse(video))
	}
	payload, err := encodeJSON(response)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.cache.Set(r.Context(), cacheKey, payload, time.Minute); err != nil {
		h.logger.Warn("failed to cache video listing", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
