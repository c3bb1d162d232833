package distribute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"vidvault/internal/cipher"
	"vidvault/internal/models"
	"vidvault/internal/observability/metrics"
	"vidvault/internal/storage"
	"vidvault/internal/transcode"
)

// OrchestratorConfig wires the per-video distribution pipeline.
type OrchestratorConfig struct {
	Store            storage.Repository
	Engine           *transcode.Engine
	FastProviders    []FastProvider
	Channel          *ChannelQueue
	Codec            *cipher.Codec
	Metrics          *metrics.Recorder
	Logger           *slog.Logger
	WorkDir          string
	OriginalTimeout  time.Duration
	RenditionTimeout time.Duration
}

const (
	defaultOriginalTimeout  = 10 * time.Minute
	defaultRenditionTimeout = 5 * time.Minute
)

// Orchestrator runs the three distribution phases for one video at a time,
// detached from the request that triggered them. Failures never propagate out;
// each (provider, rendition) unit logs its own error and the siblings carry on.
type Orchestrator struct {
	store            storage.Repository
	engine           *transcode.Engine
	fast             []FastProvider
	channel          *ChannelQueue
	codec            *cipher.Codec
	metrics          *metrics.Recorder
	logger           *slog.Logger
	workDir          string
	originalTimeout  time.Duration
	renditionTimeout time.Duration
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	originalTimeout := cfg.OriginalTimeout
	if originalTimeout <= 0 {
		originalTimeout = defaultOriginalTimeout
	}
	renditionTimeout := cfg.RenditionTimeout
	if renditionTimeout <= 0 {
		renditionTimeout = defaultRenditionTimeout
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Orchestrator{
		store:            cfg.Store,
		engine:           cfg.Engine,
		fast:             append([]FastProvider(nil), cfg.FastProviders...),
		channel:          cfg.Channel,
		codec:            cfg.Codec,
		metrics:          recorder,
		logger:           logger,
		workDir:          workDir,
		originalTimeout:  originalTimeout,
		renditionTimeout: renditionTimeout,
	}
}

// Distribute runs all three phases for a freshly staged upload and deletes
// the staging file when every phase has concluded.
func (o *Orchestrator) Distribute(ctx context.Context, video models.VideoAsset, stagingPath string) {
	logger := o.logger.With("video_id", video.ID)
	defer func() {
		if err := os.Remove(stagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove staging file", "path", stagingPath, "error", err)
		}
	}()

	enabled := o.enabledSet()
	o.fanOutArtifact(ctx, video, stagingPath, models.ResolutionOriginal, true, enabled, false)
	o.transcodeAndFanOut(ctx, video, stagingPath, enabled, false)
	logger.Info("distribution finished")
}

// Reprocess re-runs the transcode and rendition fan-out phases from an
// already-staged original. Phase 1 is skipped, the staging file is preserved,
// and slots that already hold a SourceRecord are not uploaded again.
func (o *Orchestrator) Reprocess(ctx context.Context, video models.VideoAsset, stagingPath string) {
	logger := o.logger.With("video_id", video.ID)
	enabled := o.enabledSet()
	o.transcodeAndFanOut(ctx, video, stagingPath, enabled, true)
	logger.Info("reprocess finished")
}

func (o *Orchestrator) enabledSet() map[string]bool {
	enabled := make(map[string]bool)
	for _, name := range o.store.EnabledProviders() {
		enabled[name] = true
	}
	return enabled
}

// fanOutArtifact runs one fast-provider fan-out plus the channel enqueue for
// a single artifact. It blocks until every fast attempt concludes; the
// channel job proceeds independently on the queue's own copy.
func (o *Orchestrator) fanOutArtifact(ctx context.Context, video models.VideoAsset, path, resolution string, isOriginal bool, enabled map[string]bool, dedup bool) {
	timeout := o.renditionTimeout
	if isOriginal {
		timeout = o.originalTimeout
	}

	var group errgroup.Group
	for _, provider := range o.fast {
		if !enabled[provider.Name()] {
			continue
		}
		provider := provider
		group.Go(func() error {
			o.uploadToFast(ctx, provider, video, path, resolution, timeout, dedup)
			return nil
		})
	}

	if enabled[ProviderChannel] && o.channel != nil {
		if dedup {
			if _, exists := o.store.FindSource(video.ID, ProviderChannel, resolution); exists {
				o.logger.Debug("channel slot already distributed", "video_id", video.ID, "resolution", resolution)
			} else {
				o.enqueueChannelCopy(video, path, resolution, isOriginal)
			}
		} else {
			o.enqueueChannelCopy(video, path, resolution, isOriginal)
		}
	}

	// Group closures always return nil: one provider's failure never cancels
	// its siblings.
	_ = group.Wait()
}

func (o *Orchestrator) uploadToFast(ctx context.Context, provider FastProvider, video models.VideoAsset, path, resolution string, timeout time.Duration, dedup bool) {
	logger := o.logger.With("video_id", video.ID, "provider", provider.Name(), "resolution", resolution)
	if dedup {
		if _, exists := o.store.FindSource(video.ID, provider.Name(), resolution); exists {
			logger.Debug("slot already distributed, skipping upload")
			return
		}
	}

	uploadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := provider.Upload(uploadCtx, path, video.Title)
	o.metrics.ObserveProviderUpload(provider.Name(), err, time.Since(start))
	if err != nil {
		logger.Error("fast provider upload failed", "error", err)
		return
	}

	if _, err := o.store.AddSource(storage.AddSourceParams{
		VideoID:     video.ID,
		Provider:    provider.Name(),
		Resolution:  resolution,
		FileID:      result.FileID,
		EmbedURL:    result.EmbedURL,
		DownloadURL: result.DownloadURL,
	}); err != nil {
		logger.Error("failed to persist source record", "error", err)
		return
	}
	logger.Info("fast provider upload completed", "file_id", result.FileID)
}

func (o *Orchestrator) transcodeAndFanOut(ctx context.Context, video models.VideoAsset, stagingPath string, enabled map[string]bool, dedup bool) {
	logger := o.logger.With("video_id", video.ID)
	if o.engine == nil || !o.engine.Available() {
		logger.Info("encoder unavailable, skipping renditions")
		return
	}

	labels := transcode.Ladder(transcode.Label(video.SourceResolution))
	if len(labels) == 0 {
		return
	}
	outDir, err := os.MkdirTemp(o.workDir, "renditions-")
	if err != nil {
		logger.Error("failed to create rendition dir", "error", err)
		return
	}
	defer os.RemoveAll(outDir)

	outputs, err := o.engine.Transcode(ctx, stagingPath, outDir, labels)
	if err != nil {
		logger.Error("transcode phase failed", "error", err)
		return
	}
	for _, label := range labels {
		_, produced := outputs[label]
		if produced {
			o.metrics.ObserveTranscode(string(label), nil)
		} else {
			o.metrics.ObserveTranscode(string(label), errors.New("not produced"))
		}
	}

	for label, renditionPath := range outputs {
		o.fanOutArtifact(ctx, video, renditionPath, string(label), false, enabled, dedup)
		// Every fast attempt for this rendition has concluded; the channel
		// queue holds its own copy, so the local file can go.
		if err := os.Remove(renditionPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove rendition file", "path", renditionPath, "error", err)
		}
	}
}

// enqueueChannelCopy copies the artifact to a private path owned by the
// channel queue, optionally encrypting it at rest, and enqueues the job.
func (o *Orchestrator) enqueueChannelCopy(video models.VideoAsset, path, resolution string, isOriginal bool) {
	logger := o.logger.With("video_id", video.ID, "resolution", resolution)
	privatePath, encrypted, err := o.stagePrivateCopy(path)
	if err != nil {
		logger.Error("failed to stage channel copy", "error", err)
		return
	}
	o.channel.Enqueue(UploadJob{
		VideoID:      video.ID,
		FilePath:     privatePath,
		Title:        video.Title,
		Resolution:   resolution,
		IsOriginal:   isOriginal,
		CleanupAfter: true,
		Encrypted:    encrypted,
	})
}

func (o *Orchestrator) stagePrivateCopy(path string) (string, bool, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(o.workDir, "channel-*"+filepath.Ext(path))
	if err != nil {
		return "", false, fmt.Errorf("create channel copy: %w", err)
	}
	dstPath := dst.Name()

	if o.codec != nil {
		dst.Close()
		if _, err := o.codec.EncryptToFile(src, dstPath); err != nil {
			os.Remove(dstPath)
			return "", false, fmt.Errorf("encrypt channel copy: %w", err)
		}
		return dstPath, true, nil
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", false, fmt.Errorf("copy artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", false, fmt.Errorf("close channel copy: %w", err)
	}
	return dstPath, false, nil
}
