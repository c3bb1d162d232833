package distribute

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vidvault/internal/cipher"
	"vidvault/internal/models"
	"vidvault/internal/observability/metrics"
	"vidvault/internal/storage"
)

type channelUploader interface {
	Upload(ctx context.Context, path, title string) (ChannelUploadResult, error)
}

// ChannelQueueConfig configures the single-worker channel upload queue.
type ChannelQueueConfig struct {
	Store         storage.Repository
	Uploader      channelUploader
	Codec         *cipher.Codec
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
	QueueSize     int
	CoolDown      time.Duration
	ErrorCoolDown time.Duration
}

const (
	defaultChannelQueueSize = 128
	defaultCoolDown         = 2 * time.Second
	defaultErrorCoolDown    = 5 * time.Second
)

// ChannelQueue serialises uploads to the rate-limited channel provider. Jobs
// are handed to the single worker through a buffered channel, so enqueueing
// from any goroutine is safe and at most one upload is ever in flight.
type ChannelQueue struct {
	store         storage.Repository
	uploader      channelUploader
	codec         *cipher.Codec
	metrics       *metrics.Recorder
	logger        *slog.Logger
	coolDown      time.Duration
	errorCoolDown time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	queue   chan UploadJob
	pending atomic.Int64
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func NewChannelQueue(cfg ChannelQueueConfig) *ChannelQueue {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultChannelQueueSize
	}
	coolDown := cfg.CoolDown
	if coolDown <= 0 {
		coolDown = defaultCoolDown
	}
	errorCoolDown := cfg.ErrorCoolDown
	if errorCoolDown <= 0 {
		errorCoolDown = defaultErrorCoolDown
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelQueue{
		store:         cfg.Store,
		uploader:      cfg.Uploader,
		codec:         cfg.Codec,
		metrics:       recorder,
		logger:        logger,
		coolDown:      coolDown,
		errorCoolDown: errorCoolDown,
		ctx:           ctx,
		cancel:        cancel,
		queue:         make(chan UploadJob, queueSize),
	}
}

// Start launches the worker. Calling Start more than once is a no-op.
func (q *ChannelQueue) Start() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.worker()
}

// Shutdown cancels the worker, even mid-job, and waits for it to exit.
func (q *ChannelQueue) Shutdown(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands a job to the worker. Jobs submitted after shutdown are
// silently discarded.
func (q *ChannelQueue) Enqueue(job UploadJob) {
	if q == nil || strings.TrimSpace(job.FilePath) == "" {
		return
	}
	select {
	case <-q.ctx.Done():
		return
	default:
	}
	select {
	case q.queue <- job:
		q.metrics.SetQueueDepth(int(q.pending.Add(1)))
	case <-q.ctx.Done():
	}
}

// PendingCount reports the number of jobs waiting for the worker.
func (q *ChannelQueue) PendingCount() int {
	if q == nil {
		return 0
	}
	return int(q.pending.Load())
}

func (q *ChannelQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.queue:
			q.metrics.SetQueueDepth(int(q.pending.Add(-1)))
			err := q.process(job)
			wait := q.coolDown
			if err != nil {
				wait = q.errorCoolDown
			}
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (q *ChannelQueue) process(job UploadJob) (err error) {
	logger := q.logger.With("video_id", job.VideoID, "resolution", job.Resolution)
	if job.CleanupAfter {
		defer func() {
			if removeErr := os.Remove(job.FilePath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				logger.Warn("failed to remove channel copy", "path", job.FilePath, "error", removeErr)
			}
		}()
	}

	if _, statErr := os.Stat(job.FilePath); errors.Is(statErr, os.ErrNotExist) {
		logger.Warn("channel job dropped, file missing", "path", job.FilePath)
		q.metrics.ObserveQueueJob("dropped")
		return nil
	}

	uploadPath := job.FilePath
	if job.Encrypted && q.codec != nil {
		uploadPath, err = q.decryptCopy(job.FilePath)
		if err != nil {
			logger.Error("failed to decrypt channel copy", "error", err)
			q.metrics.ObserveQueueJob("failed")
			return err
		}
		defer os.Remove(uploadPath)
	}

	// Uploads through the relay run without a timeout ceiling; only queue
	// shutdown cancels them.
	start := time.Now()
	result, err := q.uploader.Upload(q.ctx, uploadPath, job.Title)
	q.metrics.ObserveProviderUpload(ProviderChannel, err, time.Since(start))
	if err != nil {
		logger.Error("channel upload failed", "error", err)
		q.metrics.ObserveQueueJob("failed")
		return err
	}

	if job.IsOriginal {
		if _, err := q.store.SetChannelArtifact(models.ChannelArtifact{
			VideoID:    job.VideoID,
			MessageID:  result.MessageID,
			FileID:     result.FileID,
			SizeBytes:  result.SizeBytes,
			Resolution: job.Resolution,
		}); err != nil {
			logger.Error("failed to persist channel artifact", "error", err)
		}
	}
	if _, err := q.store.AddSource(storage.AddSourceParams{
		VideoID:    job.VideoID,
		Provider:   ProviderChannel,
		Resolution: job.Resolution,
		FileID:     result.FileID,
	}); err != nil {
		logger.Error("failed to persist channel source", "error", err)
	}
	if !job.IsOriginal {
		if _, err := q.store.UpsertRendition(job.VideoID, job.Resolution, result.SizeBytes); err != nil {
			logger.Error("failed to persist rendition", "error", err)
		}
	}

	logger.Info("channel upload completed", "message_id", result.MessageID, "size_bytes", result.SizeBytes)
	q.metrics.ObserveQueueJob("uploaded")
	q.metrics.AddDistributedBytes(result.SizeBytes)
	return nil
}

func (q *ChannelQueue) decryptCopy(path string) (string, error) {
	if q.codec == nil {
		return path, nil
	}
	plain, err := os.CreateTemp(filepath.Dir(path), "channel-plain-*.bin")
	if err != nil {
		return "", err
	}
	plainPath := plain.Name()
	plain.Close()
	if _, err := q.codec.DecryptToFile(path, plainPath); err != nil {
		os.Remove(plainPath)
		return "", err
	}
	return plainPath, nil
}
