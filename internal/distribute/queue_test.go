package distribute

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidvault/internal/models"
	"vidvault/internal/observability/metrics"
	"vidvault/internal/storage"
)

type stubUploader struct {
	mu       sync.Mutex
	delay    time.Duration
	err      error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	uploads  []string
	result   ChannelUploadResult
}

func (s *stubUploader) Upload(ctx context.Context, path, title string) (ChannelUploadResult, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxSeen.Load()
		if current <= max || s.maxSeen.CompareAndSwap(max, current) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ChannelUploadResult{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, path)
	s.mu.Unlock()
	if s.err != nil {
		return ChannelUploadResult{}, s.err
	}
	result := s.result
	if result.MessageID == 0 {
		result.MessageID = int64(len(s.uploads))
	}
	return result, nil
}

func (s *stubUploader) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func newQueueStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func stageFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.mp4")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func newTestQueue(t *testing.T, store storage.Repository, uploader channelUploader) *ChannelQueue {
	t.Helper()
	queue := NewChannelQueue(ChannelQueueConfig{
		Store:         store,
		Uploader:      uploader,
		Metrics:       metrics.NewRecorder(),
		CoolDown:      time.Millisecond,
		ErrorCoolDown: time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	})
	return queue
}

func TestQueueProcessesJobsStrictlySerially(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "serial"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	uploader := &stubUploader{delay: 20 * time.Millisecond}
	queue := newTestQueue(t, store, uploader)
	queue.Start()

	const jobs = 4
	for i := 0; i < jobs; i++ {
		queue.Enqueue(UploadJob{
			VideoID:    video.ID,
			FilePath:   stageFile(t, "payload"),
			Title:      "serial",
			Resolution: models.ResolutionOriginal,
			IsOriginal: i == 0,
		})
	}

	deadline := time.After(5 * time.Second)
	for uploader.uploadCount() < jobs {
		select {
		case <-deadline:
			t.Fatalf("only %d of %d jobs processed", uploader.uploadCount(), jobs)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if max := uploader.maxSeen.Load(); max != 1 {
		t.Fatalf("observed %d concurrent uploads, expected never more than one", max)
	}
}

func TestQueuePersistsArtifactOnlyForOriginals(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "artifacts"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	uploader := &stubUploader{result: ChannelUploadResult{MessageID: 99, FileID: "file-99", SizeBytes: 42}}
	queue := newTestQueue(t, store, uploader)
	queue.Start()

	queue.Enqueue(UploadJob{VideoID: video.ID, FilePath: stageFile(t, "a"), Resolution: models.ResolutionOriginal, IsOriginal: true})
	queue.Enqueue(UploadJob{VideoID: video.ID, FilePath: stageFile(t, "b"), Resolution: "480p"})

	waitFor(t, func() bool { return uploader.uploadCount() == 2 })

	artifact, ok := store.GetChannelArtifact(video.ID)
	if !ok || artifact.MessageID != 99 {
		t.Fatalf("expected artifact from the original job, got %+v ok=%v", artifact, ok)
	}
	if artifact.Resolution != models.ResolutionOriginal {
		t.Fatalf("artifact recorded rendition resolution %q", artifact.Resolution)
	}
	sources, err := store.ListSources(video.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 channel sources, got %d", len(sources))
	}
	renditions, err := store.ListRenditions(video.ID)
	if err != nil {
		t.Fatalf("ListRenditions: %v", err)
	}
	if len(renditions) != 1 || renditions[0].Resolution != "480p" {
		t.Fatalf("expected one 480p rendition, got %+v", renditions)
	}
}

func TestQueueDropsJobWhenFileMissing(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "missing"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	uploader := &stubUploader{}
	queue := newTestQueue(t, store, uploader)
	queue.Start()

	queue.Enqueue(UploadJob{
		VideoID:    video.ID,
		FilePath:   filepath.Join(t.TempDir(), "never-created.mp4"),
		Resolution: models.ResolutionOriginal,
		IsOriginal: true,
	})
	queue.Enqueue(UploadJob{VideoID: video.ID, FilePath: stageFile(t, "later"), Resolution: "240p"})

	waitFor(t, func() bool { return uploader.uploadCount() == 1 })
	if _, ok := store.GetChannelArtifact(video.ID); ok {
		t.Fatalf("dropped job still produced an artifact")
	}
}

func TestQueueSurvivesUploadFailure(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "failure"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	uploader := &stubUploader{err: errors.New("relay rejected upload")}
	queue := newTestQueue(t, store, uploader)
	queue.Start()

	failedPath := stageFile(t, "doomed")
	queue.Enqueue(UploadJob{VideoID: video.ID, FilePath: failedPath, Resolution: models.ResolutionOriginal, IsOriginal: true, CleanupAfter: true})

	waitFor(t, func() bool { return uploader.uploadCount() == 1 })

	// No retry, no partial record, cleanup still ran.
	sources, err := store.ListSources(video.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("failed upload persisted %d sources", len(sources))
	}
	waitFor(t, func() bool {
		_, statErr := os.Stat(failedPath)
		return errors.Is(statErr, os.ErrNotExist)
	})

	// Worker is still alive for the next job.
	uploader.err = nil
	queue.Enqueue(UploadJob{VideoID: video.ID, FilePath: stageFile(t, "ok"), Resolution: models.ResolutionOriginal, IsOriginal: true})
	waitFor(t, func() bool { return uploader.uploadCount() == 2 })
}

func TestQueueStartAndShutdownAreIdempotent(t *testing.T) {
	store := newQueueStore(t)
	uploader := &stubUploader{}
	queue := newTestQueue(t, store, uploader)
	queue.Start()
	queue.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := queue.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := queue.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	// Enqueue after shutdown is a silent no-op.
	queue.Enqueue(UploadJob{VideoID: "v", FilePath: stageFile(t, "late")})
	time.Sleep(10 * time.Millisecond)
	if uploader.uploadCount() != 0 {
		t.Fatalf("job processed after shutdown")
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !condition() {
		select {
		case <-deadline:
			t.Fatalf("condition not met within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
