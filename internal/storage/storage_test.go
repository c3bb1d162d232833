package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidvault/internal/models"
)

func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"), opts...)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func createTestVideo(t *testing.T, store *Storage) models.VideoAsset {
	t.Helper()
	video, err := store.CreateVideo(CreateVideoParams{
		Title:            "Launch day recap",
		CategoryID:       "cat-1",
		UploaderID:       "unit-test",
		SourceResolution: "720p",
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	return video
}

func TestCreateVideoValidation(t *testing.T) {
	store := newTestStorage(t)

	cases := []struct {
		name   string
		params CreateVideoParams
		field  string
	}{
		{"empty title", CreateVideoParams{Title: "   "}, "title"},
		{"title too long", CreateVideoParams{Title: strings.Repeat("x", MaxTitleLength+1)}, "title"},
		{"description too long", CreateVideoParams{Title: "ok", Description: strings.Repeat("y", MaxDescriptionLength+1)}, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.CreateVideo(tc.params)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if validation.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, validation.Field)
			}
		})
	}
}

func TestCreateVideoNormalizesTitle(t *testing.T) {
	store := newTestStorage(t)

	// U+0065 U+0301 composes to U+00E9 under NFC.
	video, err := store.CreateVideo(CreateVideoParams{Title: "  café session  "})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	if video.Title != "café session" {
		t.Fatalf("expected composed title, got %q", video.Title)
	}
	if video.SourceResolution != "unknown" {
		t.Fatalf("expected unknown resolution default, got %q", video.SourceResolution)
	}
}

func TestCreateVideoUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := newTestStorage(t, WithClock(func() time.Time { return fixed }))

	video := createTestVideo(t, store)
	if !video.CreatedAt.Equal(fixed) || !video.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected timestamps %v, got created=%v updated=%v", fixed, video.CreatedAt, video.UpdatedAt)
	}
}

func TestCreateVideoSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	video := createTestVideo(t, store)

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.GetVideo(video.ID)
	if !ok {
		t.Fatalf("video missing after reload")
	}
	if got.Title != video.Title {
		t.Fatalf("expected title %q, got %q", video.Title, got.Title)
	}
}

func TestUpdateVideoPartialFields(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	description := "cut from the morning stream"
	duration := 92
	updated, err := store.UpdateVideo(video.ID, VideoUpdate{
		Description:     &description,
		DurationSeconds: &duration,
	})
	if err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}
	if updated.Title != video.Title {
		t.Fatalf("title changed unexpectedly: %q", updated.Title)
	}
	if updated.Description != description || updated.DurationSeconds != duration {
		t.Fatalf("update not applied: %+v", updated)
	}

	negative := -1
	if _, err := store.UpdateVideo(video.ID, VideoUpdate{DurationSeconds: &negative}); !IsValidation(err) {
		t.Fatalf("expected validation error for negative duration, got %v", err)
	}
	if _, err := store.UpdateVideo("missing", VideoUpdate{}); !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDeleteVideoCascades(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	if _, err := store.AddSource(AddSourceParams{VideoID: video.ID, Provider: "streamtape", FileID: "f1"}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if _, err := store.SetChannelArtifact(models.ChannelArtifact{VideoID: video.ID, MessageID: 42, SizeBytes: 10}); err != nil {
		t.Fatalf("SetChannelArtifact: %v", err)
	}
	if _, err := store.UpsertRendition(video.ID, "480p", 2048); err != nil {
		t.Fatalf("UpsertRendition: %v", err)
	}

	if err := store.DeleteVideo(video.ID); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if _, ok := store.GetVideo(video.ID); ok {
		t.Fatalf("video still present after delete")
	}
	if _, ok := store.GetChannelArtifact(video.ID); ok {
		t.Fatalf("channel artifact survived delete")
	}
	if _, err := store.ListSources(video.ID); !IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestListVideosOrdersNewestFirst(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStorage(t, WithClock(func() time.Time {
		current = current.Add(time.Minute)
		return current
	}))

	first, err := store.CreateVideo(CreateVideoParams{Title: "first"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	second, err := store.CreateVideo(CreateVideoParams{Title: "second"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	videos := store.ListVideos()
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ID != second.ID || videos[1].ID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", videos[0].ID, videos[1].ID)
	}
}

func TestAddSourceIdempotent(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	first, err := store.AddSource(AddSourceParams{
		VideoID:  video.ID,
		Provider: "Streamtape",
		FileID:   "abc",
		EmbedURL: "https://streamtape.com/e/abc/",
	})
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if first.Provider != "streamtape" {
		t.Fatalf("provider not lowercased: %q", first.Provider)
	}
	if first.Resolution != models.ResolutionOriginal {
		t.Fatalf("expected original resolution default, got %q", first.Resolution)
	}

	duplicate, err := store.AddSource(AddSourceParams{
		VideoID:  video.ID,
		Provider: "streamtape",
		FileID:   "different",
	})
	if err != nil {
		t.Fatalf("duplicate AddSource: %v", err)
	}
	if duplicate.ID != first.ID || duplicate.FileID != first.FileID {
		t.Fatalf("duplicate add replaced the record: %+v", duplicate)
	}

	sources, err := store.ListSources(video.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected exactly one source, got %d", len(sources))
	}

	if _, err := store.AddSource(AddSourceParams{VideoID: "missing", Provider: "streamtape"}); !IsNotFound(err) {
		t.Fatalf("expected not-found for unknown video, got %v", err)
	}
}

func TestFindSourceMatchesNormalizedProvider(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	if _, err := store.AddSource(AddSourceParams{VideoID: video.ID, Provider: "doodstream", Resolution: "480p", FileID: "d1"}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if _, ok := store.FindSource(video.ID, " DoodStream ", "480p"); !ok {
		t.Fatalf("FindSource did not normalise provider name")
	}
	if _, ok := store.FindSource(video.ID, "doodstream", "720p"); ok {
		t.Fatalf("FindSource matched a resolution that was never stored")
	}
}

func TestSetChannelArtifactFirstWriteWins(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	first, err := store.SetChannelArtifact(models.ChannelArtifact{VideoID: video.ID, MessageID: 7, FileID: "f7", SizeBytes: 100})
	if err != nil {
		t.Fatalf("SetChannelArtifact: %v", err)
	}
	second, err := store.SetChannelArtifact(models.ChannelArtifact{VideoID: video.ID, MessageID: 8, FileID: "f8", SizeBytes: 200})
	if err != nil {
		t.Fatalf("second SetChannelArtifact: %v", err)
	}
	if second.MessageID != first.MessageID || second.FileID != first.FileID {
		t.Fatalf("later write replaced artifact: %+v", second)
	}

	if _, err := store.SetChannelArtifact(models.ChannelArtifact{VideoID: video.ID}); !IsValidation(err) {
		t.Fatalf("expected validation error for zero message id, got %v", err)
	}
}

func TestUpsertRenditionOnlyIfAbsent(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	first, err := store.UpsertRendition(video.ID, "480p", 1000)
	if err != nil {
		t.Fatalf("UpsertRendition: %v", err)
	}
	second, err := store.UpsertRendition(video.ID, "480p", 9999)
	if err != nil {
		t.Fatalf("second UpsertRendition: %v", err)
	}
	if second.SizeBytes != first.SizeBytes {
		t.Fatalf("existing rendition was replaced: %+v", second)
	}

	if _, err := store.UpsertRendition(video.ID, "240p", 500); err != nil {
		t.Fatalf("UpsertRendition 240p: %v", err)
	}
	variants, err := store.ListRenditions(video.ID)
	if err != nil {
		t.Fatalf("ListRenditions: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 renditions, got %d", len(variants))
	}
}

func TestEnabledProvidersDefaultsAndExplicitEmpty(t *testing.T) {
	store := newTestStorage(t)

	providers := store.EnabledProviders()
	if len(providers) != len(DefaultProviders) {
		t.Fatalf("expected defaults %v, got %v", DefaultProviders, providers)
	}

	if err := store.SetEnabledProviders([]string{" StreamTape ", "", "channel"}); err != nil {
		t.Fatalf("SetEnabledProviders: %v", err)
	}
	providers = store.EnabledProviders()
	if len(providers) != 2 || providers[0] != "streamtape" || providers[1] != "channel" {
		t.Fatalf("unexpected providers %v", providers)
	}

	// An explicit empty list disables fan-out entirely rather than falling
	// back to the defaults.
	if err := store.SetEnabledProviders(nil); err != nil {
		t.Fatalf("SetEnabledProviders(nil): %v", err)
	}
	if providers = store.EnabledProviders(); len(providers) != 0 {
		t.Fatalf("expected no providers after explicit clear, got %v", providers)
	}
}

func TestWriteRollsBackOnPersistFailure(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)

	store.persistOverride = func(dataset) error { return fmt.Errorf("disk full") }

	if _, err := store.AddSource(AddSourceParams{VideoID: video.ID, Provider: "streamtape", FileID: "f1"}); err == nil {
		t.Fatalf("expected persist failure to surface")
	}
	store.persistOverride = nil

	sources, err := store.ListSources(video.ID)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("failed write left %d sources behind", len(sources))
	}
}

func TestExportSnapshotCounts(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store)
	if _, err := store.AddSource(AddSourceParams{VideoID: video.ID, Provider: "streamtape", FileID: "f1"}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if _, err := store.UpsertRendition(video.ID, "480p", 10); err != nil {
		t.Fatalf("UpsertRendition: %v", err)
	}

	counts := store.Export().Counts()
	if counts.Videos != 1 || counts.Sources != 1 || counts.Renditions != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}
