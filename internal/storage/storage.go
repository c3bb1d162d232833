package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"vidvault/internal/models"
)

// DefaultProviders is the fan-out set used when the settings store has never
// been written.
var DefaultProviders = []string{"streamtape", "doodstream", "channel"}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func newDataset() dataset {
	return dataset{
		Videos:           make(map[string]models.VideoAsset),
		Sources:          make(map[string]models.SourceRecord),
		ChannelArtifacts: make(map[string]models.ChannelArtifact),
		Renditions:       make(map[string]map[string]models.RenditionVariant),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.VideoAsset)
	}
	if s.data.Sources == nil {
		s.data.Sources = make(map[string]models.SourceRecord)
	}
	if s.data.ChannelArtifacts == nil {
		s.data.ChannelArtifacts = make(map[string]models.ChannelArtifact)
	}
	if s.data.Renditions == nil {
		s.data.Renditions = make(map[string]map[string]models.RenditionVariant)
	}
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, video := range src.Videos {
		clone.Videos[id] = video
	}
	for id, source := range src.Sources {
		clone.Sources[id] = source
	}
	for id, artifact := range src.ChannelArtifacts {
		clone.ChannelArtifacts[id] = artifact
	}
	for videoID, variants := range src.Renditions {
		if variants == nil {
			clone.Renditions[videoID] = nil
			continue
		}
		cloned := make(map[string]models.RenditionVariant, len(variants))
		for label, variant := range variants {
			cloned[label] = variant
		}
		clone.Renditions[videoID] = cloned
	}
	if src.Providers != nil {
		clone.Providers = append([]string(nil), src.Providers...)
	}
	return clone
}

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Videos == nil {
		return fmt.Errorf("datastore not initialised")
	}
	return nil
}

// Video operations

func normalizeTitle(title string) string {
	return norm.NFC.String(strings.TrimSpace(title))
}

func (s *Storage) CreateVideo(params CreateVideoParams) (models.VideoAsset, error) {
	title := normalizeTitle(params.Title)
	if title == "" {
		return models.VideoAsset{}, validationErr("title", "is required")
	}
	if len(title) > MaxTitleLength {
		return models.VideoAsset{}, validationErr("title", fmt.Sprintf("exceeds %d characters", MaxTitleLength))
	}
	description := strings.TrimSpace(params.Description)
	if len(description) > MaxDescriptionLength {
		return models.VideoAsset{}, validationErr("description", fmt.Sprintf("exceeds %d characters", MaxDescriptionLength))
	}
	resolution := strings.TrimSpace(params.SourceResolution)
	if resolution == "" {
		resolution = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return models.VideoAsset{}, err
	}
	now := s.now()
	video := models.VideoAsset{
		ID:               id,
		Title:            title,
		Description:      description,
		CategoryID:       strings.TrimSpace(params.CategoryID),
		UploaderID:       strings.TrimSpace(params.UploaderID),
		DurationSeconds:  params.DurationSeconds,
		SourceResolution: resolution,
		IsShort:          params.IsShort,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	snapshot := cloneDataset(s.data)
	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data = snapshot
		return models.VideoAsset{}, err
	}
	return video, nil
}

func (s *Storage) GetVideo(id string) (models.VideoAsset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

func (s *Storage) ListVideos() []models.VideoAsset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]models.VideoAsset, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos
}

func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.VideoAsset{}, notFoundErr("video", id)
	}

	if update.Title != nil {
		title := normalizeTitle(*update.Title)
		if title == "" {
			return models.VideoAsset{}, validationErr("title", "is required")
		}
		if len(title) > MaxTitleLength {
			return models.VideoAsset{}, validationErr("title", fmt.Sprintf("exceeds %d characters", MaxTitleLength))
		}
		video.Title = title
	}
	if update.Description != nil {
		description := strings.TrimSpace(*update.Description)
		if len(description) > MaxDescriptionLength {
			return models.VideoAsset{}, validationErr("description", fmt.Sprintf("exceeds %d characters", MaxDescriptionLength))
		}
		video.Description = description
	}
	if update.DurationSeconds != nil {
		if *update.DurationSeconds < 0 {
			return models.VideoAsset{}, validationErr("durationSeconds", "must not be negative")
		}
		video.DurationSeconds = *update.DurationSeconds
	}
	if update.SourceResolution != nil {
		resolution := strings.TrimSpace(*update.SourceResolution)
		if resolution == "" {
			resolution = "unknown"
		}
		video.SourceResolution = resolution
	}
	if update.ThumbnailURL != nil {
		video.ThumbnailURL = strings.TrimSpace(*update.ThumbnailURL)
	}
	video.UpdatedAt = s.now()

	snapshot := cloneDataset(s.data)
	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data = snapshot
		return models.VideoAsset{}, err
	}
	return video, nil
}

func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[id]; !ok {
		return notFoundErr("video", id)
	}

	snapshot := cloneDataset(s.data)
	delete(s.data.Videos, id)
	for sourceID, source := range s.data.Sources {
		if source.VideoID == id {
			delete(s.data.Sources, sourceID)
		}
	}
	delete(s.data.ChannelArtifacts, id)
	delete(s.data.Renditions, id)
	if err := s.persist(); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Source operations

func (s *Storage) AddSource(params AddSourceParams) (models.SourceRecord, error) {
	videoID := strings.TrimSpace(params.VideoID)
	provider := strings.ToLower(strings.TrimSpace(params.Provider))
	resolution := strings.TrimSpace(params.Resolution)
	if videoID == "" {
		return models.SourceRecord{}, validationErr("videoId", "is required")
	}
	if provider == "" {
		return models.SourceRecord{}, validationErr("provider", "is required")
	}
	if resolution == "" {
		resolution = models.ResolutionOriginal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return models.SourceRecord{}, notFoundErr("video", videoID)
	}
	if existing, ok := s.findSourceLocked(videoID, provider, resolution); ok {
		return existing, nil
	}

	id, err := generateID()
	if err != nil {
		return models.SourceRecord{}, err
	}
	record := models.SourceRecord{
		ID:          id,
		VideoID:     videoID,
		Provider:    provider,
		Resolution:  resolution,
		FileID:      strings.TrimSpace(params.FileID),
		EmbedURL:    strings.TrimSpace(params.EmbedURL),
		DownloadURL: strings.TrimSpace(params.DownloadURL),
		CreatedAt:   s.now(),
	}

	snapshot := cloneDataset(s.data)
	s.data.Sources[id] = record
	if err := s.persist(); err != nil {
		s.data = snapshot
		return models.SourceRecord{}, err
	}
	return record, nil
}

func (s *Storage) findSourceLocked(videoID, provider, resolution string) (models.SourceRecord, bool) {
	for _, source := range s.data.Sources {
		if source.VideoID == videoID && source.Provider == provider && source.Resolution == resolution {
			return source, true
		}
	}
	return models.SourceRecord{}, false
}

func (s *Storage) ListSources(videoID string) ([]models.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, notFoundErr("video", videoID)
	}
	sources := make([]models.SourceRecord, 0, 4)
	for _, source := range s.data.Sources {
		if source.VideoID == videoID {
			sources = append(sources, source)
		}
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].CreatedAt.Equal(sources[j].CreatedAt) {
			return sources[i].ID < sources[j].ID
		}
		return sources[i].CreatedAt.Before(sources[j].CreatedAt)
	})
	return sources, nil
}

func (s *Storage) FindSource(videoID, provider, resolution string) (models.SourceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findSourceLocked(videoID, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(resolution))
}

// Channel artifact operations

func (s *Storage) SetChannelArtifact(artifact models.ChannelArtifact) (models.ChannelArtifact, error) {
	videoID := strings.TrimSpace(artifact.VideoID)
	if videoID == "" {
		return models.ChannelArtifact{}, validationErr("videoId", "is required")
	}
	if artifact.MessageID == 0 {
		return models.ChannelArtifact{}, validationErr("messageId", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return models.ChannelArtifact{}, notFoundErr("video", videoID)
	}
	if existing, ok := s.data.ChannelArtifacts[videoID]; ok {
		return existing, nil
	}

	artifact.VideoID = videoID
	artifact.CreatedAt = s.now()

	snapshot := cloneDataset(s.data)
	s.data.ChannelArtifacts[videoID] = artifact
	if err := s.persist(); err != nil {
		s.data = snapshot
		return models.ChannelArtifact{}, err
	}
	return artifact, nil
}

func (s *Storage) GetChannelArtifact(videoID string) (models.ChannelArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.data.ChannelArtifacts[videoID]
	return artifact, ok
}

// Rendition operations

func (s *Storage) UpsertRendition(videoID, resolution string, sizeBytes int64) (models.RenditionVariant, error) {
	videoID = strings.TrimSpace(videoID)
	resolution = strings.TrimSpace(resolution)
	if videoID == "" {
		return models.RenditionVariant{}, validationErr("videoId", "is required")
	}
	if resolution == "" {
		return models.RenditionVariant{}, validationErr("resolution", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return models.RenditionVariant{}, notFoundErr("video", videoID)
	}
	if variants := s.data.Renditions[videoID]; variants != nil {
		if existing, ok := variants[resolution]; ok {
			return existing, nil
		}
	}

	variant := models.RenditionVariant{
		VideoID:    videoID,
		Resolution: resolution,
		SizeBytes:  sizeBytes,
		CreatedAt:  s.now(),
	}

	snapshot := cloneDataset(s.data)
	if s.data.Renditions[videoID] == nil {
		s.data.Renditions[videoID] = make(map[string]models.RenditionVariant)
	}
	s.data.Renditions[videoID][resolution] = variant
	if err := s.persist(); err != nil {
		s.data = snapshot
		return models.RenditionVariant{}, err
	}
	return variant, nil
}

func (s *Storage) ListRenditions(videoID string) ([]models.RenditionVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, notFoundErr("video", videoID)
	}
	variants := make([]models.RenditionVariant, 0, len(s.data.Renditions[videoID]))
	for _, variant := range s.data.Renditions[videoID] {
		variants = append(variants, variant)
	}
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].Resolution < variants[j].Resolution
	})
	return variants, nil
}

// Settings operations

func (s *Storage) EnabledProviders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Providers == nil {
		return append([]string(nil), DefaultProviders...)
	}
	return append([]string(nil), s.data.Providers...)
}

func (s *Storage) SetEnabledProviders(providers []string) error {
	cleaned := make([]string, 0, len(providers))
	for _, provider := range providers {
		if trimmed := strings.ToLower(strings.TrimSpace(provider)); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := cloneDataset(s.data)
	s.data.Providers = cleaned
	if err := s.persist(); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}
