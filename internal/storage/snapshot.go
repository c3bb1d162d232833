package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"vidvault/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore so it
// can be exported from one backing store and replayed into another.
type Snapshot struct {
	Videos           map[string]models.VideoAsset                  `json:"videos"`
	Sources          map[string]models.SourceRecord                `json:"sources"`
	ChannelArtifacts map[string]models.ChannelArtifact             `json:"channelArtifacts"`
	Renditions       map[string]map[string]models.RenditionVariant `json:"renditions"`
	Providers        []string                                      `json:"providers"`
}

// SnapshotCounts summarises a Snapshot's collection sizes for operators.
type SnapshotCounts struct {
	Videos           int
	Sources          int
	ChannelArtifacts int
	Renditions       int
}

// LoadSnapshotFromJSON reads a previously exported Snapshot from disk.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Videos == nil {
		s.Videos = make(map[string]models.VideoAsset)
	}
	if s.Sources == nil {
		s.Sources = make(map[string]models.SourceRecord)
	}
	if s.ChannelArtifacts == nil {
		s.ChannelArtifacts = make(map[string]models.ChannelArtifact)
	}
	if s.Renditions == nil {
		s.Renditions = make(map[string]map[string]models.RenditionVariant)
	}
}

// Counts walks a Snapshot and tallies each collection.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	counts := SnapshotCounts{
		Videos:           len(s.Videos),
		Sources:          len(s.Sources),
		ChannelArtifacts: len(s.ChannelArtifacts),
	}
	for _, variants := range s.Renditions {
		counts.Renditions += len(variants)
	}
	return counts
}

// Export captures the JSON store's state as a Snapshot.
func (s *Storage) Export() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := cloneDataset(s.data)
	return &Snapshot{
		Videos:           data.Videos,
		Sources:          data.Sources,
		ChannelArtifacts: data.ChannelArtifacts,
		Renditions:       data.Renditions,
		Providers:        data.Providers,
	}
}

// ImportSnapshotToPostgres bulk-loads a Snapshot into a Postgres repository.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, video := range snapshot.Videos {
		if _, err := tx.Exec(ctx, `INSERT INTO videos
			(id, title, description, category_id, uploader_id, duration_seconds,
			 source_resolution, thumbnail_url, is_short, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING`,
			video.ID, video.Title, video.Description, video.CategoryID, video.UploaderID,
			video.DurationSeconds, video.SourceResolution, video.ThumbnailURL,
			video.IsShort, video.CreatedAt, video.UpdatedAt); err != nil {
			return fmt.Errorf("import video %s: %w", video.ID, err)
		}
	}
	for _, source := range snapshot.Sources {
		if _, err := tx.Exec(ctx, `INSERT INTO sources
			(id, video_id, provider, resolution, file_id, embed_url, download_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (video_id, provider, resolution) DO NOTHING`,
			source.ID, source.VideoID, source.Provider, source.Resolution,
			source.FileID, source.EmbedURL, source.DownloadURL, source.CreatedAt); err != nil {
			return fmt.Errorf("import source %s: %w", source.ID, err)
		}
	}
	for _, artifact := range snapshot.ChannelArtifacts {
		if _, err := tx.Exec(ctx, `INSERT INTO channel_artifacts
			(video_id, message_id, file_id, size_bytes, resolution, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (video_id) DO NOTHING`,
			artifact.VideoID, artifact.MessageID, artifact.FileID,
			artifact.SizeBytes, artifact.Resolution, artifact.CreatedAt); err != nil {
			return fmt.Errorf("import channel artifact %s: %w", artifact.VideoID, err)
		}
	}
	for videoID, variants := range snapshot.Renditions {
		for _, variant := range variants {
			if _, err := tx.Exec(ctx, `INSERT INTO renditions (video_id, resolution, size_bytes, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (video_id, resolution) DO NOTHING`,
				videoID, variant.Resolution, variant.SizeBytes, variant.CreatedAt); err != nil {
				return fmt.Errorf("import rendition %s/%s: %w", videoID, variant.Resolution, err)
			}
		}
	}
	if snapshot.Providers != nil {
		raw, err := json.Marshal(snapshot.Providers)
		if err != nil {
			return fmt.Errorf("encode providers: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO settings (key, value) VALUES ('providers', $1)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, raw); err != nil {
			return fmt.Errorf("import providers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
