package storage

import (
	"context"

	"vidvault/internal/models"
)

// Repository exposes the datastore operations required by the ingest gate,
// the distribution pipeline, and the retrieval resolver.
type Repository interface {
	Ping(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.VideoAsset, error)
	GetVideo(id string) (models.VideoAsset, bool)
	ListVideos() []models.VideoAsset
	UpdateVideo(id string, update VideoUpdate) (models.VideoAsset, error)
	DeleteVideo(id string) error

	// AddSource records one distributed copy. Writes are idempotent per
	// (video, provider, resolution): a duplicate add returns the existing
	// record unchanged.
	AddSource(params AddSourceParams) (models.SourceRecord, error)
	ListSources(videoID string) ([]models.SourceRecord, error)
	FindSource(videoID, provider, resolution string) (models.SourceRecord, bool)

	// SetChannelArtifact records the channel provider's message locator for a
	// video's original copy. The first write wins; later writes are ignored.
	SetChannelArtifact(artifact models.ChannelArtifact) (models.ChannelArtifact, error)
	GetChannelArtifact(videoID string) (models.ChannelArtifact, bool)

	// UpsertRendition associates a rendition label with a video only if the
	// association is absent.
	UpsertRendition(videoID, resolution string, sizeBytes int64) (models.RenditionVariant, error)
	ListRenditions(videoID string) ([]models.RenditionVariant, error)

	// EnabledProviders is the consulted settings store: the provider names the
	// orchestrator fans out to, checked once per ingest.
	EnabledProviders() []string
	SetEnabledProviders(providers []string) error
}

var _ Repository = (*Storage)(nil)
