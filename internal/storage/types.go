package storage

import (
	"sync"
	"time"

	"vidvault/internal/models"
)

const (
	// MaxTitleLength bounds video titles at the validation boundary.
	MaxTitleLength = 200
	// MaxDescriptionLength bounds video descriptions.
	MaxDescriptionLength = 5000
)

type dataset struct {
	Videos           map[string]models.VideoAsset              `json:"videos"`
	Sources          map[string]models.SourceRecord            `json:"sources"`
	ChannelArtifacts map[string]models.ChannelArtifact         `json:"channelArtifacts"`
	Renditions       map[string]map[string]models.RenditionVariant `json:"renditions"`
	Providers        []string                                  `json:"providers"`
}

// Storage is the JSON-file backed datastore. Every mutation clones the
// affected state, persists the full dataset atomically, and rolls back the
// in-memory copy when persistence fails.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// CreateVideoParams captures the attributes set when a video asset is created.
type CreateVideoParams struct {
	Title            string
	Description      string
	CategoryID       string
	UploaderID       string
	DurationSeconds  int
	SourceResolution string
	IsShort          bool
}

// VideoUpdate describes the mutable fields of a video asset.
type VideoUpdate struct {
	Title            *string
	Description      *string
	DurationSeconds  *int
	SourceResolution *string
	ThumbnailURL     *string
}

// AddSourceParams captures one confirmed distributed copy.
type AddSourceParams struct {
	VideoID     string
	Provider    string
	Resolution  string
	FileID      string
	EmbedURL    string
	DownloadURL string
}
