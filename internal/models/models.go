package models

import "time"

// VideoAsset is the canonical record created once per ingested upload. The
// distribution pipeline patches duration and thumbnail after creation; every
// other field is immutable.
type VideoAsset struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	CategoryID       string    `json:"categoryId,omitempty"`
	UploaderID       string    `json:"uploaderId,omitempty"`
	DurationSeconds  int       `json:"durationSeconds"`
	SourceResolution string    `json:"sourceResolution"`
	ThumbnailURL     string    `json:"thumbnailUrl,omitempty"`
	IsShort          bool      `json:"isShort,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SourceRecord is one successfully distributed copy of one rendition on one
// provider. It is written only after the provider confirms the upload.
type SourceRecord struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"videoId"`
	Provider    string    `json:"provider"`
	Resolution  string    `json:"resolution"`
	FileID      string    `json:"fileId,omitempty"`
	EmbedURL    string    `json:"embedUrl,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChannelArtifact holds the channel provider's message locator for a video's
// original upload. At most one exists per video and it is recorded only for
// the first original copy relayed to the channel.
type ChannelArtifact struct {
	VideoID    string    `json:"videoId"`
	MessageID  int64     `json:"messageId"`
	FileID     string    `json:"fileId,omitempty"`
	SizeBytes  int64     `json:"sizeBytes,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RenditionVariant associates a video with a rendition label that has at
// least one distributed copy, along with the artifact size observed when the
// association was first recorded.
type RenditionVariant struct {
	VideoID    string    `json:"videoId"`
	Resolution string    `json:"resolution"`
	SizeBytes  int64     `json:"sizeBytes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ResolutionOriginal marks a SourceRecord holding the untranscoded upload.
const ResolutionOriginal = "original"
