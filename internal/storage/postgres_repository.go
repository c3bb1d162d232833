package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidvault/internal/models"
)

type postgresRepository struct {
	pool           *pgxpool.Pool
	cfg            PostgresConfig
	acquireTimeout time.Duration
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migrations.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &postgresRepository{pool: pool, cfg: cfg, acquireTimeout: cfg.AcquireTimeout}, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	timeout := r.acquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const videoColumns = `id, title, description, category_id, uploader_id, duration_seconds,
	source_resolution, thumbnail_url, is_short, created_at, updated_at`

func scanVideo(row pgx.Row) (models.VideoAsset, error) {
	var video models.VideoAsset
	err := row.Scan(&video.ID, &video.Title, &video.Description, &video.CategoryID,
		&video.UploaderID, &video.DurationSeconds, &video.SourceResolution,
		&video.ThumbnailURL, &video.IsShort, &video.CreatedAt, &video.UpdatedAt)
	return video, err
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.VideoAsset, error) {
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
	id, err := generateID()
	if err != nil {
		return models.VideoAsset{}, err
	}
	now := time.Now().UTC()
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

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `INSERT INTO videos
		(id, title, description, category_id, uploader_id, duration_seconds,
		 source_resolution, thumbnail_url, is_short, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		video.ID, video.Title, video.Description, video.CategoryID, video.UploaderID,
		video.DurationSeconds, video.SourceResolution, video.ThumbnailURL,
		video.IsShort, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.VideoAsset, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		return models.VideoAsset{}, false
	}
	return video, true
}

func (r *postgresRepository) ListVideos() []models.VideoAsset {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var videos []models.VideoAsset
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil
		}
		videos = append(videos, video)
	}
	return videos
}

func (r *postgresRepository) UpdateVideo(id string, update VideoUpdate) (models.VideoAsset, error) {
	assignments := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Title != nil {
		title := normalizeTitle(*update.Title)
		if title == "" {
			return models.VideoAsset{}, validationErr("title", "is required")
		}
		if len(title) > MaxTitleLength {
			return models.VideoAsset{}, validationErr("title", fmt.Sprintf("exceeds %d characters", MaxTitleLength))
		}
		assignments = append(assignments, "title = "+arg(title))
	}
	if update.Description != nil {
		description := strings.TrimSpace(*update.Description)
		if len(description) > MaxDescriptionLength {
			return models.VideoAsset{}, validationErr("description", fmt.Sprintf("exceeds %d characters", MaxDescriptionLength))
		}
		assignments = append(assignments, "description = "+arg(description))
	}
	if update.DurationSeconds != nil {
		if *update.DurationSeconds < 0 {
			return models.VideoAsset{}, validationErr("durationSeconds", "must not be negative")
		}
		assignments = append(assignments, "duration_seconds = "+arg(*update.DurationSeconds))
	}
	if update.SourceResolution != nil {
		resolution := strings.TrimSpace(*update.SourceResolution)
		if resolution == "" {
			resolution = "unknown"
		}
		assignments = append(assignments, "source_resolution = "+arg(resolution))
	}
	if update.ThumbnailURL != nil {
		assignments = append(assignments, "thumbnail_url = "+arg(strings.TrimSpace(*update.ThumbnailURL)))
	}
	if len(assignments) == 0 {
		video, ok := r.GetVideo(id)
		if !ok {
			return models.VideoAsset{}, notFoundErr("video", id)
		}
		return video, nil
	}
	assignments = append(assignments, "updated_at = "+arg(time.Now().UTC()))

	ctx, cancel := r.opContext()
	defer cancel()
	query := fmt.Sprintf(`UPDATE videos SET %s WHERE id = %s RETURNING `+videoColumns,
		strings.Join(assignments, ", "), arg(id))
	video, err := scanVideo(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, notFoundErr("video", id)
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("update video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) DeleteVideo(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundErr("video", id)
	}
	return nil
}

const sourceColumns = `id, video_id, provider, resolution, file_id, embed_url, download_url, created_at`

func scanSource(row pgx.Row) (models.SourceRecord, error) {
	var source models.SourceRecord
	err := row.Scan(&source.ID, &source.VideoID, &source.Provider, &source.Resolution,
		&source.FileID, &source.EmbedURL, &source.DownloadURL, &source.CreatedAt)
	return source, err
}

func (r *postgresRepository) AddSource(params AddSourceParams) (models.SourceRecord, error) {
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
	id, err := generateID()
	if err != nil {
		return models.SourceRecord{}, err
	}

	ctx, cancel := r.opContext()
	defer cancel()
	// The unique index collapses concurrent duplicate wins to the first row.
	_, err = r.pool.Exec(ctx, `INSERT INTO sources
		(id, video_id, provider, resolution, file_id, embed_url, download_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (video_id, provider, resolution) DO NOTHING`,
		id, videoID, provider, resolution,
		strings.TrimSpace(params.FileID), strings.TrimSpace(params.EmbedURL),
		strings.TrimSpace(params.DownloadURL), time.Now().UTC())
	if err != nil {
		return models.SourceRecord{}, fmt.Errorf("insert source: %w", err)
	}
	source, err := scanSource(r.pool.QueryRow(ctx, `SELECT `+sourceColumns+`
		FROM sources WHERE video_id = $1 AND provider = $2 AND resolution = $3`,
		videoID, provider, resolution))
	if err != nil {
		return models.SourceRecord{}, fmt.Errorf("read source: %w", err)
	}
	return source, nil
}

func (r *postgresRepository) ListSources(videoID string) ([]models.SourceRecord, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	if _, ok := r.GetVideo(videoID); !ok {
		return nil, notFoundErr("video", videoID)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+sourceColumns+`
		FROM sources WHERE video_id = $1 ORDER BY created_at, id`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	sources := make([]models.SourceRecord, 0, 4)
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

func (r *postgresRepository) FindSource(videoID, provider, resolution string) (models.SourceRecord, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	source, err := scanSource(r.pool.QueryRow(ctx, `SELECT `+sourceColumns+`
		FROM sources WHERE video_id = $1 AND provider = $2 AND resolution = $3`,
		videoID, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(resolution)))
	if err != nil {
		return models.SourceRecord{}, false
	}
	return source, true
}

func (r *postgresRepository) SetChannelArtifact(artifact models.ChannelArtifact) (models.ChannelArtifact, error) {
	videoID := strings.TrimSpace(artifact.VideoID)
	if videoID == "" {
		return models.ChannelArtifact{}, validationErr("videoId", "is required")
	}
	if artifact.MessageID == 0 {
		return models.ChannelArtifact{}, validationErr("messageId", "is required")
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `INSERT INTO channel_artifacts
		(video_id, message_id, file_id, size_bytes, resolution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (video_id) DO NOTHING`,
		videoID, artifact.MessageID, artifact.FileID, artifact.SizeBytes,
		artifact.Resolution, time.Now().UTC())
	if err != nil {
		return models.ChannelArtifact{}, fmt.Errorf("insert channel artifact: %w", err)
	}
	stored, ok := r.GetChannelArtifact(videoID)
	if !ok {
		return models.ChannelArtifact{}, notFoundErr("video", videoID)
	}
	return stored, nil
}

func (r *postgresRepository) GetChannelArtifact(videoID string) (models.ChannelArtifact, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	var artifact models.ChannelArtifact
	err := r.pool.QueryRow(ctx, `SELECT video_id, message_id, file_id, size_bytes, resolution, created_at
		FROM channel_artifacts WHERE video_id = $1`, videoID).
		Scan(&artifact.VideoID, &artifact.MessageID, &artifact.FileID,
			&artifact.SizeBytes, &artifact.Resolution, &artifact.CreatedAt)
	if err != nil {
		return models.ChannelArtifact{}, false
	}
	return artifact, true
}

func (r *postgresRepository) UpsertRendition(videoID, resolution string, sizeBytes int64) (models.RenditionVariant, error) {
	videoID = strings.TrimSpace(videoID)
	resolution = strings.TrimSpace(resolution)
	if videoID == "" {
		return models.RenditionVariant{}, validationErr("videoId", "is required")
	}
	if resolution == "" {
		return models.RenditionVariant{}, validationErr("resolution", "is required")
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `INSERT INTO renditions (video_id, resolution, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (video_id, resolution) DO NOTHING`,
		videoID, resolution, sizeBytes, time.Now().UTC())
	if err != nil {
		return models.RenditionVariant{}, fmt.Errorf("insert rendition: %w", err)
	}
	var variant models.RenditionVariant
	err = r.pool.QueryRow(ctx, `SELECT video_id, resolution, size_bytes, created_at
		FROM renditions WHERE video_id = $1 AND resolution = $2`, videoID, resolution).
		Scan(&variant.VideoID, &variant.Resolution, &variant.SizeBytes, &variant.CreatedAt)
	if err != nil {
		return models.RenditionVariant{}, fmt.Errorf("read rendition: %w", err)
	}
	return variant, nil
}

func (r *postgresRepository) ListRenditions(videoID string) ([]models.RenditionVariant, error) {
	if _, ok := r.GetVideo(videoID); !ok {
		return nil, notFoundErr("video", videoID)
	}
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT video_id, resolution, size_bytes, created_at
		FROM renditions WHERE video_id = $1 ORDER BY resolution`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list renditions: %w", err)
	}
	defer rows.Close()
	variants := make([]models.RenditionVariant, 0, 4)
	for rows.Next() {
		var variant models.RenditionVariant
		if err := rows.Scan(&variant.VideoID, &variant.Resolution, &variant.SizeBytes, &variant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rendition: %w", err)
		}
		variants = append(variants, variant)
	}
	return variants, rows.Err()
}

func (r *postgresRepository) EnabledProviders() []string {
	ctx, cancel := r.opContext()
	defer cancel()
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = 'providers'`).Scan(&raw)
	if err != nil {
		return append([]string(nil), DefaultProviders...)
	}
	var providers []string
	if err := json.Unmarshal(raw, &providers); err != nil {
		return append([]string(nil), DefaultProviders...)
	}
	return providers
}

func (r *postgresRepository) SetEnabledProviders(providers []string) error {
	cleaned := make([]string, 0, len(providers))
	for _, provider := range providers {
		if trimmed := strings.ToLower(strings.TrimSpace(provider)); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `INSERT INTO settings (key, value) VALUES ('providers', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, raw)
	if err != nil {
		return fmt.Errorf("store providers: %w", err)
	}
	return nil
}

var _ Repository = (*postgresRepository)(nil)
