package distribute

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// StreamtapeConfig configures the Streamtape fast provider.
type StreamtapeConfig struct {
	BaseURL  string
	EmbedURL string
	Login    string
	Key      string
	Client   *http.Client
	Logger   *slog.Logger
}

// Streamtape uploads through the two-step flow: request an upload server URL,
// then post the file to it.
type Streamtape struct {
	baseURL  string
	embedURL string
	login    string
	key      string
	client   *http.Client
	logger   *slog.Logger
}

func NewStreamtape(cfg StreamtapeConfig) *Streamtape {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.streamtape.com"
	}
	embedURL := strings.TrimRight(strings.TrimSpace(cfg.EmbedURL), "/")
	if embedURL == "" {
		embedURL = "https://streamtape.com/e"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamtape{
		baseURL:  baseURL,
		embedURL: embedURL,
		login:    strings.TrimSpace(cfg.Login),
		key:      strings.TrimSpace(cfg.Key),
		client:   cfg.Client,
		logger:   logger,
	}
}

func (s *Streamtape) Name() string { return ProviderStreamtape }

type streamtapeEnvelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Result streamtapeResult `json:"result"`
}

type streamtapeResult struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

func (s *Streamtape) Upload(ctx context.Context, path, title string) (UploadResult, error) {
	query := url.Values{}
	query.Set("login", s.login)
	query.Set("key", s.key)
	serverURL := fmt.Sprintf("%s/file/ul?%s", s.baseURL, query.Encode())

	var server streamtapeEnvelope
	if err := getJSON(ctx, s.client, serverURL, nil, &server); err != nil {
		return UploadResult{}, upstreamErr(s.Name(), "request upload server", err)
	}
	if server.Status != http.StatusOK || server.Result.URL == "" {
		return UploadResult{}, upstreamErr(s.Name(), "request upload server",
			fmt.Errorf("status %d: %s", server.Status, server.Msg))
	}

	var uploaded streamtapeEnvelope
	if err := postMultipartFile(ctx, s.client, server.Result.URL, "file1", path, nil, nil, &uploaded); err != nil {
		return UploadResult{}, upstreamErr(s.Name(), "upload", err)
	}
	if uploaded.Status != http.StatusOK {
		return UploadResult{}, upstreamErr(s.Name(), "upload",
			fmt.Errorf("status %d: %s", uploaded.Status, uploaded.Msg))
	}
	fileID := strings.TrimSpace(uploaded.Result.ID)
	if fileID == "" {
		fileID = lastPathSegment(uploaded.Result.URL)
	}
	if fileID == "" {
		return UploadResult{}, upstreamErr(s.Name(), "upload", fmt.Errorf("response carried no file id"))
	}
	return UploadResult{
		FileID:   fileID,
		EmbedURL: fmt.Sprintf("%s/%s/", s.embedURL, fileID),
	}, nil
}

func lastPathSegment(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
