package distribute

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DoodstreamConfig configures the DoodStream fast provider.
type DoodstreamConfig struct {
	BaseURL  string
	EmbedURL string
	Key      string
	Client   *http.Client
	Logger   *slog.Logger
}

// Doodstream uploads through the two-step flow: resolve an upload server,
// then post the file with the API key as a form field.
type Doodstream struct {
	baseURL  string
	embedURL string
	key      string
	client   *http.Client
	logger   *slog.Logger
}

func NewDoodstream(cfg DoodstreamConfig) *Doodstream {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://doodapi.com/api"
	}
	embedURL := strings.TrimRight(strings.TrimSpace(cfg.EmbedURL), "/")
	if embedURL == "" {
		embedURL = "https://dood.li/e"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Doodstream{
		baseURL:  baseURL,
		embedURL: embedURL,
		key:      strings.TrimSpace(cfg.Key),
		client:   cfg.Client,
		logger:   logger,
	}
}

func (d *Doodstream) Name() string { return ProviderDoodstream }

type doodServerResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Result string `json:"result"`
}

type doodUploadResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Result []struct {
		Filecode string `json:"filecode"`
	} `json:"result"`
}

func (d *Doodstream) Upload(ctx context.Context, path, title string) (UploadResult, error) {
	query := url.Values{}
	query.Set("key", d.key)
	serverURL := fmt.Sprintf("%s/upload/server?%s", d.baseURL, query.Encode())

	var server doodServerResponse
	if err := getJSON(ctx, d.client, serverURL, nil, &server); err != nil {
		return UploadResult{}, upstreamErr(d.Name(), "request upload server", err)
	}
	if server.Status != http.StatusOK || strings.TrimSpace(server.Result) == "" {
		return UploadResult{}, upstreamErr(d.Name(), "request upload server",
			fmt.Errorf("status %d: %s", server.Status, server.Msg))
	}

	var uploaded doodUploadResponse
	fields := map[string]string{"api_key": d.key}
	if err := postMultipartFile(ctx, d.client, strings.TrimSpace(server.Result), "file", path, fields, nil, &uploaded); err != nil {
		return UploadResult{}, upstreamErr(d.Name(), "upload", err)
	}
	if uploaded.Status != http.StatusOK || len(uploaded.Result) == 0 {
		return UploadResult{}, upstreamErr(d.Name(), "upload",
			fmt.Errorf("status %d: %s", uploaded.Status, uploaded.Msg))
	}
	filecode := strings.TrimSpace(uploaded.Result[0].Filecode)
	if filecode == "" {
		return UploadResult{}, upstreamErr(d.Name(), "upload", fmt.Errorf("response carried no filecode"))
	}
	return UploadResult{
		FileID:   filecode,
		EmbedURL: fmt.Sprintf("%s/%s", d.embedURL, filecode),
	}, nil
}
