package distribute

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ChannelConfig configures the client for the rate-limited channel relay.
// Every artifact lands in one fixed channel and is addressed afterwards by
// the numeric message locator the relay assigns.
type ChannelConfig struct {
	BaseURL   string
	Token     string
	ChannelID string
	Client    *http.Client
	Logger    *slog.Logger
}

// ChannelClient drives the relay's persistent authenticated session. Uploads
// must be serialised by the caller; the relay rejects concurrent jobs.
type ChannelClient struct {
	baseURL   string
	token     string
	channelID string
	client    *http.Client
	logger    *slog.Logger
}

// ChannelUploadResult is the relay's locator for one stored artifact.
type ChannelUploadResult struct {
	MessageID int64
	FileID    string
	SizeBytes int64
}

func NewChannelClient(cfg ChannelConfig) (*ChannelClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("channel relay base URL is required")
	}
	channelID := strings.TrimSpace(cfg.ChannelID)
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelClient{
		baseURL:   baseURL,
		token:     strings.TrimSpace(cfg.Token),
		channelID: channelID,
		client:    cfg.Client,
		logger:    logger,
	}, nil
}

func (c *ChannelClient) Name() string { return ProviderChannel }

type channelUploadResponse struct {
	MessageID int64  `json:"messageId"`
	FileID    string `json:"fileId"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Upload ships one file into the channel and returns the relay's locator.
func (c *ChannelClient) Upload(ctx context.Context, path, title string) (ChannelUploadResult, error) {
	uploadURL := fmt.Sprintf("%s/v1/channels/%s/files", c.baseURL, c.channelID)
	fields := map[string]string{}
	if caption := strings.TrimSpace(title); caption != "" {
		fields["caption"] = caption
	}
	var response channelUploadResponse
	err := postMultipartFile(ctx, c.client, uploadURL, "file", path, fields, func(req *http.Request) {
		setBearer(req, c.token)
	}, &response)
	if err != nil {
		return ChannelUploadResult{}, upstreamErr(c.Name(), "upload", err)
	}
	if response.MessageID == 0 {
		return ChannelUploadResult{}, upstreamErr(c.Name(), "upload", fmt.Errorf("response carried no message id"))
	}
	return ChannelUploadResult{
		MessageID: response.MessageID,
		FileID:    strings.TrimSpace(response.FileID),
		SizeBytes: response.SizeBytes,
	}, nil
}

// Download streams the stored artifact addressed by messageID. The caller
// must close the returned reader.
func (c *ChannelClient) Download(ctx context.Context, messageID int64) (io.ReadCloser, int64, error) {
	downloadURL := fmt.Sprintf("%s/v1/channels/%s/messages/%d/content", c.baseURL, c.channelID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, 0, err
	}
	setBearer(req, c.token)
	client := c.client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, upstreamErr(c.Name(), "download", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, 0, upstreamErr(c.Name(), "download",
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data))))
	}
	return resp.Body, resp.ContentLength, nil
}

type channelSignedURLResponse struct {
	URL              string `json:"url"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

// SignedURL resolves a short-lived direct download URL for a stored file via
// the relay's metadata endpoint, together with its advertised validity.
func (c *ChannelClient) SignedURL(ctx context.Context, fileID string) (string, time.Duration, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return "", 0, fmt.Errorf("file id is required")
	}
	metaURL := fmt.Sprintf("%s/v1/files/%s/url", c.baseURL, fileID)
	var response channelSignedURLResponse
	err := getJSON(ctx, c.client, metaURL, func(req *http.Request) {
		setBearer(req, c.token)
	}, &response)
	if err != nil {
		return "", 0, upstreamErr(c.Name(), "resolve signed url", err)
	}
	signed := strings.TrimSpace(response.URL)
	if signed == "" {
		return "", 0, upstreamErr(c.Name(), "resolve signed url", fmt.Errorf("response carried no url"))
	}
	validity := time.Duration(response.ExpiresInSeconds) * time.Second
	return signed, validity, nil
}

// Fetch streams bytes from a previously signed URL.
func (c *ChannelClient) Fetch(ctx context.Context, signedURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, 0, err
	}
	client := c.client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, upstreamErr(c.Name(), "fetch", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, 0, upstreamErr(c.Name(), "fetch",
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data))))
	}
	return resp.Body, resp.ContentLength, nil
}
