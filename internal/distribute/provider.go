// Package distribute fans uploaded videos and their renditions out to the
// configured hosting providers and owns the strictly serialised channel queue.
package distribute

import (
	"context"
	"fmt"
)

// Provider names used in SourceRecords and the settings store.
const (
	ProviderStreamtape = "streamtape"
	ProviderDoodstream = "doodstream"
	ProviderChannel    = "channel"
)

// UploadResult is the provider-confirmed locator for one distributed copy.
type UploadResult struct {
	FileID      string
	EmbedURL    string
	DownloadURL string
}

// FastProvider is a hosting backend that accepts immediate concurrent
// uploads. Implementations must be safe for concurrent use.
type FastProvider interface {
	Name() string
	Upload(ctx context.Context, path, title string) (UploadResult, error)
}

// UpstreamProviderError wraps any third-party failure so callers can
// distinguish provider trouble from local faults.
type UpstreamProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *UpstreamProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamProviderError) Unwrap() error {
	return e.Err
}

func upstreamErr(provider, op string, err error) *UpstreamProviderError {
	return &UpstreamProviderError{Provider: provider, Op: op, Err: err}
}

// UploadJob is one unit of work for the channel queue. FilePath is always a
// private copy owned by the queue, never the shared staging file.
type UploadJob struct {
	VideoID      string
	FilePath     string
	Title        string
	Resolution   string
	IsOriginal   bool
	CleanupAfter bool
	Encrypted    bool
}
