package transcode

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable indicates that ffmpeg or ffprobe is not installed. The
// pipeline treats this as a degradation, never as a fatal error.
var ErrToolUnavailable = errors.New("transcode tool unavailable")

// CorruptArtifactError reports an encoder output too small to be a playable
// video. The artifact is deleted before the error is returned.
type CorruptArtifactError struct {
	Path      string
	SizeBytes int64
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("corrupt artifact %s: %d bytes", e.Path, e.SizeBytes)
}
