package transcode

import (
	"context"
	"errors"
	"testing"
)

func TestAvailableCachesLookup(t *testing.T) {
	calls := 0
	engine := NewEngine(Config{})
	engine.lookPath = func(string) (string, error) {
		calls++
		return "", errors.New("not found")
	}
	if engine.Available() {
		t.Fatalf("expected encoder to be unavailable")
	}
	if engine.Available() {
		t.Fatalf("expected cached unavailable result")
	}
	if calls != 1 {
		t.Fatalf("lookPath called %d times, want 1", calls)
	}
}

func TestTranscodeWithoutEncoder(t *testing.T) {
	engine := NewEngine(Config{})
	engine.lookPath = func(string) (string, error) {
		return "", errors.New("not found")
	}
	_, err := engine.Transcode(context.Background(), "in.mp4", t.TempDir(), []Label{Label480p})
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("Transcode error = %v, want ErrToolUnavailable", err)
	}
}

func TestProbeWithoutTool(t *testing.T) {
	engine := NewEngine(Config{})
	engine.lookPath = func(string) (string, error) {
		return "", errors.New("not found")
	}
	_, err := engine.Probe(context.Background(), "in.mp4")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("Probe error = %v, want ErrToolUnavailable", err)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{seconds: 0, want: "00:00:00.000"},
		{seconds: 1.5, want: "00:00:01.500"},
		{seconds: 61, want: "00:01:01.000"},
		{seconds: 3661.25, want: "01:01:01.250"},
	}
	for _, tc := range cases {
		if got := formatTimestamp(tc.seconds); got != tc.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestCorruptArtifactError(t *testing.T) {
	err := &CorruptArtifactError{Path: "out.mp4", SizeBytes: 12}
	var corrupt *CorruptArtifactError
	if !errors.As(err, &corrupt) {
		t.Fatalf("errors.As failed for CorruptArtifactError")
	}
	if corrupt.SizeBytes != 12 {
		t.Fatalf("unexpected size %d", corrupt.SizeBytes)
	}
}
