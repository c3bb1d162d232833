package transcode

import (
	"reflect"
	"testing"
)

func TestLabelForHeight(t *testing.T) {
	cases := []struct {
		height int
		want   Label
	}{
		{height: 2160, want: Label1080p},
		{height: 1080, want: Label1080p},
		{height: 900, want: Label1080p},
		{height: 720, want: Label720p},
		{height: 600, want: Label720p},
		{height: 480, want: Label480p},
		{height: 400, want: Label480p},
		{height: 240, want: Label240p},
		{height: 200, want: Label240p},
		{height: 144, want: Label("144p")},
	}
	for _, tc := range cases {
		if got := LabelForHeight(tc.height); got != tc.want {
			t.Errorf("LabelForHeight(%d) = %q, want %q", tc.height, got, tc.want)
		}
	}
}

func TestLadder(t *testing.T) {
	cases := []struct {
		source Label
		want   []Label
	}{
		{source: Label1080p, want: []Label{Label720p, Label480p, Label240p}},
		{source: Label720p, want: []Label{Label480p, Label240p}},
		{source: Label480p, want: []Label{Label240p}},
		{source: Label240p, want: []Label{}},
		{source: Label("weird"), want: []Label{Label480p, Label240p}},
		{source: LabelUnknown, want: []Label{Label480p, Label240p}},
	}
	for _, tc := range cases {
		got := Ladder(tc.source)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Ladder(%q) = %v, want %v", tc.source, got, tc.want)
		}
	}
}

func TestLadderDoesNotAliasOrder(t *testing.T) {
	got := Ladder(Label1080p)
	got[0] = Label("mutated")
	if ladderOrder[1] != Label720p {
		t.Fatalf("ladder order mutated through returned slice")
	}
}
