package transcode

import "fmt"

// Label names one rung of the rendition ladder.
type Label string

const (
	Label1080p Label = "1080p"
	Label720p  Label = "720p"
	Label480p  Label = "480p"
	Label240p  Label = "240p"

	// LabelUnknown is reported when probing fails or finds no video stream.
	LabelUnknown Label = "unknown"
)

// ladderOrder fixes the ladder from highest to lowest quality. Ladder
// derivation and rendition encoding both index into this table.
var ladderOrder = []Label{Label1080p, Label720p, Label480p, Label240p}

type renditionProfile struct {
	height    int
	minHeight int
	bitrate   string
}

var renditionProfiles = map[Label]renditionProfile{
	Label1080p: {height: 1080, minHeight: 900, bitrate: "3000k"},
	Label720p:  {height: 720, minHeight: 600, bitrate: "1500k"},
	Label480p:  {height: 480, minHeight: 400, bitrate: "800k"},
	Label240p:  {height: 240, minHeight: 200, bitrate: "300k"},
}

// LabelForHeight maps a detected pixel height onto the discrete label set.
// Heights below the smallest rung keep their literal height so operators can
// see what was actually probed.
func LabelForHeight(height int) Label {
	for _, label := range ladderOrder {
		if height >= renditionProfiles[label].minHeight {
			return label
		}
	}
	return Label(fmt.Sprintf("%dp", height))
}

// Ladder returns the renditions to produce for a source at the given label:
// the strict suffix of the ladder below the source's rung. Labels outside the
// ladder fall back to the two safe mid/low rungs.
func Ladder(source Label) []Label {
	for i, label := range ladderOrder {
		if label == source {
			return append([]Label(nil), ladderOrder[i+1:]...)
		}
	}
	return []Label{Label480p, Label240p}
}
