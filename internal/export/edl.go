package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/clipstudio/clipstudio-agent/internal/render"
)

// Cut is one retained span of the source, in milliseconds.
type Cut struct {
	Name      string
	MediaPath string
	StartMs   int
	EndMs     int
}

// CutsFromSegments turns rendered source segments into EDL events.
func CutsFromSegments(segments []render.Segment, mediaPath string) []Cut {
	cuts := make([]Cut, 0, len(segments))
	for i, s := range segments {
		cuts = append(cuts, Cut{
			Name:      fmt.Sprintf("Cut %d", i+1),
			MediaPath: mediaPath,
			StartMs:   int(math.Round(s.Start * 1000)),
			EndMs:     int(math.Round(s.End * 1000)),
		})
	}
	return cuts
}

// GenerateEDL writes a CMX3600 cut list. Record timecodes run contiguously,
// so the list also documents what time-skip removed.
func GenerateEDL(cuts []Cut, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordOffsetMs := 0
	for i, cut := range cuts {
		durationMs := cut.EndMs - cut.StartMs
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s",
				i+1, "AX", "V",
				msToTimecode(cut.StartMs, fps),
				msToTimecode(cut.EndMs, fps),
				msToTimecode(recordOffsetMs, fps),
				msToTimecode(recordOffsetMs+durationMs, fps),
			),
			fmt.Sprintf("* FROM CLIP NAME:  %s", cut.Name),
		)
		if cut.MediaPath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", cut.MediaPath))
		}
		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
