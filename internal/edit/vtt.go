package edit

import (
	"fmt"
	"strings"
)

// CaptionsToVTT renders captions as a WebVTT sidecar. Times are shifted by
// offset so the sidecar lines up with a trimmed export.
func CaptionsToVTT(captions []Caption, offset float64) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")

	n := 0
	for _, c := range captions {
		start := c.Start - offset
		end := c.End - offset
		if end <= 0 {
			continue
		}
		if start < 0 {
			start = 0
		}
		n++
		sb.WriteString(fmt.Sprintf("%d\n", n))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", formatTimestamp(start), formatTimestamp(end)))
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func formatTimestamp(seconds float64) string {
	totalMs := int(seconds*1000 + 0.5)
	h := totalMs / 3600000
	totalMs %= 3600000
	m := totalMs / 60000
	totalMs %= 60000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
