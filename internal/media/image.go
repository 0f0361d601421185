package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os/exec"

	"github.com/disintegration/imaging"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
)

// LoadImage decodes a watermark image, honoring EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}
	return img, nil
}

// ResolveWatermark decodes the watermark image from inline data or its path
// and fills in defaults. A nil watermark is left alone.
func ResolveWatermark(w *edit.Watermark) error {
	if w == nil || w.Image != nil {
		if w != nil {
			w.ApplyDefaults()
		}
		return nil
	}
	switch {
	case len(w.ImageData) > 0:
		img, err := imaging.Decode(bytes.NewReader(w.ImageData), imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("%w: decode image data: %v", edit.ErrInvalidWatermark, err)
		}
		w.Image = img
		w.ImageData = nil
	case w.ImagePath != "":
		img, err := LoadImage(w.ImagePath)
		if err != nil {
			return fmt.Errorf("%w: %v", edit.ErrInvalidWatermark, err)
		}
		w.Image = img
	default:
		return errors.Join(edit.ErrInvalidWatermark, errors.New("no image"))
	}
	w.ApplyDefaults()
	return nil
}

// FFmpegPath returns the ffmpeg binary used by file sources and the WebM
// and MP4 sinks, or "" if none is on PATH.
func FFmpegPath() string {
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ""
	}
	return p
}

// RequiresFFmpeg reports whether format is encoded through ffmpeg.
func RequiresFFmpeg(format string) bool {
	return format != FormatAVI
}
