package compose

import (
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
)

// Fonts caches faces of one typeface by pixel size. Caption size follows
// canvas height so a single export only ever asks for a couple of sizes.
// A font.Face reuses its rasterizer between calls, so each cached face is
// only handed out under its own lock through WithFace.
type Fonts struct {
	mu    sync.Mutex
	font  *opentype.Font
	faces map[int]*sizedFace
}

type sizedFace struct {
	mu   sync.Mutex
	face font.Face
}

// DefaultFonts uses the embedded Go Bold typeface.
func DefaultFonts() (*Fonts, error) {
	return parseFonts(gobold.TTF)
}

// LoadFonts reads a TTF/OTF file. An empty path falls back to DefaultFonts.
func LoadFonts(path string) (*Fonts, error) {
	if path == "" {
		return DefaultFonts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	return parseFonts(data)
}

func parseFonts(data []byte) (*Fonts, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Fonts{font: f, faces: make(map[int]*sizedFace)}, nil
}

// WithFace calls fn with a face of roughly px pixels, at least 1. The face
// must not be retained after fn returns.
func (f *Fonts) WithFace(px float64, fn func(font.Face)) error {
	sf, err := f.face(px)
	if err != nil {
		return err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	fn(sf.face)
	return nil
}

func (f *Fonts) face(px float64) (*sizedFace, error) {
	size := int(math.Round(px))
	if size < 1 {
		size = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if sf, ok := f.faces[size]; ok {
		return sf, nil
	}
	face, err := opentype.NewFace(f.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	sf := &sizedFace{face: face}
	f.faces[size] = sf
	return sf, nil
}

func (f *Fonts) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for size, sf := range f.faces {
		sf.mu.Lock()
		err := sf.face.Close()
		sf.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.faces, size)
	}
	return firstErr
}
