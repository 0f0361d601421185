package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestMimeType(t *testing.T) {
	tests := map[string]string{
		"webm": "video/webm",
		"MP4":  "video/mp4",
		"avi":  "video/x-msvideo",
		"gif":  "",
	}
	for format, want := range tests {
		if got := MimeType(format); got != want {
			t.Errorf("MimeType(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestNewSinkFactory_Unsupported(t *testing.T) {
	if _, err := NewSinkFactory("gif", SinkOptions{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestMJPEGSink_Finalize(t *testing.T) {
	dir := t.TempDir()
	f, err := NewSinkFactory(FormatAVI, SinkOptions{TempDir: dir})
	if err != nil {
		t.Fatalf("NewSinkFactory error = %v", err)
	}
	if f.MimeType() != "video/x-msvideo" {
		t.Fatalf("MimeType = %q", f.MimeType())
	}

	sink, err := f.NewSink(32, 24, 30)
	if err != nil {
		t.Fatalf("NewSink error = %v", err)
	}
	frame := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < 3; i++ {
		frame.SetRGBA(i, i, color.RGBA{255, 0, 0, 255})
		if err := sink.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame error = %v", err)
		}
	}

	data, err := sink.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize error = %v", err)
	}
	if len(data) < 12 || !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("AVI ")) {
		t.Fatalf("output is not an AVI container: % x", data[:min(12, len(data))])
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp output left behind: %v", entries)
	}
	if _, err := sink.Finalize(context.Background()); err == nil {
		t.Fatal("second Finalize should fail")
	}
}

func TestMJPEGSink_Discard(t *testing.T) {
	dir := t.TempDir()
	f, _ := NewSinkFactory(FormatAVI, SinkOptions{TempDir: dir})
	sink, err := f.NewSink(16, 16, 10)
	if err != nil {
		t.Fatalf("NewSink error = %v", err)
	}
	_ = sink.WriteFrame(image.NewRGBA(image.Rect(0, 0, 16, 16)))

	if err := sink.Discard(); err != nil {
		t.Fatalf("Discard error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("partial output not removed: %v", entries)
	}
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 40, 20))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("bounds = %v", b)
	}

	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
