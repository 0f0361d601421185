package playback

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abc.enc")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServeDownload_Full(t *testing.T) {
	s := NewServer(nil)
	path := writeArtifact(t)

	req := httptest.NewRequest(http.MethodGet, "/downloads/x", nil)
	rec := httptest.NewRecorder()
	hdr := http.Header{}
	hdr.Set("X-Clipstudio-IV", "aXY=")
	if err := s.ServeDownload(rec, req, Download{Path: path, Filename: "demo.webm", MimeType: "video/webm", Header: hdr}); err != nil {
		t.Fatalf("ServeDownload() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/webm" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `filename=demo.webm`) {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Header().Get("X-Clipstudio-IV") != "aXY=" {
		t.Error("extra header not copied")
	}
}

func TestServeDownload_Range(t *testing.T) {
	s := NewServer(nil)
	path := writeArtifact(t)

	req := httptest.NewRequest(http.MethodGet, "/downloads/x", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	if err := s.ServeDownload(rec, req, Download{Path: path}); err != nil {
		t.Fatalf("ServeDownload() error = %v", err)
	}

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "2345" {
		t.Errorf("body = %q, want 2345", body)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "abc.enc") {
		t.Errorf("Content-Disposition = %q, want file base name", got)
	}
}

func TestServeDownload_Unsatisfiable(t *testing.T) {
	s := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/downloads/x", nil)
	req.Header.Set("Range", "bytes=50-")
	rec := httptest.NewRecorder()
	if err := s.ServeDownload(rec, req, Download{Path: writeArtifact(t)}); err != nil {
		t.Fatalf("ServeDownload() error = %v", err)
	}
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("status = %d, want 416", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeDownload_MalformedRangeServesAll(t *testing.T) {
	s := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/downloads/x", nil)
	req.Header.Set("Range", "pages=1")
	rec := httptest.NewRecorder()
	if err := s.ServeDownload(rec, req, Download{Path: writeArtifact(t)}); err != nil {
		t.Fatalf("ServeDownload() error = %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.Len() != 10 {
		t.Errorf("status = %d, len = %d", rec.Code, rec.Body.Len())
	}
}

func TestServeDownload_HeadAndMissing(t *testing.T) {
	s := NewServer(nil)

	req := httptest.NewRequest(http.MethodHead, "/downloads/x", nil)
	rec := httptest.NewRecorder()
	if err := s.ServeDownload(rec, req, Download{Path: writeArtifact(t)}); err != nil {
		t.Fatalf("ServeDownload() error = %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("HEAD status = %d, body len = %d", rec.Code, rec.Body.Len())
	}
	if rec.Header().Get("Content-Length") != "10" {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/downloads/x", nil)
	if err := s.ServeDownload(rec, req, Download{Path: filepath.Join(t.TempDir(), "gone")}); err != nil {
		t.Fatalf("ServeDownload() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}
