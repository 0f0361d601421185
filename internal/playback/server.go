// Package playback serves finished export artifacts over HTTP with byte
// range support, so browsers can preview and resume downloads.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// Download describes one artifact on disk.
type Download struct {
	Path     string
	Filename string
	MimeType string

	// Header holds extra response headers, such as the IV of an encrypted blob.
	Header http.Header
}

type DownloadService interface {
	ServeDownload(w http.ResponseWriter, r *http.Request, d Download) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger}
}

// ServeDownload writes d as an attachment. GET and HEAD are supported.
func (s *Server) ServeDownload(w http.ResponseWriter, r *http.Request, d Download) error {
	file, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	size := stat.Size()

	filename := d.Filename
	if filename == "" {
		filename = filepath.Base(d.Path)
	}
	contentType := d.MimeType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	for k, vals := range d.Header {
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	br, partial, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// A malformed header is ignored and the whole file is sent.

	status := http.StatusOK
	var body io.Reader = file
	length := size
	if partial {
		if _, err := file.Seek(br.First, io.SeekStart); err != nil {
			return fmt.Errorf("seek artifact: %w", err)
		}
		status = http.StatusPartialContent
		length = br.Length()
		body = io.LimitReader(file, length)
		h.Set("Content-Range", br.Header(size))
	}

	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Debug("download interrupted", "filename", filename, "error", err)
	}
	return nil
}
