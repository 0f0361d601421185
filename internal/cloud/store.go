package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/export"
)

// LocalStore keeps encrypted artifacts under a directory when no cloud
// endpoint is configured. Each export is {id}.enc plus {id}.json metadata.
type LocalStore struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// Metadata is what LocalStore writes next to each blob.
type Metadata struct {
	ExportID  string    `json:"export_id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
	IV        []byte    `json:"iv"`
	Salt      []byte    `json:"salt"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLocalStore stores under dir. maxBytes <= 0 means unlimited.
func NewLocalStore(dir string, maxBytes int64, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes, logger: logger}
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Save(ctx context.Context, req export.StoreRequest) (export.StoreResult, error) {
	if err := ctx.Err(); err != nil {
		return export.StoreResult{}, err
	}
	if req.ExportID == "" {
		return export.StoreResult{}, errors.New("export id is required")
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return export.StoreResult{}, fmt.Errorf("create store dir: %w", err)
	}

	if s.maxBytes > 0 {
		used, err := s.usage()
		if err != nil {
			return export.StoreResult{}, err
		}
		if used+int64(len(req.Blob)) > s.maxBytes {
			return export.StoreResult{}, fmt.Errorf("%w: %d of %d bytes used", export.ErrQuotaExceeded, used, s.maxBytes)
		}
	}

	blobPath := s.BlobPath(req.ExportID)
	if err := os.WriteFile(blobPath, req.Blob, 0600); err != nil {
		return export.StoreResult{}, fmt.Errorf("write blob: %w", err)
	}

	meta := Metadata{
		ExportID:  req.ExportID,
		Filename:  req.Filename,
		Size:      req.Size,
		MimeType:  req.MimeType,
		IV:        req.IV,
		Salt:      req.Salt,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.Remove(blobPath)
		return export.StoreResult{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(req.ExportID), data, 0600); err != nil {
		os.Remove(blobPath)
		return export.StoreResult{}, fmt.Errorf("write metadata: %w", err)
	}

	s.logger.Info("stored encrypted artifact", "export_id", req.ExportID, "bytes", len(req.Blob))
	return export.StoreResult{Location: blobPath}, nil
}

// Load returns the metadata written for id.
func (s *LocalStore) Load(id string) (*Metadata, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

func (s *LocalStore) BlobPath(id string) string {
	return filepath.Join(s.dir, id+".enc")
}

func (s *LocalStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *LocalStore) usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".enc" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure store usage: %w", err)
	}
	return total, nil
}

// NewStore picks the cloud endpoint when configured, else a LocalStore.
func NewStore(baseURL, token, localDir string, logger *slog.Logger) export.Store {
	if baseURL != "" && token != "" {
		return NewHTTPStore(baseURL, token, logger)
	}
	return NewLocalStore(localDir, 0, logger)
}
