package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clipstudio/clipstudio-agent/internal/export"
)

// UploadError is a non-2xx response from the artifact endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("artifact upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPStore uploads encrypted artifacts to the cloud library.
type HTTPStore struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPStore(baseURL, token string, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

func (s *HTTPStore) SetDeviceID(id string) {
	s.deviceID = id
}

type uploadResponse struct {
	Location string `json:"location"`
}

// Save POSTs the ciphertext. IV and salt travel base64-encoded in headers so
// the body is the raw blob.
func (s *HTTPStore) Save(ctx context.Context, req export.StoreRequest) (export.StoreResult, error) {
	url := fmt.Sprintf("%s/api/exports/%s", s.baseURL, req.ExportID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Blob))
	if err != nil {
		return export.StoreResult{}, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Authorization", "Bearer "+s.token)
	httpReq.Header.Set("X-Clipstudio-Request-Id", uuid.NewString())
	httpReq.Header.Set("X-Clipstudio-IV", base64.StdEncoding.EncodeToString(req.IV))
	httpReq.Header.Set("X-Clipstudio-Salt", base64.StdEncoding.EncodeToString(req.Salt))
	httpReq.Header.Set("X-Clipstudio-Filename", req.Filename)
	httpReq.Header.Set("X-Clipstudio-Size", strconv.FormatInt(req.Size, 10))
	httpReq.Header.Set("X-Clipstudio-Mime-Type", req.MimeType)
	if s.deviceID != "" {
		httpReq.Header.Set("X-Clipstudio-Device-Id", s.deviceID)
	}

	s.logger.Info("uploading artifact to cloud",
		"url", url,
		"export_id", req.ExportID,
		"body_bytes", len(req.Blob),
	)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return export.StoreResult{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result uploadResponse
		if err := json.Unmarshal(respBody, &result); err != nil || result.Location == "" {
			result.Location = url
		}
		s.logger.Info("artifact upload succeeded", "export_id", req.ExportID)
		return export.StoreResult{Location: result.Location}, nil
	case resp.StatusCode == http.StatusRequestEntityTooLarge, resp.StatusCode == http.StatusInsufficientStorage:
		return export.StoreResult{}, fmt.Errorf("%w: HTTP %d", export.ErrQuotaExceeded, resp.StatusCode)
	}

	return export.StoreResult{}, &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
}
