package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/clipstudio/clipstudio-agent/internal/export"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRequest() export.StoreRequest {
	return export.StoreRequest{
		ExportID: "exp-1",
		Blob:     []byte("ciphertext"),
		IV:       []byte("123456789012"),
		Salt:     []byte("saltsaltsaltsalt"),
		Filename: "demo.webm",
		Size:     10,
		MimeType: "video/webm",
	}
}

func TestHTTPStore_Save_Success(t *testing.T) {
	var gotAuth, gotIV, gotFilename, gotSize, gotMime string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/exports/exp-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIV = r.Header.Get("X-Clipstudio-IV")
		gotFilename = r.Header.Get("X-Clipstudio-Filename")
		gotSize = r.Header.Get("X-Clipstudio-Size")
		gotMime = r.Header.Get("X-Clipstudio-Mime-Type")
		gotBody, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"location": "lib://exports/exp-1"})
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "test-token", testLogger())
	res, err := store.Save(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Location != "lib://exports/exp-1" {
		t.Errorf("location = %q", res.Location)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth = %q, want %q", gotAuth, "Bearer test-token")
	}
	if iv, _ := base64.StdEncoding.DecodeString(gotIV); string(iv) != "123456789012" {
		t.Errorf("iv header = %q", gotIV)
	}
	if gotFilename != "demo.webm" || gotSize != "10" || gotMime != "video/webm" {
		t.Errorf("headers = %q %q %q", gotFilename, gotSize, gotMime)
	}
	if string(gotBody) != "ciphertext" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestHTTPStore_Save_LocationFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	res, err := NewHTTPStore(server.URL, "t", testLogger()).Save(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(res.Location, "/api/exports/exp-1") {
		t.Errorf("location = %q, want upload URL", res.Location)
	}
}

func TestHTTPStore_Save_Quota(t *testing.T) {
	for _, code := range []int{http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := NewHTTPStore(server.URL, "t", testLogger()).Save(context.Background(), testRequest())
		server.Close()
		if !errors.Is(err, export.ErrQuotaExceeded) {
			t.Errorf("HTTP %d: err = %v, want ErrQuotaExceeded", code, err)
		}
	}
}

func TestHTTPStore_Save_ReturnsUploadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"bad iv"}`))
	}))
	defer server.Close()

	_, err := NewHTTPStore(server.URL, "t", testLogger()).Save(context.Background(), testRequest())
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected UploadError, got %T", err)
	}
	if uploadErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status_code = %d, want %d", uploadErr.StatusCode, http.StatusBadRequest)
	}
	if !strings.Contains(uploadErr.Body, "bad iv") {
		t.Fatalf("body = %q", uploadErr.Body)
	}
	if errors.Is(err, export.ErrQuotaExceeded) {
		t.Error("400 should not be a quota error")
	}
}

func TestUploadError_IsRetryable(t *testing.T) {
	if !(&UploadError{StatusCode: http.StatusInternalServerError}).IsRetryable() {
		t.Fatal("expected 5xx upload error to be retryable")
	}
	if (&UploadError{StatusCode: http.StatusBadRequest}).IsRetryable() {
		t.Fatal("expected 4xx upload error to be permanent")
	}
}

func TestHTTPStore_DeviceID(t *testing.T) {
	var deviceID, requestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID = r.Header.Get("X-Clipstudio-Device-Id")
		requestID = r.Header.Get("X-Clipstudio-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "t", testLogger())
	store.SetDeviceID("device-123")
	if _, err := store.Save(context.Background(), testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deviceID != "device-123" {
		t.Errorf("device id = %q", deviceID)
	}
	if requestID == "" {
		t.Error("expected request id header")
	}
}

func TestHTTPStore_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewHTTPStore(server.URL, "t", testLogger()).Save(ctx, testRequest()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
