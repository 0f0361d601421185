package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/clipstudio-test")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.FrameRate() != 30 {
		t.Errorf("FrameRate = %v, want 30", cfg.FrameRate())
	}
	if cfg.SeekTimeout() != 5*time.Second {
		t.Errorf("SeekTimeout = %v, want 5s", cfg.SeekTimeout())
	}
	if cfg.SignalTimeout() != 2*time.Second {
		t.Errorf("SignalTimeout = %v, want 2s", cfg.SignalTimeout())
	}
	if cfg.KDFIterations() != 100000 {
		t.Errorf("KDFIterations = %d, want 100000", cfg.KDFIterations())
	}
	if cfg.DefaultFormat() != "webm" {
		t.Errorf("DefaultFormat = %q, want webm", cfg.DefaultFormat())
	}
	if cfg.OutputDir() != filepath.Join("/tmp/clipstudio-test", "exports") {
		t.Errorf("OutputDir = %q", cfg.OutputDir())
	}
	if cfg.DBPath() != filepath.Join("/tmp/clipstudio-test", DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.PipelinesModule() != DefaultPipelinesModule {
		t.Errorf("PipelinesModule = %q", cfg.PipelinesModule())
	}
	if cfg.CloudEnabled() {
		t.Error("cloud should be disabled without URL and token")
	}
	if len(cfg.DownloadSecret()) == 0 {
		t.Error("expected a generated download secret")
	}
	if cfg.DownloadTTL() != 15*time.Minute {
		t.Errorf("DownloadTTL = %v, want 15m", cfg.DownloadTTL())
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvFrameRate, "24")
	t.Setenv(EnvSeekTimeoutMs, "1500")
	t.Setenv(EnvDefaultFormat, "MP4")
	t.Setenv(EnvOutputDir, "/tmp/out")
	t.Setenv(EnvCloudBaseURL, "https://cloud.example/")
	t.Setenv(EnvCloudToken, "tok")
	t.Setenv(EnvHeadless, "true")
	t.Setenv(EnvCORSOrigins, "http://a.test, http://b.test,")
	t.Setenv(EnvDownloadSecret, "s3cret")
	t.Setenv(EnvDownloadTTL, "60")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != 9000 {
		t.Errorf("Port = %d", cfg.Port())
	}
	if cfg.FrameRate() != 24 {
		t.Errorf("FrameRate = %v", cfg.FrameRate())
	}
	if cfg.SeekTimeout() != 1500*time.Millisecond {
		t.Errorf("SeekTimeout = %v", cfg.SeekTimeout())
	}
	if cfg.DefaultFormat() != "mp4" {
		t.Errorf("DefaultFormat = %q", cfg.DefaultFormat())
	}
	if cfg.OutputDir() != "/tmp/out" {
		t.Errorf("OutputDir = %q", cfg.OutputDir())
	}
	if cfg.CloudBaseURL() != "https://cloud.example" || !cfg.CloudEnabled() {
		t.Errorf("cloud = %q enabled=%v", cfg.CloudBaseURL(), cfg.CloudEnabled())
	}
	if !cfg.Headless() {
		t.Error("Headless should be true")
	}
	if got := strings.Join(cfg.CORSOrigins(), "|"); got != "http://a.test|http://b.test" {
		t.Errorf("CORSOrigins = %q", got)
	}
	if string(cfg.DownloadSecret()) != "s3cret" {
		t.Errorf("DownloadSecret = %q", cfg.DownloadSecret())
	}
	if cfg.DownloadTTL() != time.Minute {
		t.Errorf("DownloadTTL = %v", cfg.DownloadTTL())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{EnvPort, "abc"},
		{EnvPort, "70000"},
		{EnvFrameRate, "fast"},
		{EnvFrameRate, "0"},
		{EnvSeekTimeoutMs, "-1"},
		{EnvSignalTimeoutMs, "soon"},
		{EnvKDFIterations, "100"},
		{EnvHeadless, "maybe"},
		{EnvDownloadTTL, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("expected error for %s=%q", tt.env, tt.value)
			} else if !strings.Contains(err.Error(), tt.env) {
				t.Errorf("error %q should name %s", err, tt.env)
			}
		})
	}
}
