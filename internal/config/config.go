// Package config provides configuration management for the ClipStudio Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort            = 8797
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".clipstudio"
	DefaultFrameRate       = 30.0
	DefaultSeekTimeoutMs   = 5000
	DefaultSignalTimeoutMs = 2000
	DefaultKDFIterations   = 100000
	DefaultFormat          = "webm"
	DefaultDownloadTTL     = 900 // seconds

	// Environment variable names
	EnvPort            = "CLIPSTUDIO_PORT"
	EnvLogLevel        = "CLIPSTUDIO_LOG_LEVEL"
	EnvDataDir         = "CLIPSTUDIO_DATA_DIR"
	EnvFrameRate       = "CLIPSTUDIO_FRAME_RATE"
	EnvSeekTimeoutMs   = "CLIPSTUDIO_SEEK_TIMEOUT_MS"
	EnvSignalTimeoutMs = "CLIPSTUDIO_SIGNAL_TIMEOUT_MS"
	EnvKDFIterations   = "CLIPSTUDIO_KDF_ITERATIONS"
	EnvDefaultFormat   = "CLIPSTUDIO_DEFAULT_FORMAT"
	EnvOutputDir       = "CLIPSTUDIO_OUTPUT_DIR"
	EnvCloudBaseURL    = "CLIPSTUDIO_CLOUD_BASE_URL"
	EnvCloudToken      = "CLIPSTUDIO_CLOUD_TOKEN"
	EnvHeadless        = "CLIPSTUDIO_HEADLESS"
	EnvCORSOrigins     = "CLIPSTUDIO_CORS_ORIGINS"
	EnvFontPath        = "CLIPSTUDIO_FONT_PATH"
	EnvDownloadSecret  = "CLIPSTUDIO_DOWNLOAD_SECRET"
	EnvDownloadTTL     = "CLIPSTUDIO_DOWNLOAD_TTL_S"

	// Pipeline environment variable names
	EnvPipelinesPython = "CLIPSTUDIO_PIPELINES_PYTHON"
	EnvPipelinesModule = "CLIPSTUDIO_PIPELINES_MODULE"

	// Database filename
	DBFilename = "clipstudio.db"

	DefaultPipelinesModule = "clipstudio_analysis"
)

var defaultCORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	OutputDir() string
	VaultDir() string
	FrameRate() float64
	SeekTimeout() time.Duration
	SignalTimeout() time.Duration
	KDFIterations() int
	DefaultFormat() string
	CloudBaseURL() string
	CloudToken() string
	Headless() bool
	CORSOrigins() []string
	FontPath() string
	DownloadSecret() []byte
	DownloadTTL() time.Duration
	PipelinesPython() string
	PipelinesModule() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	dataDir       string
	outputDir     string
	frameRate     float64
	seekTimeout   time.Duration
	signalTimeout time.Duration
	kdfIterations int
	defaultFormat string
	cloudBaseURL  string
	cloudToken    string
	headless      bool
	corsOrigins   []string
	fontPath      string

	downloadSecret []byte
	downloadTTL    time.Duration

	pipelinesPython string
	pipelinesModule string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		frameRate:     DefaultFrameRate,
		seekTimeout:   DefaultSeekTimeoutMs * time.Millisecond,
		signalTimeout: DefaultSignalTimeoutMs * time.Millisecond,
		kdfIterations: DefaultKDFIterations,
		defaultFormat: DefaultFormat,
		corsOrigins:   defaultCORSOrigins,
		downloadTTL:   DefaultDownloadTTL * time.Second,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	cfg.outputDir = os.Getenv(EnvOutputDir)

	if v := os.Getenv(EnvFrameRate); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvFrameRate, err)
		}
		if fps <= 0 || fps > 120 {
			return nil, fmt.Errorf("invalid %s: frame rate must be in (0, 120]", EnvFrameRate)
		}
		cfg.frameRate = fps
	}

	var err error
	if cfg.seekTimeout, err = positiveMillis(EnvSeekTimeoutMs, cfg.seekTimeout); err != nil {
		return nil, err
	}
	if cfg.signalTimeout, err = positiveMillis(EnvSignalTimeoutMs, cfg.signalTimeout); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvKDFIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvKDFIterations, err)
		}
		if n < 10000 {
			return nil, fmt.Errorf("invalid %s: at least 10000 iterations required", EnvKDFIterations)
		}
		cfg.kdfIterations = n
	}

	if f := os.Getenv(EnvDefaultFormat); f != "" {
		cfg.defaultFormat = strings.ToLower(f)
	}

	cfg.cloudBaseURL = strings.TrimRight(os.Getenv(EnvCloudBaseURL), "/")
	cfg.cloudToken = os.Getenv(EnvCloudToken)

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if o := os.Getenv(EnvCORSOrigins); o != "" {
		cfg.corsOrigins = nil
		for _, origin := range strings.Split(o, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.corsOrigins = append(cfg.corsOrigins, origin)
			}
		}
	}

	cfg.fontPath = os.Getenv(EnvFontPath)

	if s := os.Getenv(EnvDownloadSecret); s != "" {
		cfg.downloadSecret = []byte(s)
	} else {
		// Links then only survive until restart.
		cfg.downloadSecret = randomSecret()
	}
	if v := os.Getenv(EnvDownloadTTL); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvDownloadTTL)
		}
		cfg.downloadTTL = time.Duration(secs) * time.Second
	}

	cfg.pipelinesPython = os.Getenv(EnvPipelinesPython)
	if pm := os.Getenv(EnvPipelinesModule); pm != "" {
		cfg.pipelinesModule = pm
	}

	return cfg, nil
}

func positiveMillis(env string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(env)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// OutputDir is where unencrypted exports are written.
func (c *EnvConfig) OutputDir() string {
	if c.outputDir != "" {
		return c.outputDir
	}
	return filepath.Join(c.dataDir, "exports")
}

// VaultDir holds encrypted exports when no cloud endpoint is configured.
func (c *EnvConfig) VaultDir() string {
	return filepath.Join(c.dataDir, "vault")
}

func (c *EnvConfig) FrameRate() float64 {
	return c.frameRate
}

func (c *EnvConfig) SeekTimeout() time.Duration {
	return c.seekTimeout
}

func (c *EnvConfig) SignalTimeout() time.Duration {
	return c.signalTimeout
}

func (c *EnvConfig) KDFIterations() int {
	return c.kdfIterations
}

func (c *EnvConfig) DefaultFormat() string {
	return c.defaultFormat
}

func (c *EnvConfig) CloudBaseURL() string {
	return c.cloudBaseURL
}

func (c *EnvConfig) CloudToken() string {
	return c.cloudToken
}

// CloudEnabled reports whether encrypted exports go to the cloud.
func (c *EnvConfig) CloudEnabled() bool {
	return c.cloudBaseURL != "" && c.cloudToken != ""
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

// FontPath is an optional TTF/OTF for captions. Empty uses the embedded Go Bold.
func (c *EnvConfig) FontPath() string {
	return c.fontPath
}

// DownloadSecret signs download links.
func (c *EnvConfig) DownloadSecret() []byte {
	return c.downloadSecret
}

func (c *EnvConfig) DownloadTTL() time.Duration {
	return c.downloadTTL
}

func (c *EnvConfig) PipelinesPython() string {
	return c.pipelinesPython
}

func (c *EnvConfig) PipelinesModule() string {
	if c.pipelinesModule != "" {
		return c.pipelinesModule
	}
	return DefaultPipelinesModule
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func randomSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return []byte(hex.EncodeToString(b))
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
