package pipelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

// Runner executes the analysis CLI as subprocesses.
type Runner interface {
	// RunDoctor executes `python -m <module> doctor --json --out <path>`.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// RunLoudness measures per-window audio level.
	RunLoudness(ctx context.Context, videoPath, outPath string) (RunResult, error)

	// RunSpeech transcribes the audio track.
	RunSpeech(ctx context.Context, videoPath, outPath string) (RunResult, error)

	// RunImportance scores spans using the transcript at speechResultPath.
	RunImportance(ctx context.Context, videoPath, speechResultPath, outPath string) (RunResult, error)

	// ValidateOutput reads an output JSON and checks required fields.
	ValidateOutput(path string) (*PipelineOutput, error)

	ArtifactsDir() string
}

type Config struct {
	PythonPath        string // empty = auto-detect
	ModuleName        string
	ArtifactsBase     string
	DoctorTimeout     time.Duration
	LoudnessTimeout   time.Duration
	SpeechTimeout     time.Duration
	ImportanceTimeout time.Duration
	Logger            *slog.Logger
	DebugPaths        bool // log full file paths instead of sanitised ones
}

const DefaultModule = "clipstudio_analysis"

func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		ModuleName:        DefaultModule,
		ArtifactsBase:     filepath.Join(dataDir, "analysis"),
		DoctorTimeout:     30 * time.Second,
		LoudnessTimeout:   5 * time.Minute,
		SpeechTimeout:     30 * time.Minute,
		ImportanceTimeout: 10 * time.Minute,
		Logger:            logger,
	}
}

// SubprocessRunner is the production Runner.
type SubprocessRunner struct {
	cfg    Config
	python string
}

func NewRunner(cfg Config) (*SubprocessRunner, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create analysis dir: %w", err)
	}

	cfg.Logger.Info("analysis runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"analysis_dir", cfg.ArtifactsBase,
	)

	return &SubprocessRunner{cfg: cfg, python: python}, nil
}

func (r *SubprocessRunner) ArtifactsDir() string {
	return r.cfg.ArtifactsBase
}

func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.ArtifactsBase, ".doctor.json")

	result := r.run(ctx, r.cfg.DoctorTimeout, outPath, func(out string) []string {
		return []string{"doctor", "--json", "--out", out}
	})
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}
	return parseCapabilities(data, r.cfg.Logger)
}

func parseCapabilities(data []byte, logger *slog.Logger) (*Capabilities, error) {
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	caps.HasLoudness = isAvailable(caps.Executables, "ffmpeg")
	caps.HasSpeech = isAvailable(caps.Dependencies, "whisper") &&
		isAvailable(caps.Executables, "ffmpeg")
	caps.HasImportance = caps.HasSpeech && isAvailable(caps.Dependencies, "sentence_transformers")
	caps.ProbedAt = time.Now()

	if logger != nil {
		logger.Info("doctor probe complete",
			"loudness", caps.HasLoudness,
			"speech", caps.HasSpeech,
			"importance", caps.HasImportance,
			"deps_available", caps.Summary.Available,
			"deps_total", caps.Summary.Total,
		)
	}
	return &caps, nil
}

func (r *SubprocessRunner) RunLoudness(ctx context.Context, videoPath, outPath string) (RunResult, error) {
	return r.run(ctx, r.cfg.LoudnessTimeout, outPath, func(out string) []string {
		return []string{"loudness", "--video", videoPath, "--window-ms", "100", "--out", out}
	}), nil
}

func (r *SubprocessRunner) RunSpeech(ctx context.Context, videoPath, outPath string) (RunResult, error) {
	return r.run(ctx, r.cfg.SpeechTimeout, outPath, func(out string) []string {
		return []string{"speech", "transcribe", "--video", videoPath, "--word-timestamps", "--out", out}
	}), nil
}

func (r *SubprocessRunner) RunImportance(ctx context.Context, videoPath, speechResultPath, outPath string) (RunResult, error) {
	return r.run(ctx, r.cfg.ImportanceTimeout, outPath, func(out string) []string {
		return []string{"importance", "score", "--video", videoPath, "--speech-result", speechResultPath, "--out", out}
	}), nil
}

func (r *SubprocessRunner) ValidateOutput(path string) (*PipelineOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read output file %s: %w", r.safePath(path), err)
	}
	return validateOutput(data)
}

func validateOutput(data []byte) (*PipelineOutput, error) {
	var out PipelineOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}

	if !out.RequiredFieldsPresent() {
		missing := []string{}
		if out.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if out.PipelineVersion == "" {
			missing = append(missing, "pipeline_version")
		}
		if out.ModelVersion == "" {
			missing = append(missing, "model_version")
		}
		return &out, fmt.Errorf("pipeline output missing required fields: %s", strings.Join(missing, ", "))
	}

	return &out, nil
}

// run executes `python -m <module> args(tmp)` under timeout. The CLI writes
// to a temporary sibling of outPath which is renamed into place only on a
// clean exit, so a killed run never leaves a half-written output that the
// analyzer would later treat as cached.
func (r *SubprocessRunner) run(ctx context.Context, timeout time.Duration, outPath string, args func(out string) []string) RunResult {
	start := time.Now()
	failed := func(err error) RunResult {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		r.cfg.Logger.Error("cannot create output dir", "error", err)
		return failed(err)
	}
	tmpPath := outPath + ".partial"
	defer os.Remove(tmpPath)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args(tmpPath)...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.WaitDelay = 5 * time.Second
	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	logger := r.cfg.Logger.With("command", cmdArgs[2])
	logger.Info("executing analysis command", "args", cmdArgs)

	exitCode := 0
	if err := cmd.Run(); err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			exitCode = exitErr.ExitCode()
		}
	}
	elapsed := time.Since(start)

	if exitCode == 0 {
		if err := os.Rename(tmpPath, outPath); err != nil {
			logger.Warn("analysis command produced no output", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: elapsed}
		}
		logger.Info("analysis command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	} else {
		logger.Warn("analysis command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderr.String(), 512),
			"timed_out", errors.Is(ctx.Err(), context.DeadlineExceeded),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderr.String(),
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// tailBuffer is an io.Writer that retains only the last limit bytes.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) >= t.limit {
		t.buf = append(t.buf[:0], p[len(p)-t.limit:]...)
		return len(p), nil
	}
	if over := len(t.buf) + len(p) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
