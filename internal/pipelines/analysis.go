package pipelines

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipstudio/clipstudio-agent/internal/timeskip"
)

// DefaultSilenceThresholdDbfs applies when the loudness output omits one.
const DefaultSilenceThresholdDbfs = -50.0

var ErrNoSignal = errors.New("no analysis data covers the requested span")

// Analysis serves loaded pipeline outputs through the time-skip ports.
type Analysis struct {
	loudness   *LoudnessOutput
	speech     *SpeechOutput
	importance *ImportanceOutput
}

// Ports exposes only the signals that were loaded.
func (a *Analysis) Ports() timeskip.Ports {
	var p timeskip.Ports
	if a == nil {
		return p
	}
	if a.loudness != nil {
		p.Silence = a
	}
	if a.speech != nil {
		p.Transcriber = a
	}
	if a.importance != nil {
		p.Importance = a
	}
	return p
}

// IsSilent reports whether the loudness window containing t is below threshold.
func (a *Analysis) IsSilent(ctx context.Context, t float64) (bool, error) {
	if a.loudness == nil {
		return false, ErrNoSignal
	}
	threshold := a.loudness.SilenceThresholdDbfs
	if threshold == 0 {
		threshold = DefaultSilenceThresholdDbfs
	}
	ms := int(t * 1000)
	for _, s := range a.loudness.Samples {
		if ms >= s.StartMs && ms < s.EndMs {
			return s.Dbfs < threshold, nil
		}
	}
	return false, nil
}

// Transcribe joins every speech segment overlapping [start, end).
func (a *Analysis) Transcribe(ctx context.Context, start, end float64) (string, error) {
	if a.speech == nil {
		return "", ErrNoSignal
	}
	lo, hi := int(start*1000), int(end*1000)
	var parts []string
	for _, s := range a.speech.Segments {
		if s.StartMs < hi && s.EndMs > lo {
			parts = append(parts, strings.TrimSpace(s.Text))
		}
	}
	return strings.Join(parts, " "), nil
}

// Score is the overlap-weighted mean importance over [start, end).
func (a *Analysis) Score(ctx context.Context, start, end float64) (float64, error) {
	if a.importance == nil {
		return 0, ErrNoSignal
	}
	lo, hi := int(start*1000), int(end*1000)
	var weighted, total float64
	for _, s := range a.importance.Segments {
		overlap := min(hi, s.EndMs) - max(lo, s.StartMs)
		if overlap <= 0 {
			continue
		}
		weighted += s.Score * float64(overlap)
		total += float64(overlap)
	}
	if total == 0 {
		return 0, ErrNoSignal
	}
	return weighted / total, nil
}

// LoadAnalysis reads output files. Empty paths are skipped.
func LoadAnalysis(loudnessPath, speechPath, importancePath string) (*Analysis, error) {
	a := &Analysis{}
	if loudnessPath != "" {
		a.loudness = &LoudnessOutput{}
		if err := loadOutput(loudnessPath, a.loudness); err != nil {
			return nil, err
		}
	}
	if speechPath != "" {
		a.speech = &SpeechOutput{}
		if err := loadOutput(speechPath, a.speech); err != nil {
			return nil, err
		}
	}
	if importancePath != "" {
		a.importance = &ImportanceOutput{}
		if err := loadOutput(importancePath, a.importance); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func loadOutput(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", filepath.Base(path), err)
	}
	if _, err := validateOutput(data); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Analyzer runs whichever pipelines the enabled time-skip options need and
// caches their outputs next to each other per recording.
type Analyzer struct {
	runner Runner
	doctor *CachedDoctor
	logger *slog.Logger
}

func NewAnalyzer(runner Runner, doctor *CachedDoctor, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{runner: runner, doctor: doctor, logger: logger}
}

// Analyze never fails the export: missing capabilities or failed runs leave
// the matching port unset and are logged.
func (a *Analyzer) Analyze(ctx context.Context, videoPath string, opts timeskip.Options) *Analysis {
	out := &Analysis{}
	if a == nil || a.runner == nil || !opts.Enabled() {
		return out
	}

	caps, err := a.doctor.Get(ctx)
	if err != nil {
		a.logger.Warn("analysis unavailable, exporting without time-skip signals", "error", err)
		return out
	}

	dir, err := a.cacheDir(videoPath)
	if err != nil {
		a.logger.Warn("cannot prepare analysis dir", "error", err)
		return out
	}

	if opts.RemoveSilence && caps.HasLoudness {
		path := filepath.Join(dir, "loudness.json")
		if a.ensure(ctx, "loudness", path, func() (RunResult, error) {
			return a.runner.RunLoudness(ctx, videoPath, path)
		}) {
			out.loudness = &LoudnessOutput{}
			if err := loadOutput(path, out.loudness); err != nil {
				a.logger.Warn("discarding loudness output", "error", err)
				out.loudness = nil
			}
		}
	}

	speechPath := filepath.Join(dir, "speech.json")
	haveSpeech := false
	if (opts.RemoveFillers || opts.AdjustSpeed) && caps.HasSpeech {
		haveSpeech = a.ensure(ctx, "speech", speechPath, func() (RunResult, error) {
			return a.runner.RunSpeech(ctx, videoPath, speechPath)
		})
		if haveSpeech && opts.RemoveFillers {
			out.speech = &SpeechOutput{}
			if err := loadOutput(speechPath, out.speech); err != nil {
				a.logger.Warn("discarding speech output", "error", err)
				out.speech = nil
			}
		}
	}

	if opts.AdjustSpeed && caps.HasImportance && haveSpeech {
		path := filepath.Join(dir, "importance.json")
		if a.ensure(ctx, "importance", path, func() (RunResult, error) {
			return a.runner.RunImportance(ctx, videoPath, speechPath, path)
		}) {
			out.importance = &ImportanceOutput{}
			if err := loadOutput(path, out.importance); err != nil {
				a.logger.Warn("discarding importance output", "error", err)
				out.importance = nil
			}
		}
	}

	return out
}

// ensure reuses a valid cached output or runs the pipeline to produce one.
func (a *Analyzer) ensure(ctx context.Context, name, path string, run func() (RunResult, error)) bool {
	if _, err := a.runner.ValidateOutput(path); err == nil {
		a.logger.Debug("reusing cached analysis", "pipeline", name)
		return true
	}

	result, err := run()
	if err != nil {
		a.logger.Warn("analysis run failed", "pipeline", name, "error", err)
		return false
	}
	if !result.IsSuccess() {
		a.logger.Warn("analysis run failed",
			"pipeline", name,
			"exit_code", result.ExitCode,
			"stderr_tail", truncate(result.StderrTail, 512),
		)
		return false
	}
	if _, err := a.runner.ValidateOutput(path); err != nil {
		a.logger.Warn("analysis output invalid", "pipeline", name, "error", err)
		return false
	}
	return true
}

// cacheDir keys outputs on path, size and mtime so an edited recording is
// analysed again.
func (a *Analyzer) cacheDir(videoPath string) (string, error) {
	abs, err := filepath.Abs(videoPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())))
	dir := filepath.Join(a.runner.ArtifactsDir(), hex.EncodeToString(sum[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
