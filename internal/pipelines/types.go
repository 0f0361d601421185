// Package pipelines runs the Python analysis CLI (doctor, loudness, speech,
// importance) as subprocesses and exposes the results as time-skip signals.
package pipelines

import "time"

// Capabilities is what the installed analysis package can do, as reported
// by `doctor --json`.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`

	HasLoudness   bool      `json:"-"`
	HasSpeech     bool      `json:"-"`
	HasImportance bool      `json:"-"`
	ProbedAt      time.Time `json:"-"`
}

type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo is the availability of one dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the outcome of one subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// PipelineOutput holds the metadata every output file must carry.
type PipelineOutput struct {
	SchemaVersion   string `json:"schema_version"`
	PipelineVersion string `json:"pipeline_version"`
	ModelVersion    string `json:"model_version"`
}

func (p PipelineOutput) RequiredFieldsPresent() bool {
	return p.SchemaVersion != "" && p.PipelineVersion != "" && p.ModelVersion != ""
}

// LoudnessOutput is the loudness pipeline result: RMS level per window.
type LoudnessOutput struct {
	PipelineOutput
	WindowMs             int              `json:"window_ms"`
	SilenceThresholdDbfs float64          `json:"silence_threshold_dbfs"`
	Samples              []LoudnessSample `json:"samples"`
}

type LoudnessSample struct {
	StartMs int     `json:"start_ms"`
	EndMs   int     `json:"end_ms"`
	Dbfs    float64 `json:"dbfs"`
}

// SpeechOutput is the speech-to-text result.
type SpeechOutput struct {
	PipelineOutput
	Language string          `json:"language,omitempty"`
	Segments []SpeechSegment `json:"segments"`
}

type SpeechSegment struct {
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	Text    string `json:"text"`
}

// ImportanceOutput scores spans of the recording in [0,1].
type ImportanceOutput struct {
	PipelineOutput
	Segments []ImportanceSegment `json:"segments"`
}

type ImportanceSegment struct {
	StartMs int     `json:"start_ms"`
	EndMs   int     `json:"end_ms"`
	Score   float64 `json:"score"`
}
