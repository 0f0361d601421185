package api

import (
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/jobs"
	"github.com/clipstudio/clipstudio-agent/internal/pipelines"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State          string                  `json:"state"`
	LastError      string                  `json:"last_error,omitempty"`
	ExportsRunning int                     `json:"exports_running"`
	ActiveExports  []ExportResponse        `json:"active_exports"`
	Pipelines      *PipelineStatusResponse `json:"pipelines,omitempty"`
}

type PipelineStatusResponse struct {
	HasLoudness   bool   `json:"has_loudness"`
	HasSpeech     bool   `json:"has_speech"`
	HasImportance bool   `json:"has_importance"`
	LastProbeAt   string `json:"last_probe_at,omitempty"`
	DepsAvail     int    `json:"deps_available"`
	DepsTotal     int    `json:"deps_total"`
}

// ExportRequest is the body of POST /exports.
type ExportRequest = jobs.Request

type ExportResponse struct {
	jobs.Export
	DownloadURL       string `json:"download_url,omitempty"`
	DownloadExpiresAt string `json:"download_expires_at,omitempty"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ExportToResponse attaches a signed download link when the artifact can
// be served from this machine.
func ExportToResponse(e *jobs.Export, links *LinkSigner) ExportResponse {
	resp := ExportResponse{Export: *e}
	if links == nil {
		return resp
	}
	if _, ok := downloadFor(e); !ok {
		return resp
	}
	u, exp, err := links.URL(e.ID)
	if err == nil {
		resp.DownloadURL = u
		resp.DownloadExpiresAt = exp.UTC().Format(time.RFC3339)
	}
	return resp
}

func PipelinesToResponse(caps *pipelines.Capabilities) *PipelineStatusResponse {
	if caps == nil {
		return nil
	}
	return &PipelineStatusResponse{
		HasLoudness:   caps.HasLoudness,
		HasSpeech:     caps.HasSpeech,
		HasImportance: caps.HasImportance,
		LastProbeAt:   caps.ProbedAt.Format(time.RFC3339),
		DepsAvail:     caps.Summary.Available,
		DepsTotal:     caps.Summary.Total,
	}
}
