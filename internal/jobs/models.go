// Package jobs runs exports on behalf of the API and the tray and keeps
// their history in SQLite.
package jobs

import (
	"errors"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
	"github.com/clipstudio/clipstudio-agent/internal/export"
	"github.com/clipstudio/clipstudio-agent/internal/render"
	"github.com/clipstudio/clipstudio-agent/internal/timeskip"
)

var (
	ErrNotFound       = errors.New("export not found")
	ErrSourceRequired = errors.New("source_path is required")
	ErrShuttingDown   = errors.New("agent is shutting down")
)

// Export is the persisted record of one export request.
type Export struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SourcePath string `json:"source_path"`
	Format     string `json:"format"`
	Encrypted  bool   `json:"encrypted"`

	Status       render.State `json:"status"`
	Progress     float64      `json:"progress"`
	ErrorKind    render.Kind  `json:"error_kind,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`

	Filename string  `json:"filename,omitempty"`
	Path     string  `json:"-"`
	Location string  `json:"location,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
	Size     int64   `json:"size"`
	IV       []byte  `json:"iv,omitempty"`
	Salt     []byte  `json:"salt,omitempty"`
	Frames   int     `json:"frames"`
	Duration float64 `json:"duration"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished reports whether the export reached a terminal status.
func (e *Export) Finished() bool {
	return e.Status.Terminal()
}

// Downloadable reports whether a local file backs the export.
func (e *Export) Downloadable() bool {
	return e.Status == render.StateDone && (e.Path != "" || (e.Encrypted && e.Location != ""))
}

func (e *Export) setError(err error) {
	e.ErrorKind = render.KindOf(err)
	if err != nil {
		e.ErrorMessage = err.Error()
	}
}

func (e *Export) setResult(res *export.Result, a *render.Artifact) {
	e.Filename = res.Filename
	e.Path = res.Path
	e.Location = res.Location
	e.MimeType = res.MimeType
	e.Size = res.Size
	e.IV = res.IV
	e.Salt = res.Salt
	if a != nil {
		e.Frames = a.Frames
		e.Duration = a.Duration()
	}
}

// Request is everything needed to start an export.
type Request struct {
	SourcePath string           `json:"source_path"`
	Model      *edit.Model      `json:"model"`
	Export     export.Options   `json:"export"`
	TimeSkip   timeskip.Options `json:"time_skip"`

	// Overrides of the configured defaults. Zero keeps the default.
	FrameRate float64 `json:"frame_rate,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
}
