package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clipstudio/clipstudio-agent/internal/media"
)

// EncryptedFormat is the only container offered for password-protected exports.
const EncryptedFormat = media.FormatWebM

const maxNameLength = 120

var (
	// ErrQuotaExceeded is returned by a Store when the destination is full.
	// It reaches the caller unchanged.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	ErrFormatWithPassword = errors.New("password-protected exports use a fixed webm container; format cannot be chosen")
	ErrUnsupportedFormat  = errors.New("unsupported format")
)

// Options describe how a finished artifact is delivered.
type Options struct {
	Name      string `json:"name"`
	Format    string `json:"format,omitempty"`
	Password  string `json:"password,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`

	// Sidecars writes a .vtt for captions and an .edl cut list when
	// time-skip removed content. Unencrypted exports only.
	Sidecars bool `json:"sidecars,omitempty"`
}

func (o Options) Encrypted() bool { return o.Password != "" }

// EffectiveFormat resolves the container, forcing EncryptedFormat when a
// password is set.
func (o Options) EffectiveFormat(defaultFormat string) string {
	if o.Encrypted() {
		return EncryptedFormat
	}
	if o.Format != "" {
		return strings.ToLower(o.Format)
	}
	if defaultFormat != "" {
		return strings.ToLower(defaultFormat)
	}
	return media.FormatWebM
}

// Validate rejects a password combined with an explicit non-fixed format
// rather than silently overriding the caller's choice.
func (o Options) Validate() error {
	if o.Encrypted() && o.Format != "" && !strings.EqualFold(o.Format, EncryptedFormat) {
		return ErrFormatWithPassword
	}
	if o.Format != "" && media.MimeType(o.Format) == "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, o.Format)
	}
	if o.OutputDir != "" && !o.Encrypted() {
		if err := ValidateOutputDir(o.OutputDir); err != nil {
			return err
		}
	}
	return nil
}

// Filename builds "{name}.{format}" from a sanitized name.
func Filename(name, format string) string {
	return SanitizeName(name, maxNameLength) + "." + strings.ToLower(format)
}

// StoreRequest is what the persistence boundary receives for an encrypted export.
type StoreRequest struct {
	ExportID string
	Blob     []byte
	IV       []byte
	Salt     []byte
	Filename string
	Size     int64
	MimeType string
}

// StoreResult identifies the stored object.
type StoreResult struct {
	Location string `json:"location"`
}

// Store persists encrypted artifacts.
type Store interface {
	Save(ctx context.Context, req StoreRequest) (StoreResult, error)
}

// Result describes where an artifact ended up.
type Result struct {
	Filename  string   `json:"filename"`
	Path      string   `json:"path,omitempty"`
	Location  string   `json:"location,omitempty"`
	Size      int64    `json:"size"`
	MimeType  string   `json:"mime_type"`
	Encrypted bool     `json:"encrypted"`
	IV        []byte   `json:"iv,omitempty"`
	Salt      []byte   `json:"salt,omitempty"`
	Sidecars  []string `json:"sidecars,omitempty"`
}
