package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
	"github.com/clipstudio/clipstudio-agent/internal/logging"
	"github.com/clipstudio/clipstudio-agent/internal/render"
)

// Package bundles everything the pipeline needs about one finished export.
type Package struct {
	ExportID  string
	Artifact  *render.Artifact
	Format    string
	Captions  []edit.Caption
	MediaPath string
}

// Pipeline turns a render artifact into a delivered file: written to the
// output directory in the clear, or encrypted and handed to a Store.
type Pipeline struct {
	store      Store
	outputDir  string
	iterations int
	logger     *slog.Logger
}

func NewPipeline(store Store, outputDir string, iterations int, logger *slog.Logger) *Pipeline {
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, outputDir: outputDir, iterations: iterations, logger: logger}
}

// Deliver packages p according to opts. Errors carry a render.Kind.
func (p *Pipeline) Deliver(ctx context.Context, pkg Package, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	a := pkg.Artifact
	if a == nil || len(a.Data) == 0 {
		return nil, render.Errorf(render.KindEncodingFailure, "no artifact to deliver")
	}

	format := pkg.Format
	if format == "" {
		format = opts.EffectiveFormat("")
	}
	logger := logging.WithExportID(p.logger, pkg.ExportID)

	if opts.Encrypted() {
		return p.deliverEncrypted(ctx, pkg, opts, logger)
	}
	return p.deliverPlain(pkg, opts, format, logger)
}

func (p *Pipeline) deliverEncrypted(ctx context.Context, pkg Package, opts Options, logger *slog.Logger) (*Result, error) {
	if p.store == nil {
		return nil, render.Errorf(render.KindPersistenceFailure, "no store configured for encrypted exports")
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, render.Wrap(render.KindEncryptionFailure, err)
	}
	key := DeriveKey(opts.Password, salt, p.iterations)

	ciphertext, iv, err := Encrypt(pkg.Artifact.Data, key)
	if err != nil {
		return nil, err
	}

	filename := Filename(opts.Name, EncryptedFormat)
	req := StoreRequest{
		ExportID: pkg.ExportID,
		Blob:     ciphertext,
		IV:       iv,
		Salt:     salt,
		Filename: filename,
		Size:     int64(len(ciphertext)),
		MimeType: pkg.Artifact.MimeType,
	}

	stored, err := p.store.Save(ctx, req)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			logger.Warn("encrypted export rejected: quota exceeded", "size", req.Size)
			return nil, render.Wrap(render.KindQuotaExceeded, err)
		}
		return nil, render.Wrap(render.KindPersistenceFailure, err)
	}

	pkg.Artifact.IV = iv
	pkg.Artifact.Salt = salt

	logger.Info("encrypted export stored",
		"filename", filename,
		"size", req.Size,
		"location", stored.Location,
	)

	return &Result{
		Filename:  filename,
		Location:  stored.Location,
		Size:      req.Size,
		MimeType:  req.MimeType,
		Encrypted: true,
		IV:        iv,
		Salt:      salt,
	}, nil
}

func (p *Pipeline) deliverPlain(pkg Package, opts Options, format string, logger *slog.Logger) (*Result, error) {
	dir := opts.OutputDir
	if dir == "" {
		dir = p.outputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, render.Wrap(render.KindPersistenceFailure, fmt.Errorf("create output dir: %w", err))
	}

	filename := Filename(opts.Name, format)
	path, err := writeUnique(dir, filename, pkg.Artifact.Data)
	if err != nil {
		return nil, render.Wrap(render.KindPersistenceFailure, err)
	}

	res := &Result{
		Filename: filepath.Base(path),
		Path:     path,
		Size:     int64(len(pkg.Artifact.Data)),
		MimeType: pkg.Artifact.MimeType,
	}

	if opts.Sidecars {
		res.Sidecars = p.writeSidecars(path, pkg, logger)
	}

	logger.Info("export written",
		"path", logging.SanitizePath(path),
		"size", res.Size,
		"sidecars", len(res.Sidecars),
	)
	return res, nil
}

// writeSidecars is best-effort; the main artifact is already on disk.
func (p *Pipeline) writeSidecars(path string, pkg Package, logger *slog.Logger) []string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	var written []string

	if len(pkg.Captions) > 0 {
		vtt := edit.CaptionsToVTT(pkg.Captions, pkg.Artifact.SourceStart)
		if err := os.WriteFile(base+".vtt", []byte(vtt), 0o644); err != nil {
			logger.Warn("failed to write captions sidecar", "error", err)
		} else {
			written = append(written, base+".vtt")
		}
	}

	if pkg.Artifact.Skipped() {
		cuts := CutsFromSegments(pkg.Artifact.Segments, pkg.MediaPath)
		edl := GenerateEDL(cuts, filepath.Base(base), pkg.Artifact.FrameRate)
		if err := os.WriteFile(base+".edl", []byte(edl), 0o644); err != nil {
			logger.Warn("failed to write cut list", "error", err)
		} else {
			written = append(written, base+".edl")
		}
	}

	return written
}

// writeUnique writes data to dir/name, adding " (n)" before the extension
// when the name is taken.
func writeUnique(dir, name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", candidate, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close %s: %w", candidate, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free filename for %s in %s", name, dir)
}
