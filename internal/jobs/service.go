package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipstudio/clipstudio-agent/internal/edit"
	"github.com/clipstudio/clipstudio-agent/internal/export"
	"github.com/clipstudio/clipstudio-agent/internal/logging"
	"github.com/clipstudio/clipstudio-agent/internal/media"
	"github.com/clipstudio/clipstudio-agent/internal/pipelines"
	"github.com/clipstudio/clipstudio-agent/internal/render"
)

// Source is a frame source the service owns and closes when the export ends.
type Source interface {
	render.FrameSource
	Close() error
}

// OpenFunc opens the recording at path.
type OpenFunc func(path string) (Source, error)

// SinkFunc returns the capture sink factory for a container format.
type SinkFunc func(format string) (render.SinkFactory, error)

// OpenFile opens recordings with media.OpenFile.
func OpenFile(path string) (Source, error) {
	src, err := media.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Config holds export defaults.
type Config struct {
	FrameRate     float64
	SeekTimeout   time.Duration
	SignalTimeout time.Duration
	DefaultFormat string
}

type ExportService interface {
	Start(ctx context.Context, req Request) (*Export, error)
	Get(ctx context.Context, id string) (*Export, error)
	List(ctx context.Context, limit int) ([]*Export, error)
	Cancel(ctx context.Context, id string) error
	Active() []*Export
}

type Service struct {
	repo       Repository
	controller *render.Controller
	pipeline   *export.Pipeline
	analyzer   *pipelines.Analyzer
	open       OpenFunc
	sinks      SinkFunc
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	running  map[string]*running // by export id
	bySource map[string]string   // absolute source path -> export id
	subs     map[int]chan Export
	nextSub  int
	closed   bool
	wg       sync.WaitGroup
}

type running struct {
	export *Export
	cancel context.CancelFunc
}

// NewService wires the export engine. analyzer may be nil, which disables
// content-aware time-skip signals.
func NewService(repo Repository, controller *render.Controller, pipeline *export.Pipeline, analyzer *pipelines.Analyzer, open OpenFunc, sinks SinkFunc, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if open == nil {
		open = OpenFile
	}
	return &Service{
		repo:       repo,
		controller: controller,
		pipeline:   pipeline,
		analyzer:   analyzer,
		open:       open,
		sinks:      sinks,
		cfg:        cfg,
		logger:     logging.WithComponent(logger, "jobs"),
		running:    make(map[string]*running),
		bySource:   make(map[string]string),
		subs:       make(map[int]chan Export),
	}
}

// Start validates the request, records the export and renders it in the
// background. Only one export may run per source file.
func (s *Service) Start(ctx context.Context, req Request) (*Export, error) {
	if req.SourcePath == "" {
		return nil, ErrSourceRequired
	}
	if err := req.Export.Validate(); err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(req.SourcePath)
	if err != nil {
		return nil, render.Wrap(render.KindInvalidSourceMedia, err)
	}

	model := req.Model
	if model == nil {
		model = edit.NewModel()
	}
	model = model.Snapshot()
	if model.Trim == (edit.TrimRange{}) {
		model.ResetTrim()
	}
	if err := media.ResolveWatermark(model.Watermark); err != nil {
		return nil, err
	}

	format := req.Export.EffectiveFormat(s.cfg.DefaultFormat)
	sinks, err := s.sinks(format)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if id, busy := s.bySource[absPath]; busy {
		s.mu.Unlock()
		return nil, render.Wrap(render.KindExportAlreadyInProgress, fmt.Errorf("export %s is rendering this source", id))
	}
	// Reserve the source before the slow open so a concurrent request fails fast.
	id := uuid.NewString()
	s.bySource[absPath] = id
	s.mu.Unlock()

	src, err := s.open(absPath)
	if err != nil {
		s.unreserve(absPath)
		return nil, render.Wrap(render.KindInvalidSourceMedia, err)
	}
	if err := s.validate(src, model); err != nil {
		src.Close()
		s.unreserve(absPath)
		return nil, err
	}

	now := time.Now()
	e := &Export{
		ID:         id,
		Name:       req.Export.Name,
		SourcePath: absPath,
		Format:     format,
		Encrypted:  req.Export.Encrypted(),
		Status:     render.StateIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateExport(ctx, e); err != nil {
		src.Close()
		s.unreserve(absPath)
		return nil, fmt.Errorf("record export: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.running[id] = &running{export: e, cancel: cancel}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("export queued",
		"export_id", id,
		"source", logging.SanitizePath(absPath),
		"format", format,
		"encrypted", e.Encrypted,
	)

	snapshot := *e
	go s.run(runCtx, e, src, model, req, sinks)
	return &snapshot, nil
}

func (s *Service) validate(src Source, model *edit.Model) error {
	if err := render.ValidateSource(src); err != nil {
		return err
	}
	return model.Validate(src.Duration())
}

func (s *Service) unreserve(absPath string) {
	s.mu.Lock()
	delete(s.bySource, absPath)
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, e *Export, src Source, model *edit.Model, req Request, sinks render.SinkFactory) {
	defer s.wg.Done()

	logger := logging.WithExportID(s.logger, e.ID)

	analysis := s.analyzer.Analyze(ctx, e.SourcePath, req.TimeSkip)
	if ctx.Err() != nil {
		s.finish(e, src, nil, nil, render.ErrCancelled)
		return
	}

	job, err := s.controller.Start(ctx, src, model, render.Options{
		ID:            e.ID,
		FrameRate:     firstPositive(req.FrameRate, s.cfg.FrameRate),
		SeekTimeout:   s.cfg.SeekTimeout,
		Width:         req.Width,
		Height:        req.Height,
		TimeSkip:      req.TimeSkip,
		Ports:         analysis.Ports(),
		SignalTimeout: s.cfg.SignalTimeout,
		Sinks:         sinks,
	})
	if err != nil {
		logger.Warn("export rejected by render controller", "error", err)
		s.finish(e, src, nil, nil, err)
		return
	}

	stopCancel := context.AfterFunc(ctx, job.Cancel)
	defer stopCancel()

	updates, unsubscribe := job.Subscribe()
	defer unsubscribe()

	lastSaved, lastState := -1.0, render.State("")
	for u := range updates {
		if u.State.Terminal() {
			break
		}
		s.update(e, u.State, u.Progress)
		// Persist state changes and whole-percent steps only.
		if u.State != lastState || u.Progress-lastSaved >= 1 {
			lastSaved, lastState = u.Progress, u.State
			if err := s.repo.UpdateExportProgress(context.Background(), e.ID, u.State, u.Progress); err != nil {
				logger.Warn("failed to persist progress", "error", err)
			}
		}
	}

	artifact, err := job.Wait(context.Background())
	if err != nil {
		s.finish(e, src, nil, nil, err)
		return
	}

	res, err := s.pipeline.Deliver(ctx, export.Package{
		ExportID:  e.ID,
		Artifact:  artifact,
		Format:    e.Format,
		Captions:  model.Captions,
		MediaPath: e.SourcePath,
	}, req.Export)
	if err != nil && ctx.Err() != nil {
		err = render.ErrCancelled
	}
	s.finish(e, src, artifact, res, err)
}

func (s *Service) update(e *Export, state render.State, progress float64) {
	s.mu.Lock()
	e.Status = state
	e.Progress = progress
	snapshot := *e
	s.mu.Unlock()
	s.publish(snapshot)
}

// finish records the terminal outcome of e and releases its source
// reservation, then closes the source in the background. A source stuck in
// a read must not keep the export from reaching its terminal state.
func (s *Service) finish(e *Export, src Source, a *render.Artifact, res *export.Result, err error) {
	logger := logging.WithExportID(s.logger, e.ID)

	s.mu.Lock()
	out := *e
	s.mu.Unlock()

	switch {
	case err == nil:
		out.Status = render.StateDone
		out.Progress = 100
		out.setResult(res, a)
	case errors.Is(err, render.ErrCancelled):
		out.Status = render.StateCancelled
		out.setError(err)
	default:
		out.Status = render.StateFailed
		out.setError(err)
	}

	if err := s.repo.SaveExport(context.Background(), &out); err != nil {
		logger.Error("failed to record export outcome", "error", err)
	}

	s.mu.Lock()
	*e = out
	if r, ok := s.running[e.ID]; ok {
		r.cancel()
		delete(s.running, e.ID)
	}
	delete(s.bySource, e.SourcePath)
	s.mu.Unlock()

	go func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("failed to close source", "error", cerr)
		}
	}()

	if out.Status == render.StateDone {
		logger.Info("export finished",
			"filename", out.Filename,
			"size", out.Size,
			"frames", out.Frames,
		)
	} else {
		logger.Warn("export ended",
			"status", out.Status,
			"error_kind", out.ErrorKind,
			"error", out.ErrorMessage,
		)
	}
	s.publish(out)
}

func (s *Service) Get(ctx context.Context, id string) (*Export, error) {
	s.mu.Lock()
	if r, ok := s.running[id]; ok {
		snapshot := *r.export
		s.mu.Unlock()
		return &snapshot, nil
	}
	s.mu.Unlock()

	e, err := s.repo.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Export, error) {
	exports, err := s.repo.ListExports(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range exports {
		if r, ok := s.running[e.ID]; ok {
			snapshot := *r.export
			exports[i] = &snapshot
		}
	}
	return exports, nil
}

// Cancel stops a running export. Cancelling a finished export is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		s.logger.Info("export cancel requested", "export_id", id)
		r.cancel()
		return nil
	}

	e, err := s.repo.GetExport(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrNotFound
	}
	return nil
}

// Active returns snapshots of exports that have not finished.
func (s *Service) Active() []*Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Export, 0, len(s.running))
	for _, r := range s.running {
		snapshot := *r.export
		out = append(out, &snapshot)
	}
	return out
}

// Subscribe delivers a snapshot on every status or progress change.
// Slow subscribers miss intermediate snapshots.
func (s *Service) Subscribe() (<-chan Export, func()) {
	ch := make(chan Export, 16)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Service) publish(e Export) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		select {
		case c <- e:
		default:
		}
	}
}

// Shutdown cancels running exports and waits for them to record their outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
