// Package render drives an export: it walks the play-head across the trim
// window, seeks the source, composites each frame and feeds the capture sink.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/compose"
	"github.com/clipstudio/clipstudio-agent/internal/edit"
	"github.com/clipstudio/clipstudio-agent/internal/logging"
	"github.com/clipstudio/clipstudio-agent/internal/timeskip"
	"github.com/google/uuid"
)

const (
	DefaultFrameRate   = 30.0
	DefaultSeekTimeout = 5 * time.Second

	// endEpsilon absorbs float drift when the play-head reaches trim end.
	endEpsilon = 1e-6
)

// Options configure a single export.
type Options struct {
	// ID names the job. A random UUID is used when empty.
	ID string

	FrameRate   float64
	SeekTimeout time.Duration

	// Width and Height of the output. Zero uses the source dimensions.
	Width  int
	Height int

	TimeSkip      timeskip.Options
	Ports         timeskip.Ports
	SignalTimeout time.Duration

	Sinks SinkFactory
}

func (o *Options) applyDefaults(srcW, srcH int) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.FrameRate <= 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.SeekTimeout <= 0 {
		o.SeekTimeout = DefaultSeekTimeout
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = srcW, srcH
	}
}

// Controller starts exports and enforces one active export per source.
type Controller struct {
	compositor *compose.Compositor
	logger     *slog.Logger

	mu     sync.Mutex
	active map[FrameSource]*Job
	wg     sync.WaitGroup
}

func NewController(compositor *compose.Compositor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		compositor: compositor,
		logger:     logger,
		active:     make(map[FrameSource]*Job),
	}
}

// ValidateSource checks that src reports a usable duration and size.
func ValidateSource(src FrameSource) error {
	if src == nil {
		return Errorf(KindInvalidSourceMedia, "no source")
	}
	d := src.Duration()
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return Errorf(KindInvalidSourceMedia, "duration %v is not finite and positive", d)
	}
	w, h := src.Dimensions()
	if w <= 0 || h <= 0 {
		return Errorf(KindInvalidSourceMedia, "dimensions %dx%d", w, h)
	}
	return nil
}

// Start validates its inputs and launches the render loop in the background.
// The model is snapshotted, so later edits do not affect this export. The
// loop does not inherit ctx cancellation; use Job.Cancel.
func (c *Controller) Start(ctx context.Context, src FrameSource, model *edit.Model, opts Options) (*Job, error) {
	if err := ValidateSource(src); err != nil {
		return nil, err
	}
	if opts.Sinks == nil {
		return nil, errors.New("no capture sink configured")
	}
	if model == nil {
		model = edit.NewModel()
	}
	snapshot := model.Snapshot()
	if err := snapshot.Validate(src.Duration()); err != nil {
		return nil, fmt.Errorf("invalid edit model: %w", err)
	}

	w, h := src.Dimensions()
	opts.applyDefaults(w, h)

	c.mu.Lock()
	if running, ok := c.active[src]; ok {
		c.mu.Unlock()
		return nil, Errorf(KindExportAlreadyInProgress, "export %s is %s", running.ID(), running.State())
	}

	sink, err := opts.Sinks.NewSink(opts.Width, opts.Height, opts.FrameRate)
	if err != nil {
		c.mu.Unlock()
		return nil, Wrap(KindEncodingFailure, fmt.Errorf("create capture sink: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := newJob(opts.ID)
	job.cancel = cancel
	c.active[src] = job
	c.mu.Unlock()

	if err := job.transition(StateRendering, nil); err != nil {
		cancel()
		c.release(src, job)
		_ = sink.Discard()
		return nil, err
	}

	r := &run{
		ctrl:   c,
		job:    job,
		src:    src,
		model:  snapshot,
		opts:   opts,
		sink:   sink,
		mime:   opts.Sinks.MimeType(),
		logger: logging.WithExportID(c.logger, job.ID()),
	}
	if opts.TimeSkip.Enabled() {
		r.skip = timeskip.New(opts.TimeSkip, opts.Ports, opts.SignalTimeout, r.logger)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer c.release(src, job)
		r.execute(runCtx)
	}()

	return job, nil
}

// Active returns the running job for src, if any.
func (c *Controller) Active(src FrameSource) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.active[src]
	return j, ok
}

// Shutdown cancels every running export and waits for the loops to exit.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, j := range c.active {
		j.Cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release(src FrameSource, job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[src] == job {
		delete(c.active, src)
	}
}

type run struct {
	ctrl   *Controller
	job    *Job
	src    FrameSource
	model  *edit.Model
	opts   Options
	sink   CaptureSink
	mime   string
	skip   *timeskip.Heuristic
	logger *slog.Logger
}

func (r *run) execute(ctx context.Context) {
	duration := r.src.Duration()
	start := r.model.Trim.StartTime(duration)
	end := r.model.Trim.EndTime(duration)
	step := 1 / r.opts.FrameRate
	span := end - start

	element := r.model.ElementSize
	if element.IsZero() {
		sw, sh := r.src.Dimensions()
		element = edit.Size{Width: float64(sw), Height: float64(sh)}
	}

	r.logger.Info("export rendering",
		"trim_start", start,
		"trim_end", end,
		"fps", r.opts.FrameRate,
		"width", r.opts.Width,
		"height", r.opts.Height,
		"time_skip", r.opts.TimeSkip.Enabled(),
	)

	canvas := compose.NewCanvas(r.opts.Width, r.opts.Height)
	var segments segmentBuilder
	frames := 0
	skips := 0

	for t := start; t < end-endEpsilon; {
		if ctx.Err() != nil {
			r.abort(ctx, nil)
			return
		}

		if err := r.seek(ctx, t); err != nil {
			r.abort(ctx, err)
			return
		}

		frame, err := r.src.CurrentFrame()
		if err != nil {
			r.abort(ctx, Wrap(KindCompositingFailure, fmt.Errorf("read frame at %.3fs: %w", t, err)))
			return
		}

		p := (t - start) / span
		if err := r.ctrl.compositor.Draw(canvas, frame, r.model, compose.Params{
			Time:        t,
			Progress:    p,
			ElementSize: element,
		}); err != nil {
			r.abort(ctx, Wrap(KindCompositingFailure, fmt.Errorf("draw at %.3fs: %w", t, err)))
			return
		}

		if err := r.sink.WriteFrame(canvas.Image()); err != nil {
			r.abort(ctx, Wrap(KindEncodingFailure, fmt.Errorf("capture frame %d: %w", frames, err)))
			return
		}
		frames++
		segments.add(t, step)
		r.job.setProgress(p * 100)

		advance := step
		if r.skip != nil {
			d := r.skip.Decide(ctx, t, step)
			if d.Reason != timeskip.ReasonFrame {
				skips++
			}
			advance = d.Advance
		}
		t += advance
	}

	if err := r.job.transition(StateEncoding, nil); err != nil {
		r.abort(ctx, err)
		return
	}
	r.job.setProgress(100)

	data, err := r.sink.Finalize(ctx)
	if err == nil && len(data) == 0 {
		err = errors.New("capture sink produced no bytes")
	}
	if err != nil {
		r.abort(ctx, Wrap(KindEncodingFailure, err))
		return
	}
	if ctx.Err() != nil {
		r.abort(ctx, nil)
		return
	}

	artifact := &Artifact{
		Data:        data,
		MimeType:    r.mime,
		Frames:      frames,
		FrameRate:   r.opts.FrameRate,
		Segments:    segments.clip(end),
		SourceStart: start,
	}
	r.ctrl.release(r.src, r.job)
	if err := r.job.complete(artifact); err != nil {
		if errors.Is(err, ErrCancelled) {
			r.logger.Info("export cancelled", "progress", r.job.Progress())
			return
		}
		r.logger.Error("failed to complete export", "error", err)
		return
	}

	r.logger.Info("export done",
		"frames", frames,
		"skips", skips,
		"duration_s", artifact.Duration(),
		"bytes", len(data),
	)
}

// seek bounds SeekTo with the seek timeout even if the source ignores ctx.
func (r *run) seek(ctx context.Context, t float64) error {
	seekCtx, cancel := context.WithTimeout(ctx, r.opts.SeekTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("seek panicked: %v", p)
			}
		}()
		errCh <- r.src.SeekTo(seekCtx, t)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-seekCtx.Done():
		err = seekCtx.Err()
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindSeekTimeout, fmt.Errorf("seek to %.3fs exceeded %s", t, r.opts.SeekTimeout))
	}
	return Wrap(KindCompositingFailure, fmt.Errorf("seek to %.3fs: %w", t, err))
}

// abort discards the sink and ends the job as cancelled (when ctx was
// cancelled) or failed with err.
func (r *run) abort(ctx context.Context, err error) {
	if derr := r.sink.Discard(); derr != nil {
		r.logger.Warn("failed to discard partial output", "error", derr)
	}
	r.ctrl.release(r.src, r.job)

	if ctx.Err() != nil {
		if terr := r.job.transition(StateCancelled, ErrCancelled); terr != nil {
			r.logger.Error("cancel transition rejected", "error", terr)
		}
		r.logger.Info("export cancelled", "progress", r.job.Progress())
		return
	}

	if KindOf(err) == "" {
		err = Wrap(KindCompositingFailure, err)
	}
	if terr := r.job.transition(StateFailed, err); terr != nil {
		r.logger.Error("fail transition rejected", "error", terr)
	}
	r.logger.Error("export failed", "kind", KindOf(err), "error", err)
}
