package timeskip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

const (
	// CoarseSkip is the jump taken over silence and filler words, and for
	// high-importance content when speed adjustment is on.
	CoarseSkip = 0.5
	// SlowSkip is the jump taken for low-importance content.
	SlowSkip = 1.5
	// ImportanceThreshold splits the two speed-adjustment jumps.
	ImportanceThreshold = 0.7
	// LookaheadWindow is the transcript and importance window after t.
	LookaheadWindow = 1.0

	DefaultSignalTimeout = 2 * time.Second
)

// FillerWords are matched on word boundaries, case-insensitively.
var FillerWords = []string{"um", "uh", "like", "you know", "sort of"}

type Options struct {
	RemoveSilence bool `json:"remove_silence"`
	RemoveFillers bool `json:"remove_fillers"`
	AdjustSpeed   bool `json:"adjust_speed"`
}

// Enabled reports whether any content-aware option is on.
func (o Options) Enabled() bool {
	return o.RemoveSilence || o.RemoveFillers || o.AdjustSpeed
}

type Reason string

const (
	ReasonFrame    Reason = "frame"
	ReasonSilence  Reason = "silence"
	ReasonFiller   Reason = "filler"
	ReasonSpeedUp  Reason = "importance_high"
	ReasonSlowDown Reason = "importance_low"
)

// Decision is the outcome of one tick.
type Decision struct {
	Advance float64
	Reason  Reason
}

// Heuristic evaluates the skip policy. It never draws and keeps no state
// between calls.
type Heuristic struct {
	opts    Options
	ports   Ports
	timeout time.Duration
	logger  *slog.Logger
}

func New(opts Options, ports Ports, timeout time.Duration, logger *slog.Logger) *Heuristic {
	if timeout <= 0 {
		timeout = DefaultSignalTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heuristic{opts: opts, ports: ports, timeout: timeout, logger: logger}
}

// Next returns the next play-head time after t.
func (h *Heuristic) Next(ctx context.Context, t, step float64) float64 {
	return t + h.Decide(ctx, t, step).Advance
}

// Decide applies the policy in order: silence, filler words, importance.
// A failing or slow signal source counts as "no effect" for this tick.
func (h *Heuristic) Decide(ctx context.Context, t, step float64) Decision {
	if h.opts.RemoveSilence && h.ports.Silence != nil {
		silent, err := callWithTimeout(ctx, h.timeout, func(ctx context.Context) (bool, error) {
			return h.ports.Silence.IsSilent(ctx, t)
		})
		if err != nil {
			h.logger.Warn("silence check failed, not skipping", "time", t, "error", err)
		} else if silent {
			return Decision{Advance: CoarseSkip, Reason: ReasonSilence}
		}
	}

	if h.opts.RemoveFillers && h.ports.Transcriber != nil {
		text, err := callWithTimeout(ctx, h.timeout, func(ctx context.Context) (string, error) {
			return h.ports.Transcriber.Transcribe(ctx, t, t+LookaheadWindow)
		})
		if err != nil {
			h.logger.Warn("transcription failed, not skipping", "time", t, "error", err)
		} else if ContainsFiller(text) {
			return Decision{Advance: CoarseSkip, Reason: ReasonFiller}
		}
	}

	if h.opts.AdjustSpeed && h.ports.Importance != nil {
		score, err := callWithTimeout(ctx, h.timeout, func(ctx context.Context) (float64, error) {
			return h.ports.Importance.Score(ctx, t, t+LookaheadWindow)
		})
		if err != nil {
			h.logger.Warn("importance score failed, using nominal step", "time", t, "error", err)
			return Decision{Advance: step, Reason: ReasonFrame}
		}
		if score > ImportanceThreshold {
			return Decision{Advance: CoarseSkip, Reason: ReasonSpeedUp}
		}
		return Decision{Advance: SlowSkip, Reason: ReasonSlowDown}
	}

	return Decision{Advance: step, Reason: ReasonFrame}
}

// ContainsFiller reports whether text holds any of FillerWords as whole words.
func ContainsFiller(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for i := range words {
		for _, filler := range FillerWords {
			parts := strings.Fields(filler)
			if i+len(parts) > len(words) {
				continue
			}
			match := true
			for j, p := range parts {
				if words[i+j] != p {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

type result[T any] struct {
	val T
	err error
}

// callWithTimeout bounds fn even when it ignores ctx.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result[T]{val: zero, err: fmt.Errorf("signal source panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
