package render

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateIdle      State = "idle"
	StateRendering State = "rendering"
	StateEncoding  State = "encoding"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:      {StateRendering, StateCancelled},
	StateRendering: {StateEncoding, StateFailed, StateCancelled},
	StateEncoding:  {StateDone, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Update is delivered to subscribers on every state or progress change.
type Update struct {
	JobID    string
	State    State
	Progress float64
	Err      error
}

const subscriberBuffer = 16

// Job is the handle for one export. All mutation goes through transition
// and setProgress.
type Job struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex
	state    State
	progress float64
	err      error
	artifact *Artifact
	subs     map[int]chan Update
	nextSub  int

	cancelRequested bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(id string) *Job {
	return &Job{
		id:        id,
		createdAt: time.Now(),
		state:     StateIdle,
		subs:      make(map[int]chan Update),
		done:      make(chan struct{}),
	}
}

func (j *Job) ID() string { return j.id }

func (j *Job) CreatedAt() time.Time { return j.createdAt }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress is in [0,100] and never decreases.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Err is nil unless the job ended failed or cancelled.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Artifact is nil unless the job is done.
func (j *Job) Artifact() *Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact
}

// Snapshot returns state, progress and error under one lock.
func (j *Job) Snapshot() Update {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Update{JobID: j.id, State: j.state, Progress: j.progress, Err: j.err}
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*Artifact, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.artifact, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel asks the render loop to stop before its next iteration. It is a
// no-op on a finished job. Once Cancel returns the job can no longer end done.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	state := j.state
	if !state.Terminal() {
		j.cancelRequested = true
	}
	j.mu.Unlock()

	if state == StateIdle {
		_ = j.transition(StateCancelled, ErrCancelled)
		return
	}
	if cancel != nil {
		cancel()
	}
}

// Subscribe returns a channel of updates and a function to stop receiving.
// The first update is the current state. Slow subscribers lose intermediate
// progress updates, never the terminal one. The channel is closed after the
// terminal update.
func (j *Job) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() {
		ch <- Update{JobID: j.id, State: j.state, Progress: j.progress, Err: j.err}
		close(ch)
		return ch, func() {}
	}

	ch <- Update{JobID: j.id, State: j.state, Progress: j.progress, Err: j.err}
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(c)
		}
	}
}

func (j *Job) transition(to State, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to, err)
}

func (j *Job) transitionLocked(to State, err error) error {
	if !canTransition(j.state, to) {
		return fmt.Errorf("invalid job transition %s -> %s", j.state, to)
	}
	j.state = to
	if to == StateFailed || to == StateCancelled {
		j.err = err
		j.artifact = nil
	}
	j.publishLocked()

	if to.Terminal() {
		for id, c := range j.subs {
			close(c)
			delete(j.subs, id)
		}
		close(j.done)
	}
	return nil
}

// complete ends an encoding job as done, or as cancelled with ErrCancelled
// when Cancel was called first.
func (j *Job) complete(a *Artifact) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelRequested {
		if err := j.transitionLocked(StateCancelled, ErrCancelled); err != nil {
			return err
		}
		return ErrCancelled
	}
	if j.state != StateEncoding {
		return fmt.Errorf("invalid job transition %s -> %s", j.state, StateDone)
	}
	j.artifact = a
	j.progress = 100
	return j.transitionLocked(StateDone, nil)
}

func (j *Job) setProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() || p <= j.progress {
		return
	}
	j.progress = p
	j.publishLocked()
}

func (j *Job) publishLocked() {
	u := Update{JobID: j.id, State: j.state, Progress: j.progress, Err: j.err}
	for _, c := range j.subs {
		select {
		case c <- u:
		default:
			// Full: drop the oldest so the latest state always lands.
			select {
			case <-c:
			default:
			}
			select {
			case c <- u:
			default:
			}
		}
	}
}
