package registry

import (
	"context"
	"time"

	"github.com/webitel/relay-probe/internal/domain/model"
)

// State is the lifecycle of a single pending exchange.
type State int32

const (
	Waiting State = iota
	Completed
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Kind labels an exchange for logs and metrics.
type Kind string

const (
	KindPublish   Kind = "publish"
	KindSubscribe Kind = "subscribe"
)

// Request describes an exchange to register.
type Request struct {
	Key      string
	Kind     Kind
	Terminal []model.Verb
	Timeout  time.Duration

	// RequireResults turns a timeout with nothing accumulated into model.ErrNoResponse.
	// Without it a timeout resolves softly with whatever arrived.
	RequireResults bool
}

// Result is what a released caller receives.
type Result struct {
	Key      string
	State    State
	Frames   []model.Frame // accumulated frames in arrival order
	Terminal model.Frame   // valid only when State == Completed
	Elapsed  time.Duration
}

func (r Result) TimedOut() bool { return r.State == TimedOut }

// Pending is the correlator-owned record of one in-flight exchange.
// Every field below is guarded by the owning Correlator's mutex; callers only
// observe it through Done and Wait.
type Pending struct {
	key            string
	kind           Kind
	terminal       map[model.Verb]struct{}
	requireResults bool
	registeredAt   time.Time

	state  State
	frames []model.Frame
	final  model.Frame
	err    error
	result Result
	timer  *time.Timer
	doneCh chan struct{}
}

func newPending(req Request) *Pending {
	terminal := make(map[model.Verb]struct{}, len(req.Terminal))
	for _, v := range req.Terminal {
		terminal[v] = struct{}{}
	}
	return &Pending{
		key:            req.Key,
		kind:           req.Kind,
		terminal:       terminal,
		requireResults: req.RequireResults,
		registeredAt:   time.Now(),
		state:          Waiting,
		doneCh:         make(chan struct{}),
	}
}

func (p *Pending) Key() string { return p.key }
func (p *Pending) Kind() Kind  { return p.kind }

// Done is closed exactly once, when the exchange leaves Waiting.
func (p *Pending) Done() <-chan struct{} { return p.doneCh }

// Wait blocks until the exchange is released or ctx ends. Abandoning the wait does not
// cancel the exchange; the correlator still retires it on its terminal frame or deadline.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.doneCh:
		// result and err are written before doneCh is closed.
		return p.result, p.err
	case <-ctx.Done():
		return Result{Key: p.key, State: Waiting}, ctx.Err()
	}
}

func (p *Pending) isTerminal(v model.Verb) bool {
	_, ok := p.terminal[v]
	return ok
}

// finish moves the request out of Waiting. First writer wins; later calls report false.
// Must be called with the correlator mutex held.
func (p *Pending) finish(state State, final model.Frame, err error) bool {
	if p.state != Waiting {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	p.state = state
	p.final = final
	p.err = err

	frames := make([]model.Frame, len(p.frames))
	copy(frames, p.frames)
	p.result = Result{
		Key:      p.key,
		State:    state,
		Frames:   frames,
		Terminal: final,
		Elapsed:  time.Since(p.registeredAt),
	}

	close(p.doneCh)
	return true
}
