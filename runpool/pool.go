package runpool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long a waiting caller sleeps before it
// looks at the pool again without being woken.
const DefaultPollInterval = 100 * time.Millisecond

// ErrDrained is returned by Claim once no further pair can ever be formed.
var ErrDrained = errors.New("runpool: no runs left to merge")

// Observer is told the pool's size after every change.
type Observer interface {
	PoolChanged(queued, inFlight int)
}

// Pair is two runs claimed together for merging.
type Pair struct {
	A, B string
}

// Paths returns both runs of the pair.
func (p Pair) Paths() []string {
	return []string{p.A, p.B}
}

type Option func(*Pool)

// WithPollInterval sets the upper bound of a single wait.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithObserver registers o to be told about every change.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		p.observer = o
	}
}

// Pool is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	queue    []string
	inFlight map[string]struct{}
	finished bool
	changed  chan struct{}

	pollInterval time.Duration
	observer     Observer
}

func New(opts ...Option) *Pool {
	p := &Pool{
		inFlight:     make(map[string]struct{}),
		changed:      make(chan struct{}),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Push makes a published run available for merging.
func (p *Pool) Push(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, path)
	p.notifyLocked()
}

// Finish records that no more runs will be produced. It is idempotent.
func (p *Pool) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.finished = true
	p.notifyLocked()
}

// Claim takes the two oldest queued runs and marks them in flight. It
// blocks until a pair is available, returns ErrDrained when none ever will
// be, or returns the context's error.
func (p *Pool) Claim(ctx context.Context) (Pair, error) {
	for {
		p.mu.Lock()
		if len(p.queue) >= 2 {
			pair := Pair{A: p.queue[0], B: p.queue[1]}
			p.queue = p.queue[2:]
			p.inFlight[pair.A] = struct{}{}
			p.inFlight[pair.B] = struct{}{}
			p.notifyLocked()
			p.mu.Unlock()
			return pair, nil
		}
		if p.finished && len(p.inFlight) == 0 {
			p.mu.Unlock()
			return Pair{}, ErrDrained
		}
		changed := p.changed
		p.mu.Unlock()

		if err := p.wait(ctx, changed); err != nil {
			return Pair{}, err
		}
	}
}

// Commit replaces consumed in-flight runs with the run produced from them.
// An empty produced path only drops the consumed runs.
func (p *Pool) Commit(produced string, consumed ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, path := range consumed {
		delete(p.inFlight, path)
	}
	if produced != "" {
		p.queue = append(p.queue, produced)
	}
	p.notifyLocked()
}

// Release puts claimed runs back in the queue unchanged.
func (p *Pool) Release(paths ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, path := range paths {
		if _, ok := p.inFlight[path]; !ok {
			continue
		}
		delete(p.inFlight, path)
		p.queue = append(p.queue, path)
	}
	p.notifyLocked()
}

// Discard forgets claimed runs that no longer exist.
func (p *Pool) Discard(paths ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, path := range paths {
		delete(p.inFlight, path)
	}
	p.notifyLocked()
}

// WaitReady blocks until at least one run is queued or production has
// finished.
func (p *Pool) WaitReady(ctx context.Context) error {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 || p.finished {
			p.mu.Unlock()
			return nil
		}
		changed := p.changed
		p.mu.Unlock()

		if err := p.wait(ctx, changed); err != nil {
			return err
		}
	}
}

// Drain waits until production has finished and nothing is in flight, then
// removes and returns every queued run.
func (p *Pool) Drain(ctx context.Context) ([]string, error) {
	for {
		p.mu.Lock()
		if p.finished && len(p.inFlight) == 0 {
			paths := p.queue
			p.queue = nil
			p.notifyLocked()
			p.mu.Unlock()
			return paths, nil
		}
		changed := p.changed
		p.mu.Unlock()

		if err := p.wait(ctx, changed); err != nil {
			return nil, err
		}
	}
}

// Remaining returns a copy of the queued runs.
func (p *Pool) Remaining() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.queue...)
}

// Len returns the number of queued runs.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// InFlight returns the number of claimed runs.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.inFlight)
}

func (p *Pool) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.finished
}

// notifyLocked wakes every waiter. p.mu must be held.
func (p *Pool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
	if p.observer != nil {
		p.observer.PoolChanged(len(p.queue), len(p.inFlight))
	}
}

func (p *Pool) wait(ctx context.Context, changed <-chan struct{}) error {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-changed:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
