package merge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Trifunovich/hugesort/recordio"
	"github.com/Trifunovich/hugesort/runpool"
)

const (
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultRetries       = 3
)

type TournamentOption func(*Tournament)

// WithWorkers sets the number of concurrent merge workers.
func WithWorkers(n int) TournamentOption {
	return func(m *Tournament) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithBackOff sets the retry policy. Each worker gets its own policy from
// newBackOff; it is reset after every successful merge, and a failed merge
// is fatal once the policy returns backoff.Stop.
func WithBackOff(newBackOff func() backoff.BackOff) TournamentOption {
	return func(m *Tournament) {
		if newBackOff != nil {
			m.newBackOff = newBackOff
		}
	}
}

func WithTournamentLogger(logger logrus.FieldLogger) TournamentOption {
	return func(m *Tournament) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithTournamentObserver(o Observer) TournamentOption {
	return func(m *Tournament) {
		m.observer = o
	}
}

// ConstantBackOff retries a failed merge up to retries times, interval
// apart.
func ConstantBackOff(interval time.Duration, retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries)
	}
}

// Tournament merges runs pairwise with concurrent workers while runs are
// still being produced.
type Tournament struct {
	store      Store
	workers    int
	newBackOff func() backoff.BackOff
	logger     logrus.FieldLogger
	observer   Observer
}

func NewTournament(store Store, opts ...TournamentOption) *Tournament {
	m := &Tournament{
		store:      store,
		workers:    runtime.NumCPU(),
		newBackOff: ConstantBackOff(DefaultRetryInterval, DefaultRetries),
		logger:     discardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type counters struct {
	merges  atomic.Int64
	retries atomic.Int64
	records atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{
		Merges:  c.merges.Load(),
		Retries: c.retries.Load(),
		Records: c.records.Load(),
	}
}

func (m *Tournament) Merge(ctx context.Context, pool *runpool.Pool, output string) (Stats, error) {
	var c counters

	g, gctx := errgroup.WithContext(ctx)
	for i := range m.workers {
		g.Go(func() error {
			return m.work(gctx, pool, i, &c)
		})
	}
	if err := g.Wait(); err != nil {
		return c.stats(), err
	}

	remaining := pool.Remaining()
	if err := finish(ctx, m.store, remaining, output); err != nil {
		return c.stats(), err
	}
	m.logger.WithFields(logrus.Fields{
		"merges":  c.merges.Load(),
		"retries": c.retries.Load(),
	}).Info("tournament merge finished")
	return c.stats(), nil
}

func (m *Tournament) work(ctx context.Context, pool *runpool.Pool, worker int, c *counters) error {
	logger := m.logger.WithField("merge_worker", worker)
	policy := m.newBackOff()

	for {
		pair, err := pool.Claim(ctx)
		if errors.Is(err, runpool.ErrDrained) {
			return nil
		}
		if err != nil {
			return err
		}

		if m.dropMissing(ctx, pool, pair, logger) {
			continue
		}

		path, n, err := m.mergePair(ctx, pair)
		if err != nil {
			pool.Release(pair.Paths()...)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("merge: %s and %s: %w", pair.A, pair.B, err)
			}
			c.retries.Add(1)
			if m.observer != nil {
				m.observer.MergeRetried()
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"runs":     pair.Paths(),
				"retry_in": wait,
			}).Warn("merge failed, runs returned to the pool")

			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		policy.Reset()

		pool.Commit(path, pair.Paths()...)
		deleteRuns(ctx, m.store, logger, pair.Paths()...)

		c.merges.Add(1)
		c.records.Add(n)
		if m.observer != nil {
			m.observer.MergeDone(n)
		}
		logger.WithFields(logrus.Fields{
			"run":     path,
			"records": n,
		}).Debug("runs merged")
	}
}

// dropMissing handles a pair with a run that no longer exists: missing runs
// are forgotten, present ones go back to the queue. It reports whether the
// pair was dropped.
func (m *Tournament) dropMissing(ctx context.Context, pool *runpool.Pool, pair runpool.Pair, logger logrus.FieldLogger) bool {
	var present, missing []string
	for _, path := range pair.Paths() {
		if m.store.Exists(ctx, path) {
			present = append(present, path)
		} else {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return false
	}

	logger.WithField("runs", missing).Warn("claimed runs no longer exist")
	pool.Discard(missing...)
	pool.Release(present...)
	return true
}

func (m *Tournament) mergePair(ctx context.Context, pair runpool.Pair) (string, int64, error) {
	readers, closeAll, err := openRuns(ctx, m.store, pair.Paths())
	if err != nil {
		return "", 0, err
	}
	defer closeAll()

	name := runName(pair.A, pair.B)
	n, err := writeRun(ctx, m.store, name, func(w *recordio.Writer) error {
		a, b := readers[0], readers[1]
		if err := Two(w, cancellable(ctx, a.All()), cancellable(ctx, b.All())); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return readErr(a, b)
	})
	if err != nil {
		return "", 0, err
	}

	path, err := m.store.Publish(ctx, name)
	if err != nil {
		if derr := m.store.Discard(ctx, name); derr != nil {
			err = errors.Join(err, derr)
		}
		return "", 0, err
	}
	return path, n, nil
}
