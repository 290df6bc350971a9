package merge

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort/loser"
	"github.com/Trifunovich/hugesort/priority"
	"github.com/Trifunovich/hugesort/record"
	"github.com/Trifunovich/hugesort/recordio"
	"github.com/Trifunovich/hugesort/runpool"
)

type KWayOption func(*KWay)

// WithLoserTree merges through a loser tree instead of a binary heap.
func WithLoserTree() KWayOption {
	return func(m *KWay) {
		m.loserTree = true
	}
}

func WithKWayLogger(logger logrus.FieldLogger) KWayOption {
	return func(m *KWay) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithKWayObserver(o Observer) KWayOption {
	return func(m *KWay) {
		m.observer = o
	}
}

// KWay merges all runs at once after run production has finished.
type KWay struct {
	store     Store
	loserTree bool
	logger    logrus.FieldLogger
	observer  Observer
}

func NewKWay(store Store, opts ...KWayOption) *KWay {
	m := &KWay{
		store:  store,
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *KWay) Merge(ctx context.Context, pool *runpool.Pool, output string) (Stats, error) {
	var stats Stats

	paths, err := pool.Drain(ctx)
	if err != nil {
		return stats, err
	}
	if len(paths) <= 1 {
		return stats, finish(ctx, m.store, paths, output)
	}

	start := time.Now()
	readers, closeAll, err := openRuns(ctx, m.store, paths)
	if err != nil {
		return stats, fmt.Errorf("merge: open runs: %w", err)
	}
	defer closeAll()

	name := runName(paths...)
	n, err := writeRun(ctx, m.store, name, func(w *recordio.Writer) error {
		var err error
		if m.loserTree {
			err = m.mergeLoser(ctx, w, readers)
		} else {
			err = m.mergeHeap(ctx, w, readers)
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return readErr(readers...)
	})
	if err != nil {
		return stats, fmt.Errorf("merge: %d runs: %w", len(paths), err)
	}

	if err := m.store.Promote(ctx, name, output); err != nil {
		return stats, err
	}
	closeAll()
	deleteRuns(ctx, m.store, m.logger, paths...)

	stats.Merges = 1
	stats.Records = n
	if m.observer != nil {
		m.observer.MergeDone(n)
	}
	m.logger.WithFields(logrus.Fields{
		"runs":     len(paths),
		"records":  n,
		"duration": time.Since(start),
	}).Info("k-way merge finished")
	return stats, nil
}

// cursor is the head record of run idx.
type cursor struct {
	rec record.Record
	idx int
}

func (m *KWay) mergeHeap(ctx context.Context, w *recordio.Writer, readers []*recordio.Reader) error {
	q := priority.NewQueue[int, cursor](func(a, b cursor) bool {
		return record.Less(a.rec, b.rec)
	})
	for i, r := range readers {
		if rec, ok := r.Next(); ok {
			q.Set(i, cursor{rec: rec, idx: i})
		}
	}

	for n := 1; ; n++ {
		_, top, ok := q.Peek()
		if !ok {
			return nil
		}
		if err := w.Write(top.rec); err != nil {
			return err
		}
		if next, ok := readers[top.idx].Next(); ok {
			q.ReplaceTop(cursor{rec: next, idx: top.idx})
		} else {
			q.Remove(top.idx)
		}
		if n%checkEvery == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// sequence adapts an iterator to loser.Sequence.
type sequence iter.Seq[record.Record]

func (s sequence) All() iter.Seq[record.Record] {
	return iter.Seq[record.Record](s)
}

func (m *KWay) mergeLoser(ctx context.Context, w *recordio.Writer, readers []*recordio.Reader) error {
	sequences := make([]loser.Sequence[record.Record], len(readers))
	for i, r := range readers {
		sequences[i] = sequence(cancellable(ctx, r.All()))
	}

	tree := loser.New(sequences, record.Less)
	for rec := range tree.All() {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
