package runwriter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort/record"
	"github.com/Trifunovich/hugesort/recordio"
	"github.com/Trifunovich/hugesort/rotation"
)

// Storage creates run files. Files are invisible until published.
type Storage interface {
	// Create a new pending file for writing.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Publish a pending file and return its path.
	Publish(ctx context.Context, name string) (string, error)
	// Discard a pending file that could not be completed.
	Discard(ctx context.Context, name string) error
}

// Sink receives every published run.
type Sink interface {
	Push(path string)
}

// Observer is told about every run written.
type Observer interface {
	RunWritten(records, bytes int64)
}

// Stats summarises one writer's work.
type Stats struct {
	Worker  int
	Records int64
	Runs    int64
	Bytes   int64
}

// entry is a distinct record and the number of times it was seen.
type entry struct {
	rec   record.Record
	count int
}

type Option func(*Writer)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(w *Writer) {
		w.observer = o
	}
}

// Writer is not safe for concurrent use; run one per goroutine.
type Writer struct {
	worker   int
	storage  Storage
	sink     Sink
	strategy rotation.Strategy
	logger   logrus.FieldLogger
	observer Observer

	batch *btree.BTreeG[entry]
	info  rotation.Information
	index int
	stats Stats
}

func New(worker int, storage Storage, sink Sink, strategy rotation.Strategy, opts ...Option) *Writer {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	w := &Writer{
		worker:   worker,
		storage:  storage,
		sink:     sink,
		strategy: strategy,
		logger:   discard,
		batch: btree.NewG[entry](32, func(a, b entry) bool {
			return record.Less(a.rec, b.rec)
		}),
		stats: Stats{Worker: worker},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithField("worker", worker)
	return w
}

// Run consumes in until it is closed, spilling a run whenever the batch is
// full and once more for whatever is left at the end.
func (w *Writer) Run(ctx context.Context, in <-chan record.Record) (Stats, error) {
	for {
		select {
		case <-ctx.Done():
			return w.stats, ctx.Err()
		case rec, ok := <-in:
			if !ok {
				if w.batch.Len() > 0 {
					if err := w.spill(ctx); err != nil {
						return w.stats, err
					}
				}
				w.logger.WithFields(logrus.Fields{
					"records": w.stats.Records,
					"runs":    w.stats.Runs,
				}).Debug("run writer finished")
				return w.stats, nil
			}

			w.add(rec)
			if w.strategy.ShouldRotate(w.info) {
				if err := w.spill(ctx); err != nil {
					return w.stats, err
				}
			}
		}
	}
}

func (w *Writer) add(rec record.Record) {
	e, found := w.batch.Get(entry{rec: rec})
	if found {
		e.count++
	} else {
		e = entry{rec: rec, count: 1}
	}
	w.batch.ReplaceOrInsert(e)

	w.info.Records++
	w.info.Bytes += recordio.Size(rec)
}

func (w *Writer) spill(ctx context.Context) error {
	name := fmt.Sprintf("chunk_%d_%d.run", w.index, w.worker)
	w.index++

	written, err := w.writeRun(ctx, name)
	if err != nil {
		if derr := w.storage.Discard(ctx, name); derr != nil {
			err = errors.Join(err, derr)
		}
		return fmt.Errorf("runwriter: spill %s: %w", name, err)
	}

	path, err := w.storage.Publish(ctx, name)
	if err != nil {
		if derr := w.storage.Discard(ctx, name); derr != nil {
			err = errors.Join(err, derr)
		}
		return fmt.Errorf("runwriter: publish %s: %w", name, err)
	}
	w.sink.Push(path)

	w.stats.Runs++
	w.stats.Records += written.Count()
	w.stats.Bytes += written.Bytes()
	if w.observer != nil {
		w.observer.RunWritten(written.Count(), written.Bytes())
	}
	w.logger.WithFields(logrus.Fields{
		"run":     path,
		"records": written.Count(),
	}).Debug("run written")

	w.batch.Clear(false)
	w.info = rotation.Information{}
	return nil
}

func (w *Writer) writeRun(ctx context.Context, name string) (*recordio.Writer, error) {
	wc, err := w.storage.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	rw := recordio.NewWriter(wc)
	var writeErr error
	w.batch.Ascend(func(e entry) bool {
		for range e.count {
			if writeErr = rw.Write(e.rec); writeErr != nil {
				return false
			}
		}
		return true
	})
	if writeErr == nil {
		writeErr = rw.Flush()
	}
	if cerr := wc.Close(); writeErr == nil {
		writeErr = cerr
	}
	if writeErr != nil {
		return nil, writeErr
	}
	return rw, nil
}
