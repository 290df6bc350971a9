package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort/record"
	"github.com/Trifunovich/hugesort/recordio"
	"github.com/Trifunovich/hugesort/runpool"
)

// checkEvery is how many records are merged between context checks.
const checkEvery = 4096

var ErrIncomplete = errors.New("merge: more than one run left after merging")

// Merger merges all runs of a pool into output.
type Merger interface {
	Merge(ctx context.Context, pool *runpool.Pool, output string) (Stats, error)
}

// Store holds run files.
type Store interface {
	// Create a new pending file for writing.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Publish a pending file and return its path.
	Publish(ctx context.Context, name string) (string, error)
	// Discard a pending file.
	Discard(ctx context.Context, name string) error
	// Open a published file for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Exists reports whether a published file is present.
	Exists(ctx context.Context, path string) bool
	// Delete a published file.
	Delete(ctx context.Context, path string) error
	// Promote moves a published or pending file to dst.
	Promote(ctx context.Context, src, dst string) error
}

// Observer is told about merge progress.
type Observer interface {
	MergeDone(records int64)
	MergeRetried()
}

// Stats summarises a merge.
type Stats struct {
	Merges  int64
	Retries int64
	Records int64
}

// Two merges two sorted sequences into w. When records are equal the one
// from a is written first.
func Two(w *recordio.Writer, a, b iter.Seq[record.Record]) error {
	nextA, stopA := iter.Pull(a)
	defer stopA()
	nextB, stopB := iter.Pull(b)
	defer stopB()

	ra, okA := nextA()
	rb, okB := nextB()
	for okA && okB {
		if record.Less(rb, ra) {
			if err := w.Write(rb); err != nil {
				return err
			}
			rb, okB = nextB()
			continue
		}
		if err := w.Write(ra); err != nil {
			return err
		}
		ra, okA = nextA()
	}
	for ; okA; ra, okA = nextA() {
		if err := w.Write(ra); err != nil {
			return err
		}
	}
	for ; okB; rb, okB = nextB() {
		if err := w.Write(rb); err != nil {
			return err
		}
	}
	return nil
}

// runName derives a merged run's name from the runs it is made of. Inputs
// are consumed exactly once, so the name is unique while they exist.
func runName(inputs ...string) string {
	d := xxhash.New()
	for _, in := range inputs {
		_, _ = d.WriteString(filepath.Base(in))
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("merge_%016x.run", d.Sum64())
}

// writeRun creates a pending file called name and fills it. On failure the
// pending file is discarded.
func writeRun(ctx context.Context, store Store, name string, fill func(w *recordio.Writer) error) (int64, error) {
	wc, err := store.Create(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("merge: create %s: %w", name, err)
	}

	w := recordio.NewWriter(wc)
	err = fill(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := wc.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("merge: close %s: %w", name, cerr)
	}
	if err != nil {
		if derr := store.Discard(ctx, name); derr != nil {
			err = errors.Join(err, derr)
		}
		return 0, err
	}
	return w.Count(), nil
}

// finish turns what is left after merging into the output file.
func finish(ctx context.Context, store Store, remaining []string, output string) error {
	switch len(remaining) {
	case 0:
		name := runName(output)
		if _, err := writeRun(ctx, store, name, func(*recordio.Writer) error { return nil }); err != nil {
			return err
		}
		return store.Promote(ctx, name, output)
	case 1:
		return store.Promote(ctx, remaining[0], output)
	default:
		return fmt.Errorf("%w: %d runs", ErrIncomplete, len(remaining))
	}
}

// openRuns opens a reader per path. The returned closer closes all of them
// and may be called more than once.
func openRuns(ctx context.Context, store Store, paths []string) ([]*recordio.Reader, func(), error) {
	var (
		readers = make([]*recordio.Reader, 0, len(paths))
		files   = make([]io.Closer, 0, len(paths))
	)
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
		files = nil
	}

	for _, path := range paths {
		rc, err := store.Open(ctx, path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, rc)
		readers = append(readers, recordio.NewReader(rc))
	}
	return readers, closeAll, nil
}

// readErr returns the first read error of any reader.
func readErr(readers ...*recordio.Reader) error {
	for _, r := range readers {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}

// cancellable stops seq once ctx is done. The caller must check ctx.Err
// afterwards to tell a cancelled sequence from a finished one.
func cancellable(ctx context.Context, seq iter.Seq[record.Record]) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		n := 0
		for rec := range seq {
			if n++; n%checkEvery == 0 && ctx.Err() != nil {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func deleteRuns(ctx context.Context, store Store, logger logrus.FieldLogger, paths ...string) {
	for _, path := range paths {
		if err := store.Delete(ctx, path); err != nil {
			logger.WithError(err).WithField("run", path).Warn("failed to delete merged run")
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
