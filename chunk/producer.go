package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort/record"
)

// DefaultBlockSize is the number of bytes read or scanned per step.
const DefaultBlockSize = 4 << 20

var ErrSourceNotFound = errors.New("chunk: source file not found")

// Producer reads an input and sends its records to out. Implementations
// must close out before returning, whatever the outcome.
type Producer interface {
	Produce(ctx context.Context, out chan<- record.Record) (Stats, error)
}

// Stats describes what a producer read.
type Stats struct {
	Lines   int64
	Records int64
	Skipped int64
	Bytes   int64
}

type options struct {
	blockSize int
	logger    logrus.FieldLogger
}

type Option func(*options)

// WithBlockSize sets the block size. Values below 1 are ignored.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithLogger sets the logger progress is reported to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	o := options{
		blockSize: DefaultBlockSize,
		logger:    discard,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// openSource opens path for reading and maps a missing file to
// ErrSourceNotFound.
func openSource(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, 0, fmt.Errorf("chunk: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("chunk: stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}

// emitter parses lines and forwards the records, blocking while out is full.
type emitter struct {
	ctx   context.Context
	out   chan<- record.Record
	stats *Stats
}

func (e *emitter) emit(line []byte) error {
	e.stats.Lines++
	rec, ok := record.Parse(string(line))
	if !ok {
		e.stats.Skipped++
		return nil
	}

	select {
	case e.out <- rec:
		e.stats.Records++
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// progress logs every tenth of the input.
type progress struct {
	logger logrus.FieldLogger
	total  int64
	next   int
}

func newProgress(logger logrus.FieldLogger, path string, total int64) *progress {
	return &progress{
		logger: logger.WithField("path", path),
		total:  total,
		next:   10,
	}
}

func (p *progress) update(read int64) {
	if p.total <= 0 {
		return
	}
	pct := int(read * 100 / p.total)
	for pct >= p.next && p.next <= 100 {
		p.logger.WithField("percent", p.next).Info("reading input")
		p.next += 10
	}
}
