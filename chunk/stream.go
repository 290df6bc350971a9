package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Trifunovich/hugesort/record"
)

// StreamProducer reads the input in fixed-size blocks.
type StreamProducer struct {
	path string
	opts options
}

func NewStreamProducer(path string, opts ...Option) *StreamProducer {
	return &StreamProducer{path: path, opts: newOptions(opts)}
}

func (p *StreamProducer) Produce(ctx context.Context, out chan<- record.Record) (Stats, error) {
	defer close(out)

	var stats Stats
	f, size, err := openSource(p.path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	adviseSequential(f)

	e := &emitter{ctx: ctx, out: out, stats: &stats}
	s := &splitter{emit: e.emit}
	prog := newProgress(p.opts.logger, p.path, size)
	buf := make([]byte, p.opts.blockSize)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			stats.Bytes += int64(n)
			if ferr := s.feed(buf[:n]); ferr != nil {
				return stats, ferr
			}
			prog.update(stats.Bytes)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("chunk: read %s: %w", p.path, err)
		}
	}

	return stats, s.finish()
}
