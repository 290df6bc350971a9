package chunk

import (
	"context"
	"fmt"

	"github.com/edsrzf/mmap-go"

	"github.com/Trifunovich/hugesort/record"
)

// MmapProducer maps the input read-only and scans it in block-sized
// windows.
type MmapProducer struct {
	path string
	opts options
}

func NewMmapProducer(path string, opts ...Option) *MmapProducer {
	return &MmapProducer{path: path, opts: newOptions(opts)}
}

func (p *MmapProducer) Produce(ctx context.Context, out chan<- record.Record) (stats Stats, err error) {
	defer close(out)

	f, size, err := openSource(p.path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	// Mapping a zero-length file fails on most platforms.
	if size == 0 {
		return stats, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return stats, fmt.Errorf("chunk: map %s: %w", p.path, err)
	}
	defer func() {
		if uerr := m.Unmap(); uerr != nil && err == nil {
			err = fmt.Errorf("chunk: unmap %s: %w", p.path, uerr)
		}
	}()

	adviseMapped(m)

	e := &emitter{ctx: ctx, out: out, stats: &stats}
	s := &splitter{emit: e.emit}
	prog := newProgress(p.opts.logger, p.path, size)

	for off := 0; off < len(m); off += p.opts.blockSize {
		end := min(off+p.opts.blockSize, len(m))
		if err := s.feed(m[off:end]); err != nil {
			return stats, err
		}
		stats.Bytes = int64(end)
		prog.update(stats.Bytes)
	}

	return stats, s.finish()
}
