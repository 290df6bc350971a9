package recordio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/Trifunovich/hugesort/record"
)

const defaultBufSize = 64 * 1024

var (
	ErrUnsorted   = errors.New("recordio: records must be written in sorted order")
	ErrCorruptRun = errors.New("recordio: run contains a malformed line")
)

// Writer writes records to a run in sort order.
type Writer struct {
	buf     *bufio.Writer
	scratch []byte
	last    record.Record
	count   int64
	bytes   int64
}

func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, defaultBufSize)
}

func NewWriterSize(w io.Writer, size int) *Writer {
	return &Writer{
		buf:     bufio.NewWriterSize(w, size),
		scratch: make([]byte, 0, 256),
	}
}

// Write appends rec. It fails with ErrUnsorted if rec sorts before the
// previously written record.
func (w *Writer) Write(rec record.Record) error {
	if w.count > 0 && record.Less(rec, w.last) {
		return fmt.Errorf("%w: %q after %q", ErrUnsorted, rec.String(), w.last.String())
	}

	w.scratch = record.AppendLine(w.scratch[:0], rec)
	n, err := w.buf.Write(w.scratch)
	w.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("recordio: write record: %w", err)
	}

	w.last = rec
	w.count++
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("recordio: flush: %w", err)
	}
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int64 {
	return w.count
}

// Bytes returns the number of bytes accepted so far, buffered or not.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Reader reads records back from a run.
type Reader struct {
	buf  *bufio.Reader
	err  error
	line int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{buf: bufio.NewReaderSize(r, defaultBufSize)}
}

// Next returns the next record. ok is false at the end of the run or on
// error; Err tells the two apart.
func (r *Reader) Next() (rec record.Record, ok bool) {
	if r.err != nil {
		return record.Record{}, false
	}

	line, err := r.buf.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = fmt.Errorf("recordio: read line %d: %w", r.line+1, err)
		return record.Record{}, false
	}
	if line == "" {
		return record.Record{}, false
	}
	r.line++

	line = strings.TrimSuffix(line, "\n")
	rec, ok = record.Parse(strings.TrimSuffix(line, "\r"))
	if !ok {
		r.err = fmt.Errorf("%w: line %d", ErrCorruptRun, r.line)
		return record.Record{}, false
	}
	return rec, true
}

// All returns an iterator over the remaining records of the run.
func (r *Reader) All() iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		for {
			rec, ok := r.Next()
			if !ok || !yield(rec) {
				return
			}
		}
	}
}

// Err returns the first error met while reading, if any. Reaching the end
// of the run is not an error.
func (r *Reader) Err() error {
	return r.err
}

// ReadRecords reads all records into a slice.
func ReadRecords(r io.Reader) ([]record.Record, error) {
	reader := NewReader(r)
	records := make([]record.Record, 0, 1)
	for rec := range reader.All() {
		records = append(records, rec)
	}
	return records, reader.Err()
}

// Size calculates the number of bytes a record occupies in a run.
func Size(rec record.Record) int64 {
	return int64(record.LineSize(rec))
}
