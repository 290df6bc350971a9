// Package generator produces synthetic input files of "<number>. <text>"
// lines. A share of the texts repeats earlier ones, so that sorting has to
// break ties on the number.
package generator

import (
	"bufio"
	"errors"
	"io"
	"math/rand/v2"
	"strconv"

	"github.com/Trifunovich/hugesort/record"
)

const (
	DefaultStringLength = 10
	DefaultMaxStored    = 10000

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz "
)

var ErrInvalidRatio = errors.New("generator: repetition ratio must be within [0, 1]")

// Generator is not safe for concurrent use.
type Generator struct {
	Rand            *rand.Rand
	RepetitionRatio float64
	StringLength    int
	// MaxStored caps how many texts are remembered for repetition. Once
	// full, new texts replace random old ones.
	MaxStored int

	stored []string
	buf    []byte
}

// New returns a generator with default lengths.
func New(r *rand.Rand, repetitionRatio float64) (*Generator, error) {
	if repetitionRatio < 0 || repetitionRatio > 1 {
		return nil, ErrInvalidRatio
	}
	return &Generator{
		Rand:            r,
		RepetitionRatio: repetitionRatio,
		StringLength:    DefaultStringLength,
		MaxStored:       DefaultMaxStored,
	}, nil
}

// Line returns one line without the trailing newline.
func (g *Generator) Line() string {
	return strconv.FormatInt(int64(g.Rand.Int32()), 10) + record.Separator + g.text()
}

func (g *Generator) text() string {
	if len(g.stored) > 0 && g.Rand.Float64() < g.RepetitionRatio {
		return g.stored[g.Rand.IntN(len(g.stored))]
	}

	b := make([]byte, g.StringLength)
	for i := range b {
		b[i] = alphabet[g.Rand.IntN(len(alphabet))]
	}
	s := string(b)

	switch {
	case g.MaxStored <= 0:
	case len(g.stored) < g.MaxStored:
		g.stored = append(g.stored, s)
	default:
		g.stored[g.Rand.IntN(len(g.stored))] = s
	}
	return s
}

// WriteLines writes n lines to w and returns the number of bytes written.
func (g *Generator) WriteLines(w io.Writer, n int) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for range n {
		m, err := g.writeLine(bw)
		written += int64(m)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// WriteSize writes whole lines to w until at least size bytes are written.
func (g *Generator) WriteSize(w io.Writer, size int64) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for written < size {
		m, err := g.writeLine(bw)
		written += int64(m)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

func (g *Generator) writeLine(w io.Writer) (int, error) {
	g.buf = append(g.buf[:0], g.Line()...)
	g.buf = append(g.buf, '\n')
	return w.Write(g.buf)
}
