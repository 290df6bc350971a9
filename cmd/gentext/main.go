// Command gentext writes a synthetic input file for hugesort.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort/generator"
)

type Options struct {
	SizeGB float64 `short:"s" long:"size" description:"target size in GiB" default:"1"`
	Lines  int     `short:"n" long:"lines" description:"write exactly this many lines instead of a target size"`
	Ratio  float64 `short:"r" long:"ratio" description:"share of lines reusing an earlier text, within [0, 1]" default:"0.1"`
	Length int     `long:"length" description:"characters per text" default:"10"`
	Seed   uint64  `long:"seed" description:"random seed (default: time based)"`
	Output string  `short:"o" long:"output" description:"output file (default: input_file_<date>_<size>.txt in the current directory)"`
	Force  bool    `short:"f" long:"force" description:"overwrite an existing output file"`
}

var errExists = errors.New("gentext: output file already exists")

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)

	path, written, err := run(opts, time.Now())
	if err != nil {
		log.WithError(err).Fatal("generation failed")
	}
	log.WithFields(logrus.Fields{
		"output": path,
		"bytes":  written,
	}).Info("file generation complete")
}

func run(opts Options, now time.Time) (string, int64, error) {
	path := opts.Output
	if path == "" {
		path = fmt.Sprintf("input_file_%s_%g.txt", now.Format("20060102"), opts.SizeGB)
	}
	if !opts.Force {
		if _, err := os.Stat(path); err == nil {
			return path, 0, fmt.Errorf("%w: %s", errExists, path)
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(now.UnixNano())
	}
	g, err := generator.New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), opts.Ratio)
	if err != nil {
		return path, 0, err
	}
	if opts.Length > 0 {
		g.StringLength = opts.Length
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return path, 0, err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	var written int64
	if opts.Lines > 0 {
		written, err = g.WriteLines(w, opts.Lines)
	} else {
		written, err = g.WriteSize(w, int64(opts.SizeGB*(1<<30)))
	}
	if err != nil {
		return path, written, err
	}
	if err := w.Flush(); err != nil {
		return path, written, err
	}
	return path, written, f.Close()
}
