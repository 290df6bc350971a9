// Command hugesort sorts a text file of "<number>. <text>" lines that may be
// much larger than memory.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort"
	"github.com/Trifunovich/hugesort/metrics"
)

// Options represents command line options. Flags override the config file.
type Options struct {
	Config        string        `short:"c" long:"config" description:"YAML config file"`
	Output        string        `short:"o" long:"output" description:"output file (default: <input>_sorted)"`
	WorkDir       string        `long:"work-dir" description:"parent of the run directory, a fresh chunks_<uuid> subdirectory (default: next to the input)"`
	Storage       string        `short:"s" long:"storage" description:"where runs are kept" choice:"local" choice:"memory"`
	BatchRecords  int           `long:"batch-records" description:"records per in-memory batch"`
	BatchBytes    int64         `long:"batch-bytes" description:"bytes per in-memory batch"`
	QueueCapacity int           `long:"queue" description:"capacity of the record queue"`
	BlockSize     int           `long:"block-size" description:"bytes read from the input per step"`
	Workers       int           `short:"w" long:"workers" description:"run writers (default: number of CPUs)"`
	MergeWorkers  int           `long:"merge-workers" description:"tournament merge workers (default: number of CPUs)"`
	Merge         string        `short:"m" long:"merge" description:"merge strategy" choice:"tournament" choice:"kway" choice:"loser"`
	Reader        string        `short:"r" long:"reader" description:"input reader" choice:"stream" choice:"mmap"`
	PollInterval  time.Duration `long:"poll-interval" description:"upper bound of a merge worker's wait"`
	MergeRetries  int           `long:"merge-retries" description:"retries of a failed merge before giving up"`
	KeepWorkDir   bool          `long:"keep-work-dir" description:"do not remove intermediate runs"`
	MetricsAddr   string        `long:"metrics-addr" description:"serve Prometheus metrics on this address while sorting"`
	Verbose       bool          `short:"v" long:"verbose" description:"log debug output"`

	Args struct {
		Input string `positional-arg-name:"input" description:"file to sort"`
	} `positional-args:"yes"`
}

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
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	if opts.MetricsAddr != "" {
		go serveMetrics(log, opts.MetricsAddr, reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := hugesort.New(cfg, hugesort.WithLogger(log), hugesort.WithMetrics(m))
	if errors.Is(err, hugesort.ErrSourceNotFound) {
		log.WithField("input", cfg.InputPath).Fatal("input file not found")
	}
	if err != nil {
		log.WithError(err).Fatal("failed to create sorter")
	}

	res, err := s.Sort(ctx)
	if err != nil {
		log.WithError(err).Fatal("sort failed")
	}

	log.WithFields(logrus.Fields{
		"output":   res.Output,
		"records":  res.Produce.Input.Records,
		"skipped":  res.Produce.Input.Skipped,
		"runs":     res.Produce.Runs,
		"merges":   res.Merge.Merges,
		"retries":  res.Merge.Retries,
		"duration": res.Duration.Round(time.Millisecond),
	}).Info("sorted")

	for _, w := range res.Produce.Writers {
		log.WithFields(logrus.Fields{
			"worker":  w.Worker,
			"records": w.Records,
			"runs":    w.Runs,
		}).Debug("run writer")
	}
}

// buildConfig loads the config file, if any, and applies flags on top.
func buildConfig(opts Options) (hugesort.Config, error) {
	var cfg hugesort.Config
	if opts.Config != "" {
		var err error
		if cfg, err = hugesort.LoadConfig(opts.Config); err != nil {
			return cfg, err
		}
	}

	setString(&cfg.InputPath, opts.Args.Input)
	setString(&cfg.OutputPath, opts.Output)
	setString(&cfg.WorkDir, opts.WorkDir)
	setNumber(&cfg.BatchRecords, opts.BatchRecords)
	setNumber(&cfg.BatchBytes, opts.BatchBytes)
	setNumber(&cfg.QueueCapacity, opts.QueueCapacity)
	setNumber(&cfg.BlockSize, opts.BlockSize)
	setNumber(&cfg.Workers, opts.Workers)
	setNumber(&cfg.MergeWorkers, opts.MergeWorkers)
	setNumber(&cfg.PollInterval, opts.PollInterval)
	setNumber(&cfg.MergeRetries, opts.MergeRetries)
	if opts.Merge != "" {
		cfg.Merge = hugesort.MergeStrategy(opts.Merge)
	}
	if opts.Reader != "" {
		cfg.Reader = hugesort.ReaderStrategy(opts.Reader)
	}
	if opts.Storage != "" {
		cfg.Storage = hugesort.StorageKind(opts.Storage)
	}
	if opts.KeepWorkDir {
		cfg.KeepWorkDir = true
	}

	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setNumber[T int | int64 | time.Duration](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

func serveMetrics(log logrus.FieldLogger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("metrics server stopped")
	}
}
