package hugesort

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Trifunovich/hugesort/chunk"
	"github.com/Trifunovich/hugesort/merge"
	"github.com/Trifunovich/hugesort/metrics"
	"github.com/Trifunovich/hugesort/record"
	"github.com/Trifunovich/hugesort/rotation"
	"github.com/Trifunovich/hugesort/rotation/strategy/bytesize"
	"github.com/Trifunovich/hugesort/rotation/strategy/composite"
	"github.com/Trifunovich/hugesort/rotation/strategy/messagecount"
	"github.com/Trifunovich/hugesort/runpool"
	"github.com/Trifunovich/hugesort/runwriter"
	"github.com/Trifunovich/hugesort/storage/local"
	"github.com/Trifunovich/hugesort/storage/memory"
)

// ErrSourceNotFound is returned when the input file does not exist.
var ErrSourceNotFound = chunk.ErrSourceNotFound

// Store holds the runs of one sort.
type Store interface {
	merge.Store
	// Dir returns the directory runs are published in.
	Dir() string
	// Cleanup removes every run and the directory holding them.
	Cleanup() error
}

// ProduceStats summarises run production.
type ProduceStats struct {
	Input   chunk.Stats
	Writers []runwriter.Stats
	Runs    int64
}

// Result describes a finished sort.
type Result struct {
	Output   string
	Produce  ProduceStats
	Merge    merge.Stats
	Duration time.Duration
}

// Sorter sorts one input file. It is meant to be used once.
type Sorter struct {
	cfg      Config
	opts     options
	logger   logrus.FieldLogger
	store    Store
	pool     *runpool.Pool
	strategy rotation.Strategy
	producer chunk.Producer
	merger   merge.Merger
}

// New validates cfg, checks that the input exists and prepares a fresh run
// directory under Config.WorkDir.
func New(cfg Config, opts ...Option) (*Sorter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultOptions().logger
	}

	if err := checkSource(cfg.InputPath); err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = newStore(cfg); err != nil {
			return nil, err
		}
	}

	s := &Sorter{
		cfg:    cfg,
		opts:   o,
		logger: o.logger.WithField("input", cfg.InputPath),
		store:  store,
		pool: runpool.New(
			runpool.WithPollInterval(cfg.PollInterval),
			runpool.WithObserver(o.metrics),
		),
		strategy: composite.NewStrategy(
			messagecount.NewStrategy(cfg.BatchRecords),
			bytesize.NewStrategy(cfg.BatchBytes),
		),
		producer: o.producer,
		merger:   o.merger,
	}
	if s.producer == nil {
		s.producer = s.newProducer()
	}
	if s.merger == nil {
		s.merger = s.newMerger()
	}
	return s, nil
}

func newStore(cfg Config) (Store, error) {
	dir := filepath.Join(cfg.WorkDir, "chunks_"+uuid.NewString())
	if cfg.Storage == StorageMemory {
		return memory.NewMemoryStorage(dir), nil
	}
	store, err := local.NewLocalStorage(dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Sorter) newProducer() chunk.Producer {
	opts := []chunk.Option{
		chunk.WithBlockSize(s.cfg.BlockSize),
		chunk.WithLogger(s.logger),
	}
	if s.cfg.Reader == ReaderMmap {
		return chunk.NewMmapProducer(s.cfg.InputPath, opts...)
	}
	return chunk.NewStreamProducer(s.cfg.InputPath, opts...)
}

func (s *Sorter) newMerger() merge.Merger {
	switch s.cfg.Merge {
	case MergeKWay, MergeLoser:
		opts := []merge.KWayOption{
			merge.WithKWayLogger(s.logger),
			merge.WithKWayObserver(s.opts.metrics),
		}
		if s.cfg.Merge == MergeLoser {
			opts = append(opts, merge.WithLoserTree())
		}
		return merge.NewKWay(s.store, opts...)
	default:
		return merge.NewTournament(s.store,
			merge.WithWorkers(s.cfg.MergeWorkers),
			merge.WithBackOff(merge.ConstantBackOff(s.cfg.PollInterval, uint64(s.cfg.MergeRetries))),
			merge.WithTournamentLogger(s.logger),
			merge.WithTournamentObserver(s.opts.metrics),
		)
	}
}

// WorkDir returns the run directory of this sort.
func (s *Sorter) WorkDir() string {
	return s.store.Dir()
}

// Config returns the effective configuration, defaults included.
func (s *Sorter) Config() Config {
	return s.cfg
}

// Pool returns the pool runs are exchanged through.
func (s *Sorter) Pool() *runpool.Pool {
	return s.pool
}

// ProduceRuns reads the whole input into sorted runs and marks the pool
// finished. On failure the pool is left unfinished.
func (s *Sorter) ProduceRuns(ctx context.Context) (ProduceStats, error) {
	var stats ProduceStats
	if err := checkSource(s.cfg.InputPath); err != nil {
		return stats, err
	}

	start := time.Now()
	queue := make(chan record.Record, s.cfg.QueueCapacity)
	stats.Writers = make([]runwriter.Stats, s.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.Input, err = s.producer.Produce(gctx, queue)
		if err != nil {
			return fmt.Errorf("hugesort: read input: %w", err)
		}
		return nil
	})
	for i := range s.cfg.Workers {
		w := runwriter.New(i, s.store, s.pool, s.strategy,
			runwriter.WithLogger(s.logger),
			runwriter.WithObserver(s.opts.metrics),
		)
		g.Go(func() error {
			var err error
			stats.Writers[i], err = w.Run(gctx, queue)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for _, ws := range stats.Writers {
		stats.Runs += ws.Runs
	}
	s.pool.Finish()

	s.opts.metrics.AddRecords(stats.Input.Records, stats.Input.Skipped)
	s.opts.metrics.ObserveStage(metrics.StageProduce, time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"records":  stats.Input.Records,
		"skipped":  stats.Input.Skipped,
		"runs":     stats.Runs,
		"duration": time.Since(start),
	}).Info("run production finished")
	return stats, nil
}

// MergeRuns waits for the first run, or for production to finish, and
// merges every run into the output file.
func (s *Sorter) MergeRuns(ctx context.Context) (merge.Stats, error) {
	if err := s.pool.WaitReady(ctx); err != nil {
		return merge.Stats{}, err
	}

	start := time.Now()
	stats, err := s.merger.Merge(ctx, s.pool, s.cfg.OutputPath)
	if err != nil {
		return stats, fmt.Errorf("hugesort: merge runs: %w", err)
	}

	s.opts.metrics.ObserveStage(metrics.StageMerge, time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"merges":   stats.Merges,
		"retries":  stats.Retries,
		"output":   s.cfg.OutputPath,
		"duration": time.Since(start),
	}).Info("merge finished")
	return stats, nil
}

// Sort produces and merges runs concurrently, then removes the run
// directory unless Config.KeepWorkDir is set. The run directory is removed
// on failure too.
func (s *Sorter) Sort(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res.Output = s.cfg.OutputPath

	if !s.cfg.KeepWorkDir {
		defer func() {
			if cerr := s.store.Cleanup(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res.Produce, err = s.ProduceRuns(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		res.Merge, err = s.MergeRuns(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	s.opts.metrics.ObserveStage(metrics.StageSort, res.Duration)
	return res, nil
}

func checkSource(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("hugesort: stat input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidConfig, path)
	}
	return nil
}
