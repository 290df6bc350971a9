package hugesort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"gopkg.in/yaml.v2"

	"github.com/Trifunovich/hugesort/chunk"
	"github.com/Trifunovich/hugesort/merge"
	"github.com/Trifunovich/hugesort/runpool"
)

const (
	DefaultBatchRecords  = 1_000_000
	DefaultQueueCapacity = 100_000

	// fallbackBatchBytes is used when total memory cannot be determined.
	fallbackBatchBytes = 64 << 20
	// memoryShare is the fraction of total memory, as a divisor, that all
	// batches together may hold in formatted bytes.
	memoryShare = 8
)

var ErrInvalidConfig = errors.New("hugesort: invalid config")

// MergeStrategy selects how runs are merged.
type MergeStrategy string

const (
	// MergeTournament merges pairs of runs concurrently while runs are
	// still produced.
	MergeTournament MergeStrategy = "tournament"
	// MergeKWay merges every run in one pass through a heap once
	// production has finished.
	MergeKWay MergeStrategy = "kway"
	// MergeLoser is MergeKWay with a loser tree instead of a heap.
	MergeLoser MergeStrategy = "loser"
)

// ReaderStrategy selects how the input is read.
type ReaderStrategy string

const (
	ReaderStream ReaderStrategy = "stream"
	ReaderMmap   ReaderStrategy = "mmap"
)

// StorageKind selects where runs are kept.
type StorageKind string

const (
	StorageLocal StorageKind = "local"
	// StorageMemory keeps every run in memory. Only the output is written.
	StorageMemory StorageKind = "memory"
)

// Config describes one sort. Zero fields take defaults.
type Config struct {
	InputPath  string      `yaml:"input"`
	OutputPath string      `yaml:"output"`
	// WorkDir holds the run directory of each sort, a fresh chunks_<uuid>
	// subdirectory. Only that subdirectory is ever removed.
	WorkDir    string      `yaml:"work_dir"`
	Storage    StorageKind `yaml:"storage"`

	// BatchRecords and BatchBytes bound a run writer's in-memory batch;
	// whichever is reached first spills it.
	BatchRecords  int   `yaml:"batch_records"`
	BatchBytes    int64 `yaml:"batch_bytes"`
	QueueCapacity int   `yaml:"queue_capacity"`
	BlockSize     int   `yaml:"block_size"`

	Workers      int            `yaml:"workers"`
	MergeWorkers int            `yaml:"merge_workers"`
	Merge        MergeStrategy  `yaml:"merge"`
	Reader       ReaderStrategy `yaml:"reader"`

	PollInterval time.Duration `yaml:"poll_interval"`
	MergeRetries int           `yaml:"merge_retries"`
	KeepWorkDir  bool          `yaml:"keep_work_dir"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("hugesort: read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// WithDefaults returns a copy of c with every unset field filled in.
func (c Config) WithDefaults() Config {
	if c.InputPath != "" {
		dir := filepath.Dir(c.InputPath)
		if c.OutputPath == "" {
			ext := filepath.Ext(c.InputPath)
			name := strings.TrimSuffix(filepath.Base(c.InputPath), ext)
			c.OutputPath = filepath.Join(dir, name+"_sorted"+ext)
		}
		if c.WorkDir == "" {
			c.WorkDir = dir
		}
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MergeWorkers == 0 {
		c.MergeWorkers = runtime.NumCPU()
	}
	if c.BatchRecords == 0 {
		c.BatchRecords = DefaultBatchRecords
	}
	if c.BatchBytes == 0 {
		c.BatchBytes = defaultBatchBytes(c.Workers)
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.BlockSize == 0 {
		c.BlockSize = chunk.DefaultBlockSize
	}
	if c.Merge == "" {
		c.Merge = MergeTournament
	}
	if c.Reader == "" {
		c.Reader = ReaderStream
	}
	if c.Storage == "" {
		c.Storage = StorageLocal
	}
	if c.PollInterval == 0 {
		c.PollInterval = runpool.DefaultPollInterval
	}
	if c.MergeRetries == 0 {
		c.MergeRetries = merge.DefaultRetries
	}
	return c
}

func defaultBatchBytes(workers int) int64 {
	total := memory.TotalMemory()
	if total == 0 || workers <= 0 {
		return fallbackBatchBytes
	}
	return max(int64(total/memoryShare)/int64(workers), 1<<20)
}

// Validate reports the first problem with c, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var problem string
	switch {
	case c.InputPath == "":
		problem = "input path is required"
	case c.OutputPath == "":
		problem = "output path is required"
	case filepath.Clean(c.OutputPath) == filepath.Clean(c.InputPath):
		problem = "output path must differ from input path"
	case c.WorkDir == "":
		problem = "work dir is required"
	case c.Workers < 1, c.MergeWorkers < 1:
		problem = "workers must be positive"
	case c.BatchRecords < 1, c.BatchBytes < 1:
		problem = "batch limits must be positive"
	case c.QueueCapacity < 1:
		problem = "queue capacity must be positive"
	case c.BlockSize < 1:
		problem = "block size must be positive"
	case c.PollInterval <= 0:
		problem = "poll interval must be positive"
	case c.MergeRetries < 0:
		problem = "merge retries must not be negative"
	case c.Merge != MergeTournament && c.Merge != MergeKWay && c.Merge != MergeLoser:
		problem = fmt.Sprintf("unknown merge strategy %q", c.Merge)
	case c.Reader != ReaderStream && c.Reader != ReaderMmap:
		problem = fmt.Sprintf("unknown reader %q", c.Reader)
	case c.Storage != StorageLocal && c.Storage != StorageMemory:
		problem = fmt.Sprintf("unknown storage %q", c.Storage)
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, problem)
}
