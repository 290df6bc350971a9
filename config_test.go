package hugesort

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{InputPath: filepath.Join("data", "input.txt")}.WithDefaults()

	assert.Equal(t, filepath.Join("data", "input_sorted.txt"), cfg.OutputPath)
	assert.Equal(t, "data", cfg.WorkDir)
	assert.Equal(t, StorageLocal, cfg.Storage)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, runtime.NumCPU(), cfg.MergeWorkers)
	assert.Equal(t, DefaultBatchRecords, cfg.BatchRecords)
	assert.Positive(t, cfg.BatchBytes)
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, MergeTournament, cfg.Merge)
	assert.Equal(t, ReaderStream, cfg.Reader)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MergeRetries)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_WithDefaultsKeepsValues(t *testing.T) {
	in := Config{
		InputPath:     "in",
		OutputPath:    "out",
		WorkDir:       "work",
		Storage:       StorageMemory,
		BatchRecords:  10,
		BatchBytes:    20,
		QueueCapacity: 30,
		BlockSize:     40,
		Workers:       2,
		MergeWorkers:  3,
		Merge:         MergeKWay,
		Reader:        ReaderMmap,
		PollInterval:  time.Second,
		MergeRetries:  5,
		KeepWorkDir:   true,
	}

	assert.Equal(t, in, in.WithDefaults())
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{InputPath: "in.txt"}.WithDefaults()

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "missing input", modify: func(c *Config) { c.InputPath = "" }},
		{name: "output equals input", modify: func(c *Config) { c.OutputPath = "./in.txt" }},
		{name: "missing work dir", modify: func(c *Config) { c.WorkDir = "" }},
		{name: "negative workers", modify: func(c *Config) { c.Workers = -1 }},
		{name: "negative merge workers", modify: func(c *Config) { c.MergeWorkers = -1 }},
		{name: "negative batch", modify: func(c *Config) { c.BatchRecords = -1 }},
		{name: "negative queue", modify: func(c *Config) { c.QueueCapacity = -1 }},
		{name: "negative block", modify: func(c *Config) { c.BlockSize = -1 }},
		{name: "negative poll", modify: func(c *Config) { c.PollInterval = -time.Second }},
		{name: "negative retries", modify: func(c *Config) { c.MergeRetries = -1 }},
		{name: "unknown merge", modify: func(c *Config) { c.Merge = "bubble" }},
		{name: "unknown reader", modify: func(c *Config) { c.Reader = "telepathy" }},
		{name: "unknown storage", modify: func(c *Config) { c.Storage = "tape" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Config
		wantErr error
	}{
		{
			name: "full file",
			content: `input: /data/in.txt
output: /data/out.txt
work_dir: /tmp/work
storage: memory
batch_records: 500
batch_bytes: 1048576
queue_capacity: 64
block_size: 4096
workers: 2
merge_workers: 4
merge: kway
reader: mmap
poll_interval: 50ms
merge_retries: 5
keep_work_dir: true
`,
			want: Config{
				InputPath:     "/data/in.txt",
				OutputPath:    "/data/out.txt",
				WorkDir:       "/tmp/work",
				Storage:       StorageMemory,
				BatchRecords:  500,
				BatchBytes:    1 << 20,
				QueueCapacity: 64,
				BlockSize:     4096,
				Workers:       2,
				MergeWorkers:  4,
				Merge:         MergeKWay,
				Reader:        ReaderMmap,
				PollInterval:  50 * time.Millisecond,
				MergeRetries:  5,
				KeepWorkDir:   true,
			},
		},
		{
			name:    "partial file",
			content: "input: in.txt\n",
			want:    Config{InputPath: "in.txt"},
		},
		{
			name:    "unknown key",
			content: "inptu: in.txt\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "not yaml",
			content: "input: [\n",
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			got, err := LoadConfig(path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
