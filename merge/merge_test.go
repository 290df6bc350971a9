package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trifunovich/hugesort/record"
	"github.com/Trifunovich/hugesort/recordio"
	"github.com/Trifunovich/hugesort/runpool"
	"github.com/Trifunovich/hugesort/storage/local"
	"github.com/Trifunovich/hugesort/storage/memory"
)

var errInjected = errors.New("injected failure")

func parse(t *testing.T, lines ...string) []record.Record {
	t.Helper()
	records := make([]record.Record, 0, len(lines))
	for _, line := range lines {
		rec, ok := record.Parse(line)
		require.True(t, ok, line)
		records = append(records, rec)
	}
	return records
}

func seq(records []record.Record) iter.Seq[record.Record] {
	return slices.Values(records)
}

func mergeTwo(t *testing.T, a, b []record.Record) []record.Record {
	t.Helper()
	var buf bytes.Buffer
	w := recordio.NewWriter(&buf)
	require.NoError(t, Two(w, seq(a), seq(b)))
	require.NoError(t, w.Flush())

	out, err := recordio.ReadRecords(&buf)
	require.NoError(t, err)
	return out
}

func TestTwo(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{
			name: "interleaved",
			a:    []string{"2. apple", "5. cherry"},
			b:    []string{"1. apple", "3. banana"},
			want: []string{"1. apple", "2. apple", "3. banana", "5. cherry"},
		},
		{
			name: "left empty",
			b:    []string{"1. a", "2. b"},
			want: []string{"1. a", "2. b"},
		},
		{
			name: "right empty",
			a:    []string{"1. a", "2. b"},
			want: []string{"1. a", "2. b"},
		},
		{
			name: "both empty",
		},
		{
			name: "duplicates across runs",
			a:    []string{"1. a", "1. a"},
			b:    []string{"1. a", "2. a"},
			want: []string{"1. a", "1. a", "1. a", "2. a"},
		},
		{
			name: "text before number",
			a:    []string{"9. a"},
			b:    []string{"1. b"},
			want: []string{"9. a", "1. b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeTwo(t, parse(t, tt.a...), parse(t, tt.b...))
			assert.Equal(t, parse(t, tt.want...), got)
		})
	}
}

func TestTwo_UnsortedInput(t *testing.T) {
	var buf bytes.Buffer
	w := recordio.NewWriter(&buf)

	err := Two(w, seq(parse(t, "2. b", "1. a")), seq(nil))
	assert.ErrorIs(t, err, recordio.ErrUnsorted)
}

func randomRun(rng *rand.Rand, n int) []record.Record {
	run := make([]record.Record, n)
	for i := range run {
		run[i] = record.Record{
			Number: rng.Int64N(100),
			Text:   string(rune('a'+rng.IntN(6))) + string(rune('a'+rng.IntN(6))),
		}
	}
	slices.SortFunc(run, record.Compare)
	return run
}

func TestTwo_Associative(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 20 {
		a := randomRun(rng, rng.IntN(50))
		b := randomRun(rng, rng.IntN(50))
		c := randomRun(rng, rng.IntN(50))

		left := mergeTwo(t, mergeTwo(t, a, b), c)
		right := mergeTwo(t, a, mergeTwo(t, b, c))

		assert.Equal(t, left, right)
		assert.True(t, slices.IsSortedFunc(left, record.Compare))
		assert.Len(t, left, len(a)+len(b)+len(c))
	}
}

func TestRunName(t *testing.T) {
	a := runName("/work/chunk_0_0.run", "/work/chunk_0_1.run")
	b := runName("chunk_0_0.run", "chunk_0_1.run")
	c := runName("/work/chunk_0_1.run", "/work/chunk_0_0.run")

	assert.Equal(t, a, b, "only base names count")
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "merge_"))
	assert.True(t, strings.HasSuffix(a, ".run"))
}

var errDiskFull = errors.New("disk full")

// flakyStore fails the creation of merged runs when fail says so. attempt
// counts the creations of one name, starting at 1. With limit set, a failing
// attempt gets a file that accepts limit bytes and then reports errDiskFull.
type flakyStore struct {
	*local.Storage
	mu       sync.Mutex
	attempts map[string]int
	fail     func(name string, attempt int) bool
	limit    int
	failures atomic.Int64
}

func newFlakyStore(s *local.Storage, fail func(name string, attempt int) bool) *flakyStore {
	return &flakyStore{Storage: s, attempts: make(map[string]int), fail: fail}
}

func (s *flakyStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if !strings.HasPrefix(name, "merge_") {
		return s.Storage.Create(ctx, name)
	}

	s.mu.Lock()
	s.attempts[name]++
	fail := s.fail(name, s.attempts[name])
	s.mu.Unlock()
	if fail && s.limit == 0 {
		s.failures.Add(1)
		return nil, errInjected
	}

	wc, err := s.Storage.Create(ctx, name)
	if err != nil || !fail {
		return wc, err
	}
	return &shortFile{WriteCloser: wc, left: s.limit, failures: &s.failures}, nil
}

type shortFile struct {
	io.WriteCloser
	left     int
	failures *atomic.Int64
}

func (f *shortFile) Write(p []byte) (int, error) {
	if len(p) <= f.left {
		f.left -= len(p)
		return f.WriteCloser.Write(p)
	}
	n, err := f.WriteCloser.Write(p[:f.left])
	f.left = 0
	if err == nil {
		f.failures.Add(1)
		err = errDiskFull
	}
	return n, err
}

type fixture struct {
	store  *local.Storage
	pool   *runpool.Pool
	output string
	input  []record.Record
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := local.NewLocalStorage(filepath.Join(dir, "work"))
	require.NoError(t, err)
	return &fixture{
		store:  store,
		pool:   runpool.New(runpool.WithPollInterval(5 * time.Millisecond)),
		output: filepath.Join(dir, "sorted.txt"),
	}
}

// addRun publishes records as a sorted run and pushes it to the pool.
func (f *fixture) addRun(t *testing.T, name string, records []record.Record) string {
	t.Helper()
	ctx := context.Background()

	sorted := slices.Clone(records)
	slices.SortFunc(sorted, record.Compare)

	wc, err := f.store.Create(ctx, name)
	require.NoError(t, err)
	w := recordio.NewWriter(wc)
	for _, rec := range sorted {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, wc.Close())

	path, err := f.store.Publish(ctx, name)
	require.NoError(t, err)
	f.pool.Push(path)
	f.input = append(f.input, records...)
	return path
}

func (f *fixture) addRandomRuns(t *testing.T, seed uint64, runs int) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := range runs {
		f.addRun(t, fmt.Sprintf("chunk_%d_0.run", i), randomRun(rng, rng.IntN(40)))
	}
}

func (f *fixture) readOutput(t *testing.T) []record.Record {
	t.Helper()
	file, err := os.Open(f.output)
	require.NoError(t, err)
	defer file.Close()

	out, err := recordio.ReadRecords(file)
	require.NoError(t, err)
	return out
}

func (f *fixture) wantOutput() []record.Record {
	want := slices.Clone(f.input)
	slices.SortFunc(want, record.Compare)
	return want
}

func (f *fixture) assertOnlyOutput(t *testing.T) {
	t.Helper()
	runs, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs, "every run should be merged and removed")
}

type countingObserver struct {
	merges, retries, records atomic.Int64
}

func (o *countingObserver) MergeDone(records int64) {
	o.merges.Add(1)
	o.records.Add(records)
}

func (o *countingObserver) MergeRetried() {
	o.retries.Add(1)
}

type newMerger func(store Store) Merger

var mergers = map[string]newMerger{
	"kway heap":  func(s Store) Merger { return NewKWay(s) },
	"kway loser": func(s Store) Merger { return NewKWay(s, WithLoserTree()) },
	"tournament": func(s Store) Merger { return NewTournament(s, WithWorkers(4)) },
}

func TestMerger_Merge(t *testing.T) {
	tests := []struct {
		name string
		runs int
	}{
		{name: "no runs", runs: 0},
		{name: "single run", runs: 1},
		{name: "two runs", runs: 2},
		{name: "odd number of runs", runs: 7},
		{name: "many runs", runs: 60},
	}

	for name, factory := range mergers {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				f := newFixture(t)
				f.addRandomRuns(t, uint64(tt.runs), tt.runs)
				f.pool.Finish()

				stats, err := factory(f.store).Merge(context.Background(), f.pool, f.output)
				require.NoError(t, err)

				got := f.readOutput(t)
				assert.Equal(t, len(f.wantOutput()), len(got))
				if len(got) > 0 {
					assert.Equal(t, f.wantOutput(), got)
				}
				assert.True(t, slices.IsSortedFunc(got, record.Compare))
				f.assertOnlyOutput(t)

				if tt.runs > 1 {
					assert.Positive(t, stats.Merges)
				}
			})
		}
	}
}

func TestMerger_Scenario(t *testing.T) {
	for name, factory := range mergers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.addRun(t, "chunk_0_0.run", parse(t, "2. apple", "5. cherry"))
			f.addRun(t, "chunk_0_1.run", parse(t, "1. apple", "3. banana"))
			f.pool.Finish()

			_, err := factory(f.store).Merge(context.Background(), f.pool, f.output)
			require.NoError(t, err)

			content, err := os.ReadFile(f.output)
			require.NoError(t, err)
			assert.Equal(t, "1. apple\n2. apple\n3. banana\n5. cherry\n", string(content))
		})
	}
}

func TestMerger_ByteIdentical(t *testing.T) {
	var outputs [][]byte
	for _, name := range []string{"kway heap", "kway loser", "tournament"} {
		f := newFixture(t)
		f.addRandomRuns(t, 42, 25)
		f.pool.Finish()

		_, err := mergers[name](f.store).Merge(context.Background(), f.pool, f.output)
		require.NoError(t, err)

		content, err := os.ReadFile(f.output)
		require.NoError(t, err)
		outputs = append(outputs, content)
	}

	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[0], outputs[2])
}

func TestKWay_WaitsForProduction(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "chunk_0_0.run", parse(t, "2. b"))

	done := make(chan error, 1)
	go func() {
		_, err := NewKWay(f.store).Merge(context.Background(), f.pool, f.output)
		done <- err
	}()

	f.addRun(t, "chunk_1_0.run", parse(t, "1. a"))
	f.pool.Finish()

	require.NoError(t, <-done)
	assert.Equal(t, parse(t, "1. a", "2. b"), f.readOutput(t))
}

func TestKWay_CorruptRun(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "chunk_0_0.run", parse(t, "1. a"))
	path := f.addRun(t, "chunk_0_1.run", parse(t, "2. b"))
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o600))
	f.pool.Finish()

	_, err := NewKWay(f.store).Merge(context.Background(), f.pool, f.output)
	assert.ErrorIs(t, err, recordio.ErrCorruptRun)
	assert.NoFileExists(t, f.output)
}

func TestTournament_OverlapsProduction(t *testing.T) {
	f := newFixture(t)
	obs := &countingObserver{}
	m := NewTournament(f.store, WithWorkers(3), WithTournamentObserver(obs))

	done := make(chan error, 1)
	go func() {
		_, err := m.Merge(context.Background(), f.pool, f.output)
		done <- err
	}()

	rng := rand.New(rand.NewPCG(9, 9))
	for i := range 30 {
		f.addRun(t, fmt.Sprintf("chunk_%d_0.run", i), randomRun(rng, 10))
	}
	f.pool.Finish()

	require.NoError(t, <-done)
	assert.Equal(t, f.wantOutput(), f.readOutput(t))
	assert.Equal(t, int64(29), obs.merges.Load())
	f.assertOnlyOutput(t)
}

func TestTournament_RetriesInjectedFailures(t *testing.T) {
	f := newFixture(t)
	f.addRandomRuns(t, 11, 20)
	f.pool.Finish()

	// The first attempt of every merge fails.
	store := newFlakyStore(f.store, func(_ string, attempt int) bool { return attempt == 1 })
	obs := &countingObserver{}
	m := NewTournament(store,
		WithWorkers(4),
		WithBackOff(ConstantBackOff(time.Millisecond, 1000)),
		WithTournamentObserver(obs),
	)

	stats, err := m.Merge(context.Background(), f.pool, f.output)
	require.NoError(t, err)

	assert.Equal(t, f.wantOutput(), f.readOutput(t), "no record may be lost")
	assert.GreaterOrEqual(t, stats.Retries, int64(19))
	assert.Equal(t, stats.Retries, obs.retries.Load())
	assert.Equal(t, int64(19), stats.Merges)
	f.assertOnlyOutput(t)
}

func TestTournament_RetriesPartialWrites(t *testing.T) {
	f := newFixture(t)
	f.addRandomRuns(t, 12, 12)
	f.pool.Finish()

	// The first attempt of every merge runs out of space after 64 bytes.
	store := newFlakyStore(f.store, func(_ string, attempt int) bool { return attempt == 1 })
	store.limit = 64
	m := NewTournament(store,
		WithWorkers(4),
		WithBackOff(ConstantBackOff(time.Millisecond, 1000)),
	)

	stats, err := m.Merge(context.Background(), f.pool, f.output)
	require.NoError(t, err)

	assert.Equal(t, f.wantOutput(), f.readOutput(t), "no record may be lost")
	assert.Positive(t, store.failures.Load())
	assert.Equal(t, store.failures.Load(), stats.Retries)
	assert.Equal(t, int64(11), stats.Merges)
	f.assertOnlyOutput(t)

	pending, err := os.ReadDir(filepath.Join(f.store.Dir(), "pending"))
	require.NoError(t, err)
	assert.Empty(t, pending, "partial runs must be discarded")
}

func TestTournament_EscalatesPersistentFailure(t *testing.T) {
	f := newFixture(t)
	a := f.addRun(t, "chunk_0_0.run", parse(t, "1. a"))
	b := f.addRun(t, "chunk_0_1.run", parse(t, "2. b"))
	f.pool.Finish()

	store := newFlakyStore(f.store, func(string, int) bool { return true })
	m := NewTournament(store, WithWorkers(1), WithBackOff(ConstantBackOff(time.Millisecond, 2)))

	stats, err := m.Merge(context.Background(), f.pool, f.output)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, int64(2), stats.Retries, "the last attempt is not retried")
	assert.Equal(t, int64(3), store.failures.Load())

	// The inputs survive the failure.
	assert.FileExists(t, a)
	assert.FileExists(t, b)
	assert.ElementsMatch(t, []string{a, b}, f.pool.Remaining())
	assert.NoFileExists(t, f.output)
}

func TestTournament_MissingRun(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "chunk_0_0.run", parse(t, "2. b"))
	gone := f.addRun(t, "chunk_0_1.run", parse(t, "9. gone"))
	f.addRun(t, "chunk_0_2.run", parse(t, "1. a"))
	f.pool.Finish()
	require.NoError(t, os.Remove(gone))

	_, err := NewTournament(f.store, WithWorkers(2)).Merge(context.Background(), f.pool, f.output)
	require.NoError(t, err)

	assert.Equal(t, parse(t, "1. a", "2. b"), f.readOutput(t))
}

func TestTournament_Cancel(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "chunk_0_0.run", parse(t, "1. a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewTournament(f.store, WithWorkers(2)).Merge(ctx, f.pool, f.output)
		done <- err
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFinish_TooManyRuns(t *testing.T) {
	f := newFixture(t)
	a := f.addRun(t, "chunk_0_0.run", parse(t, "1. a"))
	b := f.addRun(t, "chunk_0_1.run", parse(t, "2. b"))

	err := finish(context.Background(), f.store, []string{a, b}, f.output)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestMerger_MemoryStore(t *testing.T) {
	for name, factory := range mergers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewMemoryStorage("/work")
			pool := runpool.New(runpool.WithPollInterval(5 * time.Millisecond))

			for i, lines := range [][]string{{"3. c", "4. d"}, {"1. a"}, {"2. b", "5. e"}} {
				file := fmt.Sprintf("chunk_%d_0.run", i)
				wc, err := store.Create(ctx, file)
				require.NoError(t, err)
				w := recordio.NewWriter(wc)
				for _, rec := range parse(t, lines...) {
					require.NoError(t, w.Write(rec))
				}
				require.NoError(t, w.Flush())
				require.NoError(t, wc.Close())
				path, err := store.Publish(ctx, file)
				require.NoError(t, err)
				pool.Push(path)
			}
			pool.Finish()

			output := filepath.Join(t.TempDir(), "sorted.txt")
			_, err := factory(store).Merge(ctx, pool, output)
			require.NoError(t, err)

			content, err := os.ReadFile(output)
			require.NoError(t, err)
			assert.Equal(t, "1. a\n2. b\n3. c\n4. d\n5. e\n", string(content))

			left, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}
