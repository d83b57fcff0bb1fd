package batcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
)

type recordingScorer struct {
	mu        sync.Mutex
	batches   [][]int
	fail      bool
	callDelay time.Duration
}

func (r *recordingScorer) BatchScore(ctx domain.Context, features [][]float32) ([]float32, error) {
	if r.callDelay > 0 {
		time.Sleep(r.callDelay)
	}
	r.mu.Lock()
	r.batches = append(r.batches, []int{len(features)})
	r.mu.Unlock()
	if r.fail {
		return nil, errors.New("boom")
	}
	out := make([]float32, len(features))
	for i, row := range features {
		out[i] = row[0]
	}
	return out, nil
}

func (r *recordingScorer) Loaded() bool { return true }

func testConfig() config.Config {
	return config.Config{
		BatcherMaxBatchSize: 4,
		BatcherTimeout:      20 * time.Millisecond,
		BatcherWorkers:      2,
		BatcherCallDeadline: 500 * time.Millisecond,
		BatcherMaxQueueMult: 8,
	}
}

func TestBatcher_FlushesBySize(t *testing.T) {
	sc := &recordingScorer{}
	b := New(testConfig(), sc)

	var wg sync.WaitGroup
	results := make([]float32, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Score(context.Background(), []float32{float32(i)})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, float32(i), v)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	require.Len(t, sc.batches, 1)
	assert.Equal(t, 4, sc.batches[0][0])
}

func TestBatcher_FlushesByTimeout(t *testing.T) {
	sc := &recordingScorer{}
	b := New(testConfig(), sc)

	v, err := b.Score(context.Background(), []float32{42})
	require.NoError(t, err)
	assert.Equal(t, float32(42), v)

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.ItemsScored)
}

func TestBatcher_InferenceErrorFailsWholeBatch(t *testing.T) {
	sc := &recordingScorer{fail: true}
	b := New(testConfig(), sc)

	_, err := b.Score(context.Background(), []float32{1})
	require.Error(t, err)
	assert.Equal(t, domain.KindInferenceError, domain.KindOf(err))
}

func TestBatcher_OverloadedWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.BatcherMaxQueueMult = 1
	cfg.BatcherMaxBatchSize = 1
	cfg.BatcherCallDeadline = 2 * time.Second
	sc := &recordingScorer{callDelay: 200 * time.Millisecond}
	b := New(cfg, sc)

	// Saturate the queue (maxQueueDepth = 1*1 = 1) with in-flight calls, then
	// expect the next enqueue to be rejected.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = b.Score(context.Background(), []float32{1})
	}()
	time.Sleep(10 * time.Millisecond) // let the first call claim queue depth

	_, err := b.Score(context.Background(), []float32{2})
	require.Error(t, err)
	assert.Equal(t, domain.KindOverloaded, domain.KindOf(err))
	wg.Wait()
}

func TestBatcher_CallDeadlineTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.BatcherCallDeadline = 5 * time.Millisecond
	cfg.BatcherTimeout = time.Hour // never flush by timeout
	cfg.BatcherMaxBatchSize = 100
	sc := &recordingScorer{}
	b := New(cfg, sc)

	_, err := b.Score(context.Background(), []float32{1})
	require.Error(t, err)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
}
