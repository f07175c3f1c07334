package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/engines"
	"github.com/cryguy/turbox/internal/instance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, workers int, rec Recorder, mutate func(*Options)) *Pool {
	t.Helper()
	dir, reg := testApp(t)
	opts := Options{
		Workers:  workers,
		Registry: reg,
		Instance: instance.Options{
			Engine:  engines.Default(),
			Runtime: core.RuntimeOptions{MemoryLimitMB: 64},
			WorkDir: dir,
		},
		Recorder: rec,
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := NewPool(opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPoolDispatch(t *testing.T) {
	p := testPool(t, 2, nil, nil)
	ctx := context.Background()

	res, err := p.Dispatch(ctx, getReq("/ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(res.Response.Body))

	res, err = p.Dispatch(ctx, getReq("/missing"))
	require.NoError(t, err)
	assert.Equal(t, 404, res.Response.StatusCode)
}

func TestPoolPerWorkerCounters(t *testing.T) {
	const workers, perWorker = 4, 25
	p := testPool(t, workers, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]string, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				res, err := p.DispatchTo(ctx, w, getReq("/counter"))
				if err != nil {
					t.Error(err)
					return
				}
				results[w] = append(results[w], string(res.Response.Body))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		require.Len(t, results[w], perWorker)
		for i, got := range results[w] {
			assert.Equal(t, strconv.Itoa(i+1), got, "worker %d request %d", w, i)
		}
	}
}

func TestPoolSharedQueueSequentialPerWorker(t *testing.T) {
	const workers, requests = 3, 60
	rec := newRecorder()
	p := testPool(t, workers, rec, nil)
	ctx := context.Background()

	var mu sync.Mutex
	byWorker := map[int][]int{}
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Dispatch(ctx, getReq("/counter"))
			if err != nil {
				t.Error(err)
				return
			}
			n, err := strconv.Atoi(string(res.Response.Body))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			byWorker[res.Worker] = append(byWorker[res.Worker], n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := 0
	for w, seen := range byWorker {
		// Each worker's counter counts only that worker's requests.
		assert.ElementsMatch(t, seq(len(seen)), seen, "worker %d", w)
		total += len(seen)
	}
	assert.Equal(t, requests, total)
	assert.LessOrEqual(t, rec.get(&rec.made), workers)
	assert.Equal(t, requests, rec.states["Responded"])
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPoolFailingHandlerDoesNotPoisonWorker(t *testing.T) {
	p := testPool(t, 1, nil, nil)
	ctx := context.Background()

	res, err := p.DispatchTo(ctx, 0, getReq("/fail"))
	require.NoError(t, err)
	assert.Equal(t, 500, res.Response.StatusCode)

	res, err = p.DispatchTo(ctx, 0, getReq("/ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(res.Response.Body))
}

func TestPoolInstanceFailureStopsWorkers(t *testing.T) {
	rec := newRecorder()
	p := testPool(t, 2, rec, func(o *Options) {
		o.Instance.CheckExtensions = true
		o.Instance.Extensions = []core.Extension{{Name: "legacy"}}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.DispatchTo(ctx, i, getReq("/ping"))
		require.NoError(t, err)
		assert.Equal(t, "InstanceFailed", res.State)
		assert.Equal(t, 500, res.Response.StatusCode)
	}

	require.Eventually(t, func() bool { return p.Alive() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, err := p.Dispatch(ctx, getReq("/ping"))
	assert.ErrorIs(t, err, core.ErrPoolClosed)
	_, err = p.DispatchTo(ctx, 0, getReq("/ping"))
	assert.ErrorIs(t, err, core.ErrPoolClosed)
	assert.Equal(t, 2, rec.get(&rec.failed))
}

func TestPoolUnroutedRequestsDoNotCreateInstances(t *testing.T) {
	rec := newRecorder()
	p := testPool(t, 2, rec, nil)
	for i := 0; i < 10; i++ {
		_, err := p.Dispatch(context.Background(), getReq(fmt.Sprintf("/nothing/%d", i)))
		require.NoError(t, err)
	}
	assert.Zero(t, rec.get(&rec.made))
}

func TestPoolContextCanceled(t *testing.T) {
	p := testPool(t, 1, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Dispatch(ctx, getReq("/ping"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolClose(t *testing.T) {
	rec := newRecorder()
	p := testPool(t, 3, rec, nil)
	assert.Equal(t, 3, p.Size())
	_, err := p.Dispatch(context.Background(), getReq("/ping"))
	require.NoError(t, err)

	p.Close()
	p.Close()
	_, err = p.Dispatch(context.Background(), getReq("/ping"))
	assert.ErrorIs(t, err, core.ErrPoolClosed)
	assert.Equal(t, 3, rec.get(&rec.up))
	assert.Equal(t, 3, rec.get(&rec.down))
}

func TestPoolBadWorkerIndex(t *testing.T) {
	p := testPool(t, 1, nil, nil)
	_, err := p.DispatchTo(context.Background(), 5, getReq("/ping"))
	assert.Error(t, err)
}
